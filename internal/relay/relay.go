// Package relay accepts rider coordinate updates and fans them out to the
// rest of the lobby. Updates are at-most-once telemetry: anything failing a
// precondition is dropped, never surfaced as a user-facing error.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ridepulse/internal/models"
	"github.com/example/ridepulse/internal/observability"
	"github.com/example/ridepulse/internal/store"
)

// Notifier delivers one rider's coordinate to the other members.
type Notifier interface {
	RiderLocation(code, riderID string, loc models.Location)
}

// Publisher mirrors accepted updates into the telemetry pipeline.
type Publisher interface {
	PublishLocation(ctx context.Context, code, riderID string, loc models.Location) error
}

var errDropped = errors.New("update dropped")

// Relay overwrites a rider's last-known location and broadcasts it. No
// smoothing, dedup or rate limiting happens here; clients sample before
// sending.
type Relay struct {
	Store     store.SessionStore
	Notifier  Notifier
	Publisher Publisher // optional
	Logger    *slog.Logger
}

func New(st store.SessionStore, n Notifier, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{Store: st, Notifier: n, Logger: logger}
}

// UpdateLocation records and fans out one coordinate report. The rider must
// be an online member of the lobby; otherwise the report signals an actor
// outside the lobby's live view and is silently dropped.
func (r *Relay) UpdateLocation(ctx context.Context, code, riderID string, loc models.Location) {
	loc.Updated = time.Now().UTC()
	_, err := r.Store.Update(ctx, code, func(l *models.Lobby) error {
		member := l.Member(riderID)
		if member == nil || !member.IsOnline {
			return errDropped
		}
		cp := loc
		member.Location = &cp
		return nil
	})
	if err != nil {
		observability.LocationDrops.Inc()
		if !errors.Is(err, errDropped) && !errors.Is(err, store.ErrNotFound) {
			r.Logger.Warn("location update failed", "code", code, "rider", riderID, "error", err)
		} else {
			r.Logger.Debug("location update dropped", "code", code, "rider", riderID)
		}
		return
	}
	observability.LocationUpdates.Inc()
	r.Notifier.RiderLocation(code, riderID, loc)
	if r.Publisher != nil {
		if err := r.Publisher.PublishLocation(ctx, code, riderID, loc); err != nil {
			r.Logger.Debug("location publish failed", "code", code, "rider", riderID, "error", err)
		}
	}
}
