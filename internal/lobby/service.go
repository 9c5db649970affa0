package lobby

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ridepulse/internal/events"
	"github.com/example/ridepulse/internal/models"
	"github.com/example/ridepulse/internal/observability"
	"github.com/example/ridepulse/internal/store"
)

const defaultGenerateAttempts = 32

// EventHandler receives fan-out events for a subscribed lobby.
type EventHandler func(event string, payload any)

// Notifier is the subscription channel as the service sees it: push one event
// to every member of a lobby. Delivery is best-effort, no ordering across
// riders, no acknowledgment.
type Notifier interface {
	RiderJoined(lobby *models.Lobby, rider *models.Rider)
	RiderLeft(lobby *models.Lobby, riderID string)
	MemberRemoved(lobby *models.Lobby, targetID string)
	RideStarted(lobby *models.Lobby)
	RideEnded(lobby *models.Lobby)
	LobbyCancelled(lobby *models.Lobby)
	Message(code, senderID, text string, ts time.Time)

	// Subscribe registers an in-process handler for a lobby's events and
	// returns its cancel func. riderID may be empty for observers.
	Subscribe(code, riderID string, h EventHandler) (cancel func())
}

// Archive receives a summary once a ride completes.
type Archive interface {
	SaveRide(ctx context.Context, s models.RideSummary) error
}

// RiderInfo is the display metadata a client supplies when creating or
// joining a lobby. Nothing beyond presence is validated.
type RiderInfo struct {
	ID      string
	Name    string
	Vehicle string
}

// Service implements lobby lifecycle and membership against the session
// store. All mutation goes through the store's atomic Update, so each call
// either fully succeeds or fully fails.
type Service struct {
	Store    store.SessionStore
	Codes    CodeGenerator
	Notifier Notifier
	Archive  Archive // optional
	Logger   *slog.Logger

	// GenerateAttempts bounds the collision retry loop. Zero means default.
	GenerateAttempts int
}

func NewService(st store.SessionStore, codes CodeGenerator, n Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: st, Codes: codes, Notifier: n, Logger: logger}
}

// Create allocates a fresh code, retrying on collision, and persists a new
// waiting lobby whose only member is the host.
func (s *Service) Create(ctx context.Context, host RiderInfo) (string, *models.Lobby, error) {
	if host.ID == "" || strings.TrimSpace(host.Name) == "" {
		return "", nil, validationError("host name and id are required")
	}
	attempts := s.GenerateAttempts
	if attempts <= 0 {
		attempts = defaultGenerateAttempts
	}
	var code string
	for i := 0; ; i++ {
		if i >= attempts {
			// Only reachable when the code space is effectively exhausted.
			return "", nil, &Error{Kind: KindConflict, Message: "could not allocate a unique lobby code"}
		}
		code = s.Codes.Generate()
		exists, err := s.Store.Exists(ctx, code)
		if err != nil {
			return "", nil, internalError("session store unavailable", err)
		}
		if !exists {
			break
		}
		s.Logger.Debug("lobby code collision, retrying", "code", code, "attempt", i+1)
	}
	now := time.Now().UTC()
	lobby := &models.Lobby{
		Code:      code,
		HostID:    host.ID,
		Status:    models.StatusWaiting,
		CreatedAt: now,
		Members: []*models.Rider{{
			ID:       host.ID,
			Name:     strings.TrimSpace(host.Name),
			Vehicle:  host.Vehicle,
			IsHost:   true,
			IsOnline: true,
			JoinedAt: now,
		}},
	}
	if err := s.Store.Put(ctx, lobby); err != nil {
		return "", nil, internalError("could not persist lobby", err)
	}
	observability.LobbiesCreated.Inc()
	observability.LobbiesActive.Inc()
	s.Logger.Info("lobby created", "code", code, "host", host.ID)
	return code, lobby.Clone(), nil
}

// Join upserts a rider into the lobby. Rejoining with a known id flips the
// rider back online instead of duplicating the record. Joins are rejected
// once the lobby leaves waiting, except that existing members may reconnect
// while the ride is active.
func (s *Service) Join(ctx context.Context, code string, rider RiderInfo) (*models.Lobby, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, validationError("lobby code is required")
	}
	if rider.ID == "" || strings.TrimSpace(rider.Name) == "" {
		return nil, validationError("rider name and id are required")
	}
	var joined *models.Rider
	lobby, err := s.Store.Update(ctx, code, func(l *models.Lobby) error {
		existing := l.Member(rider.ID)
		if l.Status.Terminal() {
			return invalidStateError("ride %s has already ended", code)
		}
		if l.Status == models.StatusActive && existing == nil {
			return invalidStateError("ride %s is already underway", code)
		}
		if existing != nil {
			existing.IsOnline = true
			existing.Name = strings.TrimSpace(rider.Name)
			if rider.Vehicle != "" {
				existing.Vehicle = rider.Vehicle
			}
			joined = existing
			return nil
		}
		joined = &models.Rider{
			ID:       rider.ID,
			Name:     strings.TrimSpace(rider.Name),
			Vehicle:  rider.Vehicle,
			IsOnline: true,
			JoinedAt: time.Now().UTC(),
		}
		l.Members = append(l.Members, joined)
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "Lobby not found")
	}
	observability.RidersJoined.Inc()
	s.Notifier.RiderJoined(lobby, joined)
	return lobby, nil
}

// Leave marks the rider offline and tells the others. Leaving is best-effort
// cleanup: an unknown lobby or rider is a no-op, never an error.
func (s *Service) Leave(ctx context.Context, code, riderID string) {
	code = normalizeCode(code)
	lobby, err := s.Store.Update(ctx, code, func(l *models.Lobby) error {
		r := l.Member(riderID)
		if r == nil {
			return store.ErrNotFound
		}
		r.IsOnline = false
		return nil
	})
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.Logger.Warn("leave failed", "code", code, "rider", riderID, "error", err)
		}
		return
	}
	s.Notifier.RiderLeft(lobby, riderID)
}

// RemoveMember is a host-only control action that deletes the target's record
// and announces who was removed.
func (s *Service) RemoveMember(ctx context.Context, code, requesterID, targetID string) (*models.Lobby, error) {
	code = normalizeCode(code)
	var removedName string
	lobby, err := s.Store.Update(ctx, code, func(l *models.Lobby) error {
		if requesterID != l.HostID {
			return permissionError("Only the host can remove members")
		}
		if targetID == l.HostID {
			return validationError("the host cannot be removed from their own lobby")
		}
		target := l.Member(targetID)
		if target == nil {
			return notFoundError("rider is not a member of this lobby")
		}
		removedName = target.Name
		l.RemoveMemberByID(targetID)
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "Lobby not found")
	}
	s.Notifier.MemberRemoved(lobby, targetID)
	s.Notifier.Message(code, systemSender, removedName+" was removed from the ride by the host", time.Now().UTC())
	return lobby, nil
}

// StartRide transitions waiting -> active. Host-only.
func (s *Service) StartRide(ctx context.Context, code, requesterID string) (*models.Lobby, error) {
	code = normalizeCode(code)
	lobby, err := s.Store.Update(ctx, code, func(l *models.Lobby) error {
		if requesterID != l.HostID {
			return permissionError("Only the host can start the ride")
		}
		if l.Status != models.StatusWaiting {
			return invalidStateError("ride cannot be started from status %q", l.Status)
		}
		l.Status = models.StatusActive
		l.StartedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "Lobby not found")
	}
	observability.RidesStarted.Inc()
	s.Notifier.RideStarted(lobby)
	s.Logger.Info("ride started", "code", code)
	return lobby, nil
}

// EndRide transitions active -> completed and archives a summary. Host-only.
func (s *Service) EndRide(ctx context.Context, code, requesterID string) (*models.Lobby, error) {
	code = normalizeCode(code)
	lobby, err := s.Store.Update(ctx, code, func(l *models.Lobby) error {
		if requesterID != l.HostID {
			return permissionError("Only the host can end the ride")
		}
		if l.Status != models.StatusActive {
			return invalidStateError("ride cannot be ended from status %q", l.Status)
		}
		l.Status = models.StatusCompleted
		l.EndedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "Lobby not found")
	}
	observability.LobbiesActive.Dec()
	s.Notifier.RideEnded(lobby)
	if s.Archive != nil {
		summary := models.RideSummary{
			Code:        lobby.Code,
			HostID:      lobby.HostID,
			MemberCount: len(lobby.Members),
			StartedAt:   lobby.StartedAt,
			EndedAt:     lobby.EndedAt,
		}
		if err := s.Archive.SaveRide(ctx, summary); err != nil {
			s.Logger.Warn("could not archive ride", "code", code, "error", err)
		}
	}
	s.Logger.Info("ride completed", "code", code, "members", len(lobby.Members))
	return lobby, nil
}

// Cancel transitions waiting -> cancelled. Host-only.
func (s *Service) Cancel(ctx context.Context, code, requesterID string) (*models.Lobby, error) {
	code = normalizeCode(code)
	lobby, err := s.Store.Update(ctx, code, func(l *models.Lobby) error {
		if requesterID != l.HostID {
			return permissionError("Only the host can cancel the lobby")
		}
		if l.Status != models.StatusWaiting {
			return invalidStateError("lobby cannot be cancelled from status %q", l.Status)
		}
		l.Status = models.StatusCancelled
		l.EndedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "Lobby not found")
	}
	observability.LobbiesActive.Dec()
	s.Notifier.LobbyCancelled(lobby)
	return lobby, nil
}

// Broadcast fans a short text payload (quick messages, SOS alerts, system
// notices) to all lobby members. Not persisted here.
func (s *Service) Broadcast(ctx context.Context, code, senderID, text string) error {
	code = normalizeCode(code)
	if strings.TrimSpace(text) == "" {
		return validationError("message text is required")
	}
	lobby, err := s.Store.Get(ctx, code)
	if err != nil {
		return s.translate(err, "Lobby not found")
	}
	sender := lobby.Member(senderID)
	if sender == nil || !sender.IsOnline {
		return permissionError("You must be in the lobby to send messages")
	}
	observability.BroadcastsTotal.Inc()
	s.Notifier.Message(code, senderID, text, time.Now().UTC())
	return nil
}

// Snapshot returns the current lobby state.
func (s *Service) Snapshot(ctx context.Context, code string) (*models.Lobby, error) {
	lobby, err := s.Store.Get(ctx, normalizeCode(code))
	if err != nil {
		return nil, s.translate(err, "Lobby not found")
	}
	return lobby, nil
}

// Subscribe delivers the current full lobby state once, then incremental
// events until cancel is called.
func (s *Service) Subscribe(ctx context.Context, code, riderID string, h EventHandler) (func(), error) {
	code = normalizeCode(code)
	lobby, err := s.Store.Get(ctx, code)
	if err != nil {
		return nil, s.translate(err, "Lobby not found")
	}
	h(events.EvtLobbySnapshot, lobby)
	return s.Notifier.Subscribe(code, riderID, h), nil
}

const systemSender = "system"

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// translate converts store-level failures into the public taxonomy; service
// errors produced inside Update callbacks pass through untouched.
func (s *Service) translate(err error, notFoundMsg string) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, store.ErrNotFound) {
		return notFoundError("%s", notFoundMsg)
	}
	return internalError("session store unavailable", err)
}
