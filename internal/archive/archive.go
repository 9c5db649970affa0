// Package archive records completed rides for the history/stats surface.
// Live lobby state never lives here; only terminal summaries do.
package archive

import (
	"context"
	"sync"

	"github.com/example/ridepulse/internal/models"
)

// RideArchive persists one summary per completed ride.
type RideArchive interface {
	SaveRide(ctx context.Context, s models.RideSummary) error
}

type MemoryArchive struct {
	mu    sync.Mutex
	rides []models.RideSummary
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{}
}

func (m *MemoryArchive) SaveRide(_ context.Context, s models.RideSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides = append(m.rides, s)
	return nil
}

// Rides returns a copy of everything archived so far.
func (m *MemoryArchive) Rides() []models.RideSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RideSummary, len(m.rides))
	copy(out, m.rides)
	return out
}
