package store

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ridepulse/internal/models"
)

// ErrNotFound is returned when no lobby exists for a code. Callers translate
// it into their own taxonomy; it never crosses the service boundary.
var ErrNotFound = errors.New("lobby not found")

// SessionStore is the single shared mutable resource. Every operation is
// atomic with respect to concurrent calls for the same code; Update is the
// read-modify-write primitive, so concurrent joins for distinct riders on one
// code cannot lose members. No ordering is guaranteed across codes.
type SessionStore interface {
	Exists(ctx context.Context, code string) (bool, error)
	Get(ctx context.Context, code string) (*models.Lobby, error)
	Put(ctx context.Context, lobby *models.Lobby) error
	Remove(ctx context.Context, code string) error

	// Update applies fn to the stored lobby under the store's per-code
	// serialization and returns a snapshot of the result. If fn returns an
	// error the lobby is left untouched and the error is returned verbatim.
	Update(ctx context.Context, code string, fn func(*models.Lobby) error) (*models.Lobby, error)
}

// MemoryStore keeps lobbies in a mutex-guarded map. Ephemeral: a restart
// loses every lobby. Records are deep-copied on the way in and out, so the
// store is the only owner of live state.
type MemoryStore struct {
	mu      sync.RWMutex
	lobbies map[string]*models.Lobby
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lobbies: make(map[string]*models.Lobby)}
}

func (m *MemoryStore) Exists(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.lobbies[code]
	return ok, nil
}

func (m *MemoryStore) Get(_ context.Context, code string) (*models.Lobby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[code]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, lobby *models.Lobby) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobbies[lobby.Code] = lobby.Clone()
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lobbies, code)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, code string, fn func(*models.Lobby) error) (*models.Lobby, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[code]
	if !ok {
		return nil, ErrNotFound
	}
	next := l.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.lobbies[code] = next
	return next.Clone(), nil
}
