// Package dispatch fans lobby events out to subscribers. A subscriber is
// either a live websocket session or an in-process handler; both hang off a
// named room per lobby code.
package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ridepulse/internal/events"
	"github.com/example/ridepulse/internal/lobby"
	"github.com/example/ridepulse/internal/models"
)

type subscriber struct {
	riderID string
	handler lobby.EventHandler
}

// Registry holds per-lobby subscriber rooms. Delivery is synchronous and
// best-effort: a slow or broken websocket drops its own frames, it does not
// stall the room.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[int64]*subscriber
	nextID int64
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{rooms: make(map[string]map[int64]*subscriber), logger: logger}
}

// Subscribe registers a handler for one lobby's events and returns its cancel
// func. riderID identifies the subscriber for origin exclusion on location
// fan-out; observers pass "".
func (r *Registry) Subscribe(code, riderID string, h lobby.EventHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	room, ok := r.rooms[code]
	if !ok {
		room = make(map[int64]*subscriber)
		r.rooms[code] = room
	}
	room[id] = &subscriber{riderID: riderID, handler: h}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if room, ok := r.rooms[code]; ok {
			delete(room, id)
			if len(room) == 0 {
				delete(r.rooms, code)
			}
		}
	}
}

// Subscribers reports the number of subscribers in a lobby's room.
func (r *Registry) Subscribers(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[code])
}

// publish delivers one event to every subscriber of the room, skipping the
// subscriber whose rider id equals exclude.
func (r *Registry) publish(code, event string, payload any, exclude string) {
	r.mu.RLock()
	subs := make([]*subscriber, 0, len(r.rooms[code]))
	for _, s := range r.rooms[code] {
		subs = append(subs, s)
	}
	r.mu.RUnlock()
	for _, s := range subs {
		if exclude != "" && s.riderID == exclude {
			continue
		}
		s.handler(event, payload)
	}
}

// lobby.Notifier implementation.

func (r *Registry) RiderJoined(l *models.Lobby, rider *models.Rider) {
	r.publish(l.Code, events.EvtRiderJoined, events.RiderJoined{Code: l.Code, Rider: rider, Members: l.Members}, "")
}

func (r *Registry) RiderLeft(l *models.Lobby, riderID string) {
	r.publish(l.Code, events.EvtRiderLeft, events.RiderLeft{Code: l.Code, RiderID: riderID, Members: l.Members}, "")
}

func (r *Registry) MemberRemoved(l *models.Lobby, targetID string) {
	r.publish(l.Code, events.EvtMemberRemoved, events.MemberRemoved{Code: l.Code, TargetID: targetID, Members: l.Members}, "")
}

func (r *Registry) RideStarted(l *models.Lobby) {
	r.publish(l.Code, events.EvtRideStarted, events.RideStatus{Code: l.Code, Status: l.Status, Members: l.Members}, "")
}

func (r *Registry) RideEnded(l *models.Lobby) {
	r.publish(l.Code, events.EvtRideEnded, events.RideStatus{Code: l.Code, Status: l.Status, Members: l.Members}, "")
}

func (r *Registry) LobbyCancelled(l *models.Lobby) {
	r.publish(l.Code, events.EvtLobbyCancelled, events.RideStatus{Code: l.Code, Status: l.Status, Members: l.Members}, "")
}

func (r *Registry) Message(code, senderID, text string, ts time.Time) {
	r.publish(code, events.EvtMessage, events.Message{Code: code, SenderID: senderID, Text: text, Timestamp: ts}, "")
}

// RiderLocation fans a coordinate out to everyone except the reporting rider,
// who already owns the authoritative value.
func (r *Registry) RiderLocation(code, riderID string, loc models.Location) {
	payload := events.RiderLocation{
		RiderID:   riderID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Speed:     loc.Speed,
		Heading:   loc.Heading,
	}
	r.publish(code, events.EvtRiderLocation, payload, riderID)
}

// WSSession wraps a websocket connection with a write mutex so event fan-out
// and request replies never interleave frames.
type WSSession struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *slog.Logger
}

func NewWSSession(conn *websocket.Conn, logger *slog.Logger) *WSSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSession{conn: conn, logger: logger}
}

// SendEvent writes one envelope to the connection. Errors are returned for
// the caller to decide whether the session is dead.
func (s *WSSession) SendEvent(event string, payload any) error {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

// Handler adapts the session into a room subscriber. Write failures are
// logged and dropped; the read loop notices the dead connection and cleans up.
func (s *WSSession) Handler() lobby.EventHandler {
	return func(event string, payload any) {
		if err := s.SendEvent(event, payload); err != nil {
			s.logger.Debug("ws fan-out send failed", "event", event, "error", err)
		}
	}
}
