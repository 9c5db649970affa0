package models

import "time"

// LobbyStatus is the lifecycle state of a ride lobby.
// waiting -> active -> completed; waiting -> cancelled.
// completed and cancelled are terminal.
type LobbyStatus string

const (
	StatusWaiting   LobbyStatus = "waiting"
	StatusActive    LobbyStatus = "active"
	StatusCompleted LobbyStatus = "completed"
	StatusCancelled LobbyStatus = "cancelled"
)

// Terminal reports whether no further status transitions are allowed.
func (s LobbyStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Location is a rider's last self-reported coordinate. It is overwritten on
// every update; history, if any, lives downstream of the telemetry pipeline.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Updated   time.Time `json:"updated"`
}

// Rider is a member of a lobby. The record survives the rider going offline;
// only an explicit host removal deletes it.
type Rider struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Vehicle  string    `json:"vehicle,omitempty"`
	IsHost   bool      `json:"is_host"`
	IsOnline bool      `json:"is_online"`
	Location *Location `json:"location,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// Lobby is a code-addressed ride group. The session store owns these records;
// anything handed to callers is a deep copy.
type Lobby struct {
	Code      string      `json:"code"`
	HostID    string      `json:"host_id"`
	Status    LobbyStatus `json:"status"`
	Members   []*Rider    `json:"members"` // insertion order, ids unique
	CreatedAt time.Time   `json:"created_at"`
	StartedAt time.Time   `json:"started_at,omitzero"`
	EndedAt   time.Time   `json:"ended_at,omitzero"`
}

// Member returns the rider with the given id, or nil.
func (l *Lobby) Member(id string) *Rider {
	for _, r := range l.Members {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// RemoveMemberByID deletes the rider record, preserving insertion order of the
// rest. Reports whether the rider was present.
func (l *Lobby) RemoveMemberByID(id string) bool {
	for i, r := range l.Members {
		if r.ID == id {
			l.Members = append(l.Members[:i], l.Members[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so store internals never alias caller state.
func (l *Lobby) Clone() *Lobby {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Members = make([]*Rider, len(l.Members))
	for i, r := range l.Members {
		rc := *r
		if r.Location != nil {
			loc := *r.Location
			rc.Location = &loc
		}
		cp.Members[i] = &rc
	}
	return &cp
}

// RideSummary is the archived record of a completed ride.
type RideSummary struct {
	Code        string
	HostID      string
	MemberCount int
	StartedAt   time.Time
	EndedAt     time.Time
}
