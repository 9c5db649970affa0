// Package events defines the closed set of wire messages exchanged with
// clients. Every payload is a tagged variant validated at the boundary before
// it reaches the lobby service; nothing duck-typed crosses into the core.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/ridepulse/internal/models"
)

// Client -> relay request kinds.
const (
	ReqCreateLobby      = "create_lobby"
	ReqJoinLobby        = "join_lobby"
	ReqStartRide        = "start_ride"
	ReqEndRide          = "end_ride"
	ReqCancelLobby      = "cancel_lobby"
	ReqUpdateLocation   = "update_location"
	ReqLeaveLobby       = "leave_lobby"
	ReqRemoveMember     = "remove_member"
	ReqBroadcastMessage = "broadcast_message"
)

// Relay -> client event kinds.
const (
	EvtLobbyCreated   = "lobby_created"
	EvtJoinSuccess    = "join_success"
	EvtLobbySnapshot  = "lobby_snapshot"
	EvtRiderJoined    = "rider_joined"
	EvtRideStarted    = "ride_started"
	EvtRideEnded      = "ride_ended"
	EvtLobbyCancelled = "lobby_cancelled"
	EvtRiderLocation  = "rider_location_update"
	EvtRiderLeft      = "rider_left"
	EvtMemberRemoved  = "member_removed"
	EvtMessage        = "message_received"
	EvtError          = "error"
)

// Envelope is the frame actually sent over the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an outbound frame.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Request payloads.

type CreateLobby struct {
	HostName string `json:"host_name"`
	Vehicle  string `json:"vehicle,omitempty"`
}

func (r CreateLobby) Validate() error {
	if r.HostName == "" {
		return fmt.Errorf("host_name is required")
	}
	return nil
}

type JoinLobby struct {
	Code     string `json:"code"`
	UserName string `json:"user_name"`
	Vehicle  string `json:"vehicle,omitempty"`
}

func (r JoinLobby) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if r.UserName == "" {
		return fmt.Errorf("user_name is required")
	}
	return nil
}

// CodeOnly covers start_ride, end_ride, cancel_lobby and leave_lobby.
type CodeOnly struct {
	Code string `json:"code"`
}

func (r CodeOnly) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	return nil
}

type UpdateLocation struct {
	Code      string  `json:"code"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
}

func (r UpdateLocation) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("latitude out of range")
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("longitude out of range")
	}
	return nil
}

type RemoveMember struct {
	Code     string `json:"code"`
	TargetID string `json:"target_id"`
}

func (r RemoveMember) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if r.TargetID == "" {
		return fmt.Errorf("target_id is required")
	}
	return nil
}

type BroadcastMessage struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

func (r BroadcastMessage) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if r.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// validator is implemented by every request payload.
type validator interface{ Validate() error }

// DecodeRequest parses and validates an inbound envelope into its typed
// payload. Unknown event names are rejected here, never deeper in.
func DecodeRequest(env Envelope) (any, error) {
	var payload validator
	switch env.Event {
	case ReqCreateLobby:
		payload = &CreateLobby{}
	case ReqJoinLobby:
		payload = &JoinLobby{}
	case ReqStartRide, ReqEndRide, ReqCancelLobby, ReqLeaveLobby:
		payload = &CodeOnly{}
	case ReqUpdateLocation:
		payload = &UpdateLocation{}
	case ReqRemoveMember:
		payload = &RemoveMember{}
	case ReqBroadcastMessage:
		payload = &BroadcastMessage{}
	default:
		return nil, fmt.Errorf("unknown event %q", env.Event)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Event, err)
		}
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", env.Event, err)
	}
	return payload, nil
}

// Outbound payloads. Fan-out events carry the member list alongside the
// specific change so a client can always refresh its cached snapshot.

type LobbyCreated struct {
	Code    string          `json:"code"`
	RiderID string          `json:"rider_id"`
	Members []*models.Rider `json:"members"`
}

type JoinSuccess struct {
	Code    string          `json:"code"`
	RiderID string          `json:"rider_id"`
	Members []*models.Rider `json:"members"`
}

type RiderJoined struct {
	Code    string          `json:"code"`
	Rider   *models.Rider   `json:"rider"`
	Members []*models.Rider `json:"members"`
}

type RideStatus struct {
	Code    string             `json:"code"`
	Status  models.LobbyStatus `json:"status"`
	Members []*models.Rider    `json:"members"`
}

type RiderLocation struct {
	RiderID   string  `json:"rider_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
}

type RiderLeft struct {
	Code    string          `json:"code"`
	RiderID string          `json:"rider_id"`
	Members []*models.Rider `json:"members"`
}

type MemberRemoved struct {
	Code     string          `json:"code"`
	TargetID string          `json:"target_id"`
	Members  []*models.Rider `json:"members"`
}

type Message struct {
	Code      string    `json:"code"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
