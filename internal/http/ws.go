package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/ridepulse/internal/dispatch"
	"github.com/example/ridepulse/internal/events"
	"github.com/example/ridepulse/internal/lobby"
	"github.com/example/ridepulse/internal/models"
	"github.com/example/ridepulse/internal/observability"
)

const maxMessageSize = 4096

var upgrader = websocket.Upgrader{
	// The mobile clients connect from app webviews and native code alike;
	// auth happens out of band, so cross-origin upgrades are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS runs the per-connection event loop: decode a tagged request,
// invoke the service, let fan-out answer through the connection's
// subscriptions. One connection is one rider.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Debug("ws upgrade failed", "error", err)
		return
	}
	riderID := r.URL.Query().Get("rider_id")
	if riderID == "" {
		riderID = newID()
	}
	observability.WSConnections.Inc()
	c := &wsConn{
		server:  s,
		session: dispatch.NewWSSession(conn, s.logger),
		riderID: riderID,
		joined:  make(map[string]func()),
	}
	c.readLoop(conn)
}

type wsConn struct {
	server  *Server
	session *dispatch.WSSession
	riderID string
	// joined maps lobby code -> subscription cancel for this connection.
	joined map[string]func()
}

func (c *wsConn) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		c.sweep()
		observability.WSConnections.Dec()
	}()
	conn.SetReadLimit(maxMessageSize)
	ctx := context.Background()
	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("ws closed unexpectedly", "rider", c.riderID, "error", err)
			}
			return
		}
		req, err := events.DecodeRequest(env)
		if err != nil {
			c.sendError(&lobby.Error{Kind: lobby.KindValidation, Message: err.Error()})
			continue
		}
		c.dispatch(ctx, env.Event, req)
	}
}

func (c *wsConn) dispatch(ctx context.Context, event string, req any) {
	svc := c.server.Lobby
	switch p := req.(type) {
	case *events.CreateLobby:
		code, snapshot, err := svc.Create(ctx, lobby.RiderInfo{ID: c.riderID, Name: p.HostName, Vehicle: p.Vehicle})
		if err != nil {
			c.sendError(err)
			return
		}
		c.subscribe(code)
		c.send(events.EvtLobbyCreated, events.LobbyCreated{Code: code, RiderID: c.riderID, Members: snapshot.Members})

	case *events.JoinLobby:
		snapshot, err := svc.Join(ctx, p.Code, lobby.RiderInfo{ID: c.riderID, Name: p.UserName, Vehicle: p.Vehicle})
		if err != nil {
			c.sendError(err)
			return
		}
		c.subscribe(snapshot.Code)
		c.send(events.EvtJoinSuccess, events.JoinSuccess{Code: snapshot.Code, RiderID: c.riderID, Members: snapshot.Members})

	case *events.CodeOnly:
		switch event {
		case events.ReqStartRide:
			if _, err := svc.StartRide(ctx, p.Code, c.riderID); err != nil {
				c.sendError(err)
			}
		case events.ReqEndRide:
			if _, err := svc.EndRide(ctx, p.Code, c.riderID); err != nil {
				c.sendError(err)
			}
		case events.ReqCancelLobby:
			if _, err := svc.Cancel(ctx, p.Code, c.riderID); err != nil {
				c.sendError(err)
			}
		case events.ReqLeaveLobby:
			svc.Leave(ctx, p.Code, c.riderID)
			c.unsubscribe(p.Code)
		}

	case *events.UpdateLocation:
		// Precondition failures are dropped silently, nothing to report.
		c.server.Relay.UpdateLocation(ctx, p.Code, c.riderID, models.Location{
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Speed:     p.Speed,
			Heading:   p.Heading,
		})

	case *events.RemoveMember:
		if _, err := svc.RemoveMember(ctx, p.Code, c.riderID, p.TargetID); err != nil {
			c.sendError(err)
		}

	case *events.BroadcastMessage:
		if err := svc.Broadcast(ctx, p.Code, c.riderID, p.Text); err != nil {
			c.sendError(err)
		}
	}
}

func (c *wsConn) subscribe(code string) {
	if _, ok := c.joined[code]; ok {
		return
	}
	c.joined[code] = c.server.Registry.Subscribe(code, c.riderID, c.session.Handler())
}

func (c *wsConn) unsubscribe(code string) {
	if cancel, ok := c.joined[code]; ok {
		cancel()
		delete(c.joined, code)
	}
}

// sweep is the disconnect path: drop subscriptions and mark the rider offline
// in every lobby this connection joined. Riders are never auto-removed.
func (c *wsConn) sweep() {
	ctx := context.Background()
	for code, cancel := range c.joined {
		cancel()
		c.server.Lobby.Leave(ctx, code, c.riderID)
	}
	c.joined = nil
}

func (c *wsConn) send(event string, payload any) {
	if err := c.session.SendEvent(event, payload); err != nil {
		c.server.logger.Debug("ws send failed", "event", event, "rider", c.riderID, "error", err)
	}
}

func (c *wsConn) sendError(err error) {
	c.send(events.EvtError, events.Error{Code: string(lobby.KindOf(err)), Message: userMessage(err)})
}
