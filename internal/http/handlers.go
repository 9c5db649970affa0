package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ridepulse/internal/dispatch"
	"github.com/example/ridepulse/internal/lobby"
	"github.com/example/ridepulse/internal/relay"
	"github.com/example/ridepulse/internal/routing"
)

// Server wires the relay surfaces together: the websocket endpoint carries
// the full lobby wire contract, the REST endpoints are read-only extras.
type Server struct {
	Lobby    *lobby.Service
	Relay    *relay.Relay
	Registry *dispatch.Registry
	Routes   routing.Client // optional route preview backend

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(svc *lobby.Service, rl *relay.Relay, reg *dispatch.Registry, routes routing.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Lobby: svc, Relay: rl, Registry: reg, Routes: routes, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/api/v1/lobbies/{code}", s.handleLobbySnapshot).Methods("GET")
	s.mux.HandleFunc("/api/v1/route", s.handleRoutePreview).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleLobbySnapshot(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	snapshot, err := s.Lobby.Snapshot(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleRoutePreview(w http.ResponseWriter, r *http.Request) {
	if s.Routes == nil {
		http.Error(w, "route preview not configured", http.StatusNotImplemented)
		return
	}
	q := r.URL.Query()
	coords := make([]float64, 4)
	for i, key := range []string{"from_lat", "from_lon", "to_lat", "to_lon"} {
		f, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil {
			http.Error(w, "invalid "+key, http.StatusBadRequest)
			return
		}
		coords[i] = f
	}
	route, err := s.Routes.Route(r.Context(), coords[0], coords[1], coords[2], coords[3])
	if err != nil {
		s.logger.Warn("route preview failed", "error", err)
		http.Error(w, "routing backend unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch lobby.KindOf(err) {
	case lobby.KindValidation:
		status = http.StatusBadRequest
	case lobby.KindNotFound:
		status = http.StatusNotFound
	case lobby.KindPermission:
		status = http.StatusForbidden
	case lobby.KindInvalidState:
		status = http.StatusConflict
	case lobby.KindConflict:
		status = http.StatusConflict
	}
	http.Error(w, userMessage(err), status)
}

// userMessage keeps storage internals out of anything shown to a user.
func userMessage(err error) string {
	if e, ok := err.(*lobby.Error); ok && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
