package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LobbiesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepulse", Name: "lobbies_created_total", Help: "Total lobbies created"})
	LobbiesActive  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ridepulse", Name: "lobbies_active", Help: "Lobbies not yet completed or cancelled"})
	RidersJoined   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepulse", Name: "riders_joined_total", Help: "Total successful lobby joins, rejoins included"})
	RidesStarted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepulse", Name: "rides_started_total", Help: "Total rides started"})

	LocationUpdates = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepulse", Name: "location_updates_total", Help: "Location updates accepted and fanned out"})
	LocationDrops   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepulse", Name: "location_drops_total", Help: "Location updates dropped for failing preconditions"})
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ridepulse", Name: "broadcasts_total", Help: "Broadcast messages fanned out"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ridepulse", Name: "ws_connections", Help: "Currently connected websocket clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ridepulse", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ridepulse",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
