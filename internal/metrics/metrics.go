package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_ws_connections",
			Help: "Currently open WebSocket connections",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_users_online",
			Help: "Users with at least one open connection",
		},
	)

	SlowConsumersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_slow_consumers_dropped_total",
			Help: "Connections dropped because their send queue filled",
		},
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"content_type"},
	)

	Retractions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_retractions_total",
			Help: "Total messages retracted",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_auth_failures_total",
			Help: "Authentication failures",
		},
		[]string{"surface"}, // "rest" or "ws"
	)

	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_moderation_actions_total",
			Help: "Admin moderation actions",
		},
		[]string{"action"}, // "lock", "unlock", "ban", "unban", "role_change"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
