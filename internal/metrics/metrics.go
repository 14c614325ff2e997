package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staffchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staffchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staffchat_messages_posted_total",
			Help: "Total messages posted",
		},
		[]string{"room_type"}, // "direct" or "group"
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staffchat_messages_deleted_total",
			Help: "Total messages deleted by their author",
		},
	)

	DirectRooms = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staffchat_direct_rooms_resolved_total",
			Help: "Direct chat resolutions by outcome",
		},
		[]string{"outcome"}, // "created", "reused", "raced"
	)

	GroupRoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staffchat_group_rooms_created_total",
			Help: "Total group rooms created",
		},
	)

	RoomsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staffchat_rooms_deleted_total",
			Help: "Total chat histories wiped",
		},
	)

	// Delivery metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staffchat_events_published_total",
			Help: "Delivery events published",
		},
		[]string{"event", "result"}, // result: "ok" or "failed"
	)

	SubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "staffchat_subscribers_dropped_total",
			Help: "Push subscribers closed because their buffer was full",
		},
	)

	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "staffchat_websocket_connections",
			Help: "Open push connections",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staffchat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staffchat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staffchat_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
