// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketchat_ws_connections_active",
			Help: "Currently open WebSocket connections",
		},
	)

	IdentitiesBound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketchat_ws_identities_bound",
			Help: "Identities currently present in the connection registry",
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_ws_events_total",
			Help: "Inbound events handled, by type and result",
		},
		[]string{"type", "result"}, // result: "ok" or "error"
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketchat_ws_broadcast_dropped_total",
			Help: "Envelopes dropped because a client send queue was full",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketchat_ws_rate_limit_hits_total",
			Help: "Connections closed for exceeding the event rate limit",
		},
	)

	// Business metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_messages_persisted_total",
			Help: "Messages persisted by the ingestion pipeline",
		},
		[]string{"sender_type"}, // "user" or "anonymous"
	)

	IngestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_ingest_failures_total",
			Help: "Ingestion failures by stage",
		},
		[]string{"stage"}, // "validate", "persist", "resolve_name", "summary"
	)

	SummaryReconcile = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketchat_summary_reconcile_total",
			Help: "Last-message summary reconcile attempts by result",
		},
		[]string{"result"}, // "enqueued", "repaired", "retry", "dropped"
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketchat_store_latency_seconds",
			Help:    "Persistence call latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)
)
