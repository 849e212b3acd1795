// Package metrics exposes the Prometheus collectors shared across the bus:
// publish outcomes, consume outcomes, DLQ depth, and the admin HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Publish metrics
var (
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_total",
			Help: "Total number of publish attempts by driver and outcome",
		},
		[]string{"driver", "outcome"}, // driver: Managed|Legacy, outcome: success|error
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "publish_duration_seconds",
			Help:    "Duration of publish calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver"},
	)
)

// Consume metrics
var (
	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_processed_total",
			Help: "Total number of consumed messages by outcome",
		},
		[]string{"queue", "outcome"}, // success, validation_error, transient_error, permanent_error
	)

	MessageProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_processing_duration_seconds",
			Help:    "Duration of per-message listener dispatch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "event_type"},
	)

	CycleMessagesReceived = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cycle_messages_received",
			Help: "Number of messages received in the most recent consumer cycle",
		},
		[]string{"queue"},
	)
)

// DLQ metrics
var (
	DLQDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dlq_depth",
			Help: "Approximate number of messages sitting in a dead-letter queue",
		},
		[]string{"queue"},
	)

	DLQMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages moved to or replayed from a DLQ",
		},
		[]string{"queue", "action"}, // action: moved|replayed|replay_failed
	)
)

// Idempotency store metrics
var (
	IdempotencyHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_hits_total",
			Help: "Total number of idempotency checks by tier and result",
		},
		[]string{"tier", "result"}, // tier: redis|postgres, result: hit|miss
	)
)

// Database metrics
var (
	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"query"},
	)
)

// Admin API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of admin API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_auth_failures_total",
			Help: "Total number of admin API authentication failures",
		},
	)
)
