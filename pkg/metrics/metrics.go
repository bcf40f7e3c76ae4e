// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncSessionsTotal tracks sync sessions by status
	SyncSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "sessions_total",
			Help:      "Total number of sync sessions by status",
		},
		[]string{"tenant_id", "provider", "status"},
	)

	// SyncSessionDuration tracks sync session duration in seconds
	SyncSessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "session_duration_seconds",
			Help:      "Duration of sync sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"tenant_id", "provider"},
	)

	// SyncRecordsTotal tracks per-record sync outcomes
	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Total number of records processed by sync, by outcome",
		},
		[]string{"tenant_id", "provider", "target_entity", "status"},
	)

	// TokenRefreshesTotal tracks OAuth token refresh operations
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "tokens",
			Name:      "refreshes_total",
			Help:      "Total number of OAuth token refresh operations",
		},
		[]string{"provider", "status"},
	)

	// HTTPRequestsTotal tracks outbound provider HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound provider HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// QueueJobsProcessed tracks sync jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of sync jobs processed from the queue",
		},
		[]string{"status"},
	)

	// QueueJobsInFlight tracks sync jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of sync jobs currently being processed",
		},
	)

	// DLQJobsTotal tracks sync jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "dlq",
			Name:      "jobs_total",
			Help:      "Total number of jobs sent to dead letter queue",
		},
		[]string{"tenant_id", "reason"},
	)

	// SchedulerSyncsScheduled tracks scheduled sync enqueues
	SchedulerSyncsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "syncs_scheduled_total",
			Help:      "Total number of connector syncs scheduled",
		},
	)

	// RateLimitHits tracks provider rate limit hits
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ratelimit",
			Name:      "hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"provider"},
	)

	// KafkaMessagesPublished tracks connector event messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordSyncSession records a finished sync session
func RecordSyncSession(tenantID, provider, status string, durationSeconds float64) {
	SyncSessionsTotal.WithLabelValues(tenantID, provider, status).Inc()
	SyncSessionDuration.WithLabelValues(tenantID, provider).Observe(durationSeconds)
}

// RecordSyncRecord records one per-record sync outcome
func RecordSyncRecord(tenantID, provider, targetEntity, status string) {
	SyncRecordsTotal.WithLabelValues(tenantID, provider, targetEntity, status).Inc()
}

// RecordTokenRefresh records a token refresh attempt
func RecordTokenRefresh(provider, status string) {
	TokenRefreshesTotal.WithLabelValues(provider, status).Inc()
}

// RecordHTTPRequest records an outbound HTTP request metric
func RecordHTTPRequest(method, statusCode string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(status string) {
	QueueJobsProcessed.WithLabelValues(status).Inc()
}

// RecordDLQJob records a dead letter queue job
func RecordDLQJob(tenantID, reason string) {
	DLQJobsTotal.WithLabelValues(tenantID, reason).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
