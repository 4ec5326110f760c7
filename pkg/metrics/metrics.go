// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks control API request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatdesk_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total control API requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdesk_requests_total",
			Help: "Total control API requests",
		},
		[]string{"method", "path", "status"},
	)

	// StreamDuration tracks how long a reply stream session lived.
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatdesk_stream_duration_seconds",
			Help:    "Reply stream session duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// StreamSessionsActive tracks stream sessions still reading.
	StreamSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatdesk_stream_sessions_active",
			Help: "Number of reply stream sessions still reading",
		},
	)

	// StreamChunksTotal tracks stream chunks by outcome (accepted, stale).
	StreamChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdesk_stream_chunks_total",
			Help: "Reply stream chunks by outcome",
		},
		[]string{"outcome"},
	)

	// EnvelopeErrorsTotal tracks metadata envelopes that failed to parse.
	EnvelopeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatdesk_envelope_errors_total",
			Help: "Metadata envelopes with an unparseable payload",
		},
	)

	// PaginationFetchesTotal tracks id-window fetches by kind (latest, older, walk, reconcile).
	PaginationFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdesk_pagination_fetches_total",
			Help: "Document id window fetches",
		},
		[]string{"kind"},
	)

	// DocumentResolveFailuresTotal tracks document ids dropped from a page.
	DocumentResolveFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatdesk_document_resolve_failures_total",
			Help: "Document ids that failed to resolve and were dropped",
		},
	)

	// ReconcileTotal tracks deferred reconciliation outcomes.
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdesk_reconcile_total",
			Help: "Deferred reconciliation outcomes",
		},
		[]string{"outcome"},
	)

	// TitleAttemptsTotal tracks auto-titling attempts by outcome.
	TitleAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdesk_title_attempts_total",
			Help: "Auto-titling attempts",
		},
		[]string{"outcome"},
	)

	// SubscribersActive tracks live SSE/websocket snapshot subscribers.
	SubscribersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatdesk_subscribers_active",
			Help: "Number of active snapshot subscribers",
		},
		[]string{"transport"},
	)

	// NATSPublishedTotal tracks change events published to NATS.
	NATSPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatdesk_nats_published_total",
			Help: "Controller change events published to NATS",
		},
		[]string{"status"},
	)

	// NATSConnected is 1 while the change-event connection is up.
	NATSConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatdesk_nats_connected",
			Help: "Whether the change-event NATS connection is up",
		},
	)
)

// RecordRequest records metrics for a control API request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStream records metrics for a finished reply stream.
func RecordStream(model, status string, duration float64) {
	StreamDuration.WithLabelValues(model, status).Observe(duration)
}

// IncrementSubscribers increments the active subscriber count.
func IncrementSubscribers(transport string) {
	SubscribersActive.WithLabelValues(transport).Inc()
}

// DecrementSubscribers decrements the active subscriber count.
func DecrementSubscribers(transport string) {
	SubscribersActive.WithLabelValues(transport).Dec()
}
