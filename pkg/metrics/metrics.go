// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SendsTotal tracks send-pipeline invocations by terminal outcome.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "send_pipeline_total",
			Help: "Send pipeline invocations by terminal outcome",
		},
		[]string{"outcome"},
	)

	// SendDuration tracks send-pipeline invocation duration.
	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "send_pipeline_duration_seconds",
			Help:    "Send pipeline invocation duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// TimelineActivations tracks running timeline merger activations.
	TimelineActivations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeline_activations_active",
			Help: "Number of running timeline activations",
		},
	)

	// TimelineEmissions tracks derived timeline states emitted.
	TimelineEmissions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeline_emissions_total",
			Help: "Total derived timeline states emitted",
		},
	)

	// FeedErrors tracks live feed failures (degraded realtime).
	FeedErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_feed_errors_total",
			Help: "Total live feed subscription errors",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"tenant_id"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
