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

	// InteractionsTotal tracks processed user interactions by kind.
	InteractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_interactions_total",
			Help: "Total processed user interactions",
		},
		[]string{"kind"},
	)

	// EventsTotal tracks dispatched survey events.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_events_total",
			Help: "Total dispatched survey events",
		},
		[]string{"type"},
	)

	// EventHandlerFailures tracks event handler errors and panics.
	EventHandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_event_handler_failures_total",
			Help: "Total event handler errors and panics",
		},
		[]string{"type"},
	)

	// DeliveriesTotal tracks dashboard delivery operations.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_deliveries_total",
			Help: "Total dashboard delivery operations",
		},
		[]string{"operation", "result"},
	)

	// SurveysTotal tracks survey lifecycle transitions.
	SurveysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveys_total",
			Help: "Total survey lifecycle transitions",
		},
		[]string{"state"},
	)

	// ActiveSessions tracks loaded per-chat flow managers.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "survey_active_sessions",
			Help: "Number of loaded per-chat flow managers",
		},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSStreamBytes tracks bytes in NATS stream.
	NATSStreamBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_bytes",
			Help: "Bytes in NATS stream",
		},
		[]string{"stream"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordInteraction records a processed user interaction.
func RecordInteraction(kind string) {
	InteractionsTotal.WithLabelValues(kind).Inc()
}

// RecordEvent records a dispatched survey event.
func RecordEvent(eventType string) {
	EventsTotal.WithLabelValues(eventType).Inc()
}

// RecordEventFailure records a failed or panicked event handler.
func RecordEventFailure(eventType string) {
	EventHandlerFailures.WithLabelValues(eventType).Inc()
}

// RecordDelivery records a dashboard delivery operation.
func RecordDelivery(operation, result string) {
	DeliveriesTotal.WithLabelValues(operation, result).Inc()
}

// RecordSurvey records a survey lifecycle transition.
func RecordSurvey(state string) {
	SurveysTotal.WithLabelValues(state).Inc()
}
