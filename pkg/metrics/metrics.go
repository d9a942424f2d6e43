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

	// MessagesTotal tracks messages created, by direction and initial status.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_total",
			Help: "Total messages created",
		},
		[]string{"direction", "status"},
	)

	// ResolutionsTotal tracks placeholder resolutions by terminal status.
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_resolutions_total",
			Help: "Total placeholder message resolutions",
		},
		[]string{"status"},
	)

	// GenerationDuration tracks generation collaborator latency.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_generation_duration_seconds",
			Help:    "Generation collaborator call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"provider", "status"},
	)

	// GenerationRetriesTotal tracks generation retries.
	GenerationRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_generation_retries_total",
			Help: "Total generation retry attempts",
		},
	)

	// ActiveJobs tracks in-flight generation jobs.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_active_jobs",
			Help: "Number of in-flight generation jobs",
		},
	)

	// TimeoutsSweptTotal tracks placeholders the supervisor moved to TIMEOUT.
	TimeoutsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_timeouts_swept_total",
			Help: "Placeholders transitioned to TIMEOUT by the supervisor",
		},
	)

	// ConfirmationsTotal tracks confirmation request outcomes.
	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_confirmations_total",
			Help: "Confirmation requests by outcome",
		},
		[]string{"outcome"},
	)

	// GatewayDeliveriesTotal tracks outbound external gateway deliveries.
	GatewayDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_gateway_deliveries_total",
			Help: "Outbound gateway deliveries by result",
		},
		[]string{"result"},
	)

	// PollRequestsTotal tracks sync protocol polls.
	PollRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_poll_requests_total",
			Help: "Total poll requests served",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGeneration records metrics for one generation collaborator call.
func RecordGeneration(provider, status string, duration float64) {
	GenerationDuration.WithLabelValues(provider, status).Observe(duration)
}
