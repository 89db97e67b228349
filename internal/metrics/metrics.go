package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "captionq"

var (
	PipelinesStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_started_total",
			Help:      "Total number of image pipelines started, labeled by image kind (raster or svg).",
		},
		[]string{"kind"},
	)

	PipelinesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_completed_total",
			Help:      "Total number of image pipelines finished, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	PipelineFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_failures_total",
			Help:      "Total number of pipeline failures, labeled by the step that failed.",
		},
		[]string{"step"},
	)

	PipelineDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end latency from upload start to result append (seconds).",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60, 120},
		},
		[]string{"outcome"},
	)

	PollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Number of prediction fetches performed per polling run.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 13},
		},
	)

	ExternalCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_calls_total",
			Help:      "Total number of calls to external services, labeled by service, operation and outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Total number of webhook deliveries, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests or calls delayed or rejected by a rate limit bucket.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		PipelinesStartedTotal,
		PipelinesCompletedTotal,
		PipelineFailuresTotal,
		PipelineDurationSeconds,
		PollAttempts,
		ExternalCallsTotal,
		WebhookDeliveriesTotal,
		RateLimitHitsTotal,
	)
}

// Outcome maps an error onto the outcome label.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
