// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Total number of dispatch requests by outcome",
		},
		[]string{"outcome"},
	)

	JobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_enqueued_total",
			Help: "Total number of per-locale jobs enqueued",
		},
	)

	JobsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by the worker pool",
		},
	)

	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by the worker pool",
		},
		[]string{"error_code"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
	)

	BatchesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_batches_total",
			Help: "Total number of gateway batch calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	InvalidTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_invalid_tokens_total",
			Help: "Total number of tokens the gateway reported permanently invalid",
		},
	)

	TokensReconciled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_tokens_reconciled_total",
			Help: "Total number of invalid tokens removed from the registry",
		},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of jobs per queue state",
		},
		[]string{"queue", "state"},
	)
)
