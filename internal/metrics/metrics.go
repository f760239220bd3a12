// Package metrics holds the Prometheus collectors shared by the API and worker processes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_jobs_submitted_total",
		Help: "The total number of accepted job submissions",
	}, []string{"type"})

	JobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_jobs_rejected_total",
		Help: "Submissions turned away before a job was created",
	}, []string{"type", "reason"}) // reason: validation, duplicate

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_jobs_processed_total",
		Help: "The total number of finished pipeline runs",
	}, []string{"type", "outcome"}) // outcome: succeeded, retried, failed, cancelled, released, lost

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitepulse_job_duration_seconds",
		Help:    "Duration of one pipeline run.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"type"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitepulse_stage_duration_seconds",
		Help:    "Duration of a single pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"type", "stage", "outcome"})

	StaleJobsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_stale_jobs_reaped_total",
		Help: "Processing jobs recovered after their worker stopped heartbeating",
	}, []string{"outcome"}) // outcome: requeued, failed

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitepulse_http_requests_total",
		Help: "API requests by route and status",
	}, []string{"method", "route", "status"})

	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitepulse_workers_busy",
		Help: "Workers currently running a pipeline",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
