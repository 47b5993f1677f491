// Package jobs runs the reconciler's periodic maintenance work and records
// Prometheus metrics for every run.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricBackgroundJobsTotal      = "reconciler_background_jobs_total"
	MetricBackgroundJobsDuration   = "reconciler_background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "reconciler_background_job_errors_total"
)

// Job types used as metric labels.
const (
	JobTypeIdempotencyCleanup = "idempotency_cleanup"
	JobTypeRateLimitCleanup   = "ratelimit_cleanup"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobsTotal,
				Help: "Total number of background job runs by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricBackgroundJobsDuration,
				Help:    "Histogram of background job duration in seconds by job type",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobErrorsTotal,
				Help: "Total number of background job errors by type and error type",
			},
			[]string{"job_type", "error_type"},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns the collectors for registration and tests.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.jobErrors,
	}
}

// IncJobsTotal counts one run of jobType ending in status.
func (m *Metrics) IncJobsTotal(jobType, status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records how long one run took.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors counts a failed run by error type, e.g. "timeout" or "database_error".
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}
