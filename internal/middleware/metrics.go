package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRateLimitRequests     = "reconciler_rate_limit_requests_total"
	MetricRateLimitBlocked      = "reconciler_rate_limit_blocked_total"
	MetricRateLimitRedisErrors  = "reconciler_rate_limit_redis_errors_total"
	MetricIdempotencyReplays    = "reconciler_idempotency_replays_total"
	MetricHTTPRequestDuration   = "reconciler_http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "reconciler_http_requests_total"
	MetricHTTPRequestSizeBytes  = "reconciler_http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "reconciler_http_response_size_bytes"
)

// Metrics holds the HTTP-layer collectors. A nil *Metrics records nothing.
type Metrics struct {
	rateLimitRequests    *prometheus.CounterVec
	rateLimitBlocked     *prometheus.CounterVec
	rateLimitRedisErrors prometheus.Counter
	idempotencyReplays   *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
}

// NewMetrics builds unregistered collectors; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		rateLimitRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitRequests,
				Help: "Rate limit checks by route and key type",
			},
			[]string{"endpoint", "key_type"},
		),
		rateLimitBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitBlocked,
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"endpoint", "key_type"},
		),
		rateLimitRedisErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRateLimitRedisErrors,
				Help: "Redis failures during rate limiting; the request was let through",
			},
		),
		idempotencyReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricIdempotencyReplays,
				Help: "Operator requests answered from a stored Idempotency-Key response",
			},
			[]string{"route"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestSizeBytes,
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"method", "path", "status"},
		),
		httpResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPResponseSizeBytes,
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"method", "path", "status"},
		),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRateLimitRequests counts a limiter check. keyType is "ip" or "operator".
func (m *Metrics) IncRateLimitRequests(endpoint, keyType string) {
	if m == nil {
		return
	}
	m.rateLimitRequests.WithLabelValues(endpoint, keyType).Inc()
}

func (m *Metrics) IncRateLimitBlocked(endpoint, keyType string) {
	if m == nil {
		return
	}
	m.rateLimitBlocked.WithLabelValues(endpoint, keyType).Inc()
}

// IncRateLimitRedisErrors counts a fail-open event.
func (m *Metrics) IncRateLimitRedisErrors() {
	if m == nil {
		return
	}
	m.rateLimitRedisErrors.Inc()
}

// IncIdempotencyReplays counts a replayed operator response.
func (m *Metrics) IncIdempotencyReplays(route string) {
	if m == nil {
		return
	}
	m.idempotencyReplays.WithLabelValues(route).Inc()
}

// ObserveHTTPRequest records one request. path must already be normalized.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": status,
	}
	m.httpRequestDuration.With(labels).Observe(duration)
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestSize.With(labels).Observe(float64(requestSize))
	m.httpResponseSize.With(labels).Observe(float64(responseSize))
}

// Collectors lists every collector, for registration and tests.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rateLimitRequests,
		m.rateLimitBlocked,
		m.rateLimitRedisErrors,
		m.idempotencyReplays,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpRequestSize,
		m.httpResponseSize,
	}
}
