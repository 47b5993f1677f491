package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/webhooks/paystack", "/webhooks/paystack"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/operator/recurring/periods", "/operator/recurring/periods"},
		{"/donations/5f1c/receipt", "/donations/{id}/receipt"},
		{"/operator/donations/d-1/refund", "/operator/donations/{id}/refund"},
		{"/operator/recurring/r-9/cancel", "/operator/recurring/{id}/cancel"},
		{"/donations//receipt", "other"},
		{"/donations/abc", "other"},
		{"/operator/recurring/r-9/cancel/extra", "other"},
		{"/wp-login.php", "other"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("second Register() should fail on duplicate collectors")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncRateLimitRequests("/x", "ip")
	m.IncRateLimitBlocked("/x", "ip")
	m.IncRateLimitRedisErrors()
	m.IncIdempotencyReplays("/x")
	m.ObserveHTTPRequest("GET", "/x", "200", 0.1, 0, 0)
}

func TestHTTPMetrics_RecordsNormalizedRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}
	h := HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Donation not found"))
	}))

	for _, path := range []string{"/donations/a/receipt", "/donations/b/receipt", "/health"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, strings.NewReader("")))
	}

	got := counterValue(t, m.httpRequestsTotal.WithLabelValues("GET", "/donations/{id}/receipt", "404"))
	if got != 2 {
		t.Errorf("requests counter = %v, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "path" && l.GetValue() == "/health" {
					t.Error("health endpoint was recorded")
				}
			}
		}
	}
}

func TestHTTPMetrics_NilMetricsPassThrough(t *testing.T) {
	called := false
	h := HTTPMetrics(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !called {
		t.Error("handler not called")
	}
}
