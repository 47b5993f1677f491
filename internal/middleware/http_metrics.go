package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are recorded verbatim.
var staticRoutes = map[string]bool{
	"/webhooks/paystack":          true,
	"/operator/recurring/periods": true,
	"/health":                     true,
	"/ready":                      true,
	"/metrics":                    true,
}

// normalizePath maps concrete paths to their route pattern so record IDs do
// not explode label cardinality. Unknown paths collapse to "other".
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "donations" && parts[1] != "" && parts[2] == "receipt":
		return "/donations/{id}/receipt"
	case len(parts) == 4 && parts[0] == "operator" && parts[1] == "donations" && parts[2] != "" && parts[3] == "refund":
		return "/operator/donations/{id}/refund"
	case len(parts) == 4 && parts[0] == "operator" && parts[1] == "recurring" && parts[2] != "" && parts[3] == "cancel":
		return "/operator/recurring/{id}/cancel"
	}
	return "other"
}

// metricsResponseWriter captures status and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	mrw.wroteHeader = true
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// HTTPMetrics records duration, request count and sizes per route.
// Probe endpoints are skipped.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(mrw, r)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}
			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
