package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Tracing wraps handlers in an otelhttp server span named by method and
// normalized route, so webhook deliveries and operator calls group cleanly.
// W3C traceparent headers from upstream proxies are honoured.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := GetRequestID(r.Context()); id != "" {
				trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("request.id", id))
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(tagged, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + normalizePath(r.URL.Path)
			}),
		)
	}
}

// GetTraceID returns the active trace ID or "".
func GetTraceID(r *http.Request) string {
	sc := trace.SpanContextFromContext(r.Context())
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// GetSpanID returns the active span ID or "".
func GetSpanID(r *http.Request) string {
	sc := trace.SpanContextFromContext(r.Context())
	if sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}
