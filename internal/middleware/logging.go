// Package middleware provides the HTTP middleware chain of the reconciler:
// request IDs, request logging, tracing, metrics, rate limiting, operator
// authentication and Idempotency-Key replay.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// requestStateKey is the context key for the per-request state holder.
type requestStateKey struct{}

// requestState is shared between the Logging middleware and the handlers it
// wraps. Handlers only see a derived context, so values they attach with
// context.WithValue never travel back up the chain; writing into this holder
// does.
type requestState struct {
	mu        sync.Mutex
	operator  string
	errorCode string
}

func stateFrom(ctx context.Context) *requestState {
	s, _ := ctx.Value(requestStateKey{}).(*requestState)
	return s
}

// withRequestState installs a fresh holder unless one is already present.
func withRequestState(ctx context.Context) (context.Context, *requestState) {
	if s := stateFrom(ctx); s != nil {
		return ctx, s
	}
	s := &requestState{}
	return context.WithValue(ctx, requestStateKey{}, s), s
}

// SetOperator records the authenticated operator subject for the request.
func SetOperator(ctx context.Context, subject string) context.Context {
	ctx, s := withRequestState(ctx)
	s.mu.Lock()
	s.operator = subject
	s.mu.Unlock()
	return ctx
}

// GetOperator returns the operator subject, or "" for unauthenticated requests.
func GetOperator(ctx context.Context) string {
	s := stateFrom(ctx)
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.operator
}

// SetErrorCode records a machine-readable error code for the request log line.
// Handlers call it when writing an error response.
func SetErrorCode(ctx context.Context, code string) context.Context {
	ctx, s := withRequestState(ctx)
	s.mu.Lock()
	s.errorCode = code
	s.mu.Unlock()
	return ctx
}

// GetErrorCode returns the recorded error code or "".
func GetErrorCode(ctx context.Context) string {
	s := stateFrom(ctx)
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCode
}

// responseWriter captures the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

// WriteHeader keeps the first status only, matching net/http.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// NewLogger returns a JSON logger in production and a debug-level text logger
// everywhere else.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// Logging writes one structured line per request: method, path, status,
// latency, size, request ID, operator and error code when set.
//
// A panicking handler produces no line; put a recovery middleware outside.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, _ := withRequestState(r.Context())
			r = r.WithContext(ctx)

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int("size", rw.size),
			}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			if op := GetOperator(ctx); op != "" {
				attrs = append(attrs, slog.String("operator", op))
			}
			if rw.statusCode >= 400 {
				if code := GetErrorCode(ctx); code != "" {
					attrs = append(attrs, slog.String("error_code", code))
				}
			}

			level := slog.LevelInfo
			switch {
			case rw.statusCode >= 500:
				level = slog.LevelError
			case rw.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(ctx, level, "request completed", attrs...)
		})
	}
}
