package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/donation-reconciler/internal/idempotency"
)

// IdempotencyKeyHeader is the request header carrying the client key.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayHeader marks a response served from a stored record.
const IdempotentReplayHeader = "Idempotent-Replayed"

// RouteMatcher reports whether a request needs an Idempotency-Key and under
// which route name its records are stored.
type RouteMatcher func(r *http.Request) (route string, ok bool)

// MatchRoutes matches on the normalized request path.
func MatchRoutes(routes ...string) RouteMatcher {
	set := make(map[string]bool, len(routes))
	for _, r := range routes {
		set[r] = true
	}
	return func(r *http.Request) (string, bool) {
		route := normalizePath(r.URL.Path)
		return route, set[route]
	}
}

type captureWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.statusCode = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// Idempotency makes matched POSTs replayable. The first request with a key
// reserves it and runs; a 2xx response is stored, anything else releases the
// reservation. Later requests with the same key get the stored response, or
// 409 while the first is still running. Records are scoped per operator, so
// OperatorAuth must run first.
//
// Repository errors disable replay for that request rather than failing it.
func Idempotency(repo idempotency.Repository, match RouteMatcher, metrics *Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			route, ok := match(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := r.Header.Get(IdempotencyKeyHeader)
			if err := idempotency.ValidateKey(key); err != nil {
				switch {
				case key == "":
					writeError(w, r, http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required for this request")
				case errors.Is(err, idempotency.ErrKeyTooLong):
					writeError(w, r, http.StatusBadRequest, "idempotency_key_too_long",
						"Idempotency-Key exceeds maximum length of "+strconv.Itoa(idempotency.MaxKeyLength)+" characters")
				default:
					writeError(w, r, http.StatusBadRequest, "invalid_idempotency_key", "Invalid Idempotency-Key format")
				}
				return
			}

			operator := GetOperator(ctx)
			rec := &idempotency.Record{
				Scope:    idempotency.Scope(operator, route, key),
				Key:      key,
				Operator: operator,
				Method:   r.Method,
				Route:    route,
			}

			err := repo.Reserve(ctx, rec)
			if errors.Is(err, idempotency.ErrKeyExists) {
				existing, getErr := repo.Get(ctx, rec.Scope)
				switch {
				case getErr != nil:
					logger.ErrorContext(ctx, "failed to load idempotency key", "key", key, "error", getErr)
					writeError(w, r, http.StatusConflict, "idempotency_key_in_progress", "A request with this Idempotency-Key is in progress")
				case existing.Status == idempotency.StatusCompleted:
					metrics.IncIdempotencyReplays(route)
					logger.InfoContext(ctx, "replaying stored response", "key", key, "route", route, "status", existing.ResponseStatusCode)
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(IdempotentReplayHeader, "true")
					w.WriteHeader(existing.ResponseStatusCode)
					_, _ = w.Write([]byte(existing.ResponseBody))
				default:
					writeError(w, r, http.StatusConflict, "idempotency_key_in_progress", "A request with this Idempotency-Key is in progress")
				}
				return
			}
			if err != nil {
				logger.ErrorContext(ctx, "failed to reserve idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			cw := &captureWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(cw, r)

			if cw.statusCode >= 200 && cw.statusCode < 300 {
				if err := repo.Complete(ctx, rec.Scope, cw.statusCode, cw.body.String()); err != nil {
					logger.ErrorContext(ctx, "failed to store idempotency key", "key", key, "error", err)
				}
				return
			}
			if err := repo.Release(ctx, rec.Scope); err != nil {
				logger.ErrorContext(ctx, "failed to release idempotency key", "key", key, "error", err)
			}
		})
	}
}
