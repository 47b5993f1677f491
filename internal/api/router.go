package api

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/donation-reconciler/internal/idempotency"
	"github.com/onnwee/donation-reconciler/internal/middleware"
)

// Route patterns, shared with metrics normalization and idempotency matching.
const (
	RouteWebhook = "/webhooks/paystack"
	RouteReceipt = "/donations/{id}/receipt"
	RouteRefund  = "/operator/donations/{id}/refund"
	RouteCancel  = "/operator/recurring/{id}/cancel"
	RoutePeriods = "/operator/recurring/periods"
	RouteHealth  = "/health"
	RouteReady   = "/ready"
	RouteMetrics = "/metrics"
)

// RouterConfig wires handlers and middleware into the server mux.
type RouterConfig struct {
	Webhooks *WebhookHandlers
	Receipts *ReceiptHandlers
	Operator *OperatorHandlers
	Health   *HealthHandlers
	// Metrics serves /metrics; nil leaves the route unregistered.
	Metrics http.Handler

	Tokens         middleware.TokenValidator
	RateLimitStore middleware.RateLimitStore
	WebhookLimit   middleware.RateLimitConfig
	OperatorLimit  middleware.RateLimitConfig
	Idempotency    idempotency.Repository
	HTTPMetrics    *middleware.Metrics
	CORSOrigins    []string
	ServiceName    string
	Logger         *slog.Logger
}

// NewRouter returns the full handler chain:
// RequestID, Logging, Tracing, HTTPMetrics and CORS around the mux.
// Operator routes also pass OperatorAuth, a per-operator rate limit and
// Idempotency-Key replay.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	// No method in the pattern: the receiver applies its own method policy.
	mux.Handle(RouteWebhook, middleware.RateLimiter(cfg.RateLimitStore, cfg.WebhookLimit, middleware.IPKeyFunc(), cfg.HTTPMetrics)(
		http.HandlerFunc(cfg.Webhooks.HandlePaystackWebhook)))

	mux.HandleFunc("GET "+RouteReceipt, cfg.Receipts.GetReceipt)

	authed := middleware.OperatorAuth(cfg.Tokens)
	limited := middleware.RateLimiter(cfg.RateLimitStore, cfg.OperatorLimit, middleware.OperatorKeyFunc(), cfg.HTTPMetrics)
	replay := middleware.Idempotency(cfg.Idempotency, middleware.MatchRoutes(RouteRefund, RouteCancel), cfg.HTTPMetrics, logger)
	operator := func(h http.HandlerFunc) http.Handler {
		return authed(limited(replay(h)))
	}
	mux.Handle("POST "+RouteRefund, operator(cfg.Operator.RefundDonation))
	mux.Handle("POST "+RouteCancel, operator(cfg.Operator.CancelRecurring))
	mux.Handle("GET "+RoutePeriods, authed(http.HandlerFunc(cfg.Operator.ListPeriods)))

	mux.HandleFunc("GET "+RouteHealth, cfg.Health.Health)
	mux.HandleFunc("GET "+RouteReady, cfg.Health.Ready)
	if cfg.Metrics != nil {
		mux.Handle("GET "+RouteMetrics, cfg.Metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	var handler http.Handler = mux
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins))(handler)
	handler = middleware.HTTPMetrics(cfg.HTTPMetrics)(handler)
	handler = middleware.Tracing(cfg.ServiceName)(handler)
	handler = middleware.Logging(logger)(handler)
	return middleware.RequestID(handler)
}
