package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/onnwee/donation-reconciler/internal/health"
)

// ReadyTimeout bounds all readiness checks together.
const ReadyTimeout = 5 * time.Second

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	checks map[string]health.Checker
	logger *slog.Logger
}

// NewHealthHandlers takes the named readiness checks. Every dependency in
// checks is critical; leave out the ones not configured.
func NewHealthHandlers(checks map[string]health.Checker, logger *slog.Logger) *HealthHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandlers{checks: checks, logger: logger}
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health. It reports the process is serving.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, HealthResponse{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready: 200 when every check passes, 503 otherwise.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ReadyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := map[string]string{"metrics": "ok"}
	healthy := true
	for _, name := range names {
		if err := h.checks[name].HealthCheck(ctx); err != nil {
			checks[name] = "error"
			healthy = false
			h.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, r.Context(), code, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
