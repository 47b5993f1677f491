// Package hooks is a named-event registry for side effects triggered by
// donation state transitions (receipts, notifications, analytics).
package hooks

import (
	"context"
	"log/slog"
	"sync"
)

// Hook names emitted by the reconciler.
const (
	DonationCompleted  = "donation.completed"
	DonationFailed     = "donation.failed"
	DonationRefunded   = "donation.refunded"
	RecurringActivated = "recurring.activated"
	RecurringFailed    = "recurring.failed"
	RecurringRenewed   = "recurring.renewed"
	RecurringCancelled = "recurring.cancelled"
)

// Event is passed to every handler registered for a hook.
type Event struct {
	Name        string
	DonationID  string
	RecurringID string
	Reference   string
	TestMode    bool
}

// Handler reacts to an emitted event.
type Handler func(ctx context.Context, e Event)

// Registry maps hook names to handlers.
// Handlers are registered once at startup and invoked synchronously in
// registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// On registers h for the named hook.
func (r *Registry) On(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], h)
}

// Emit invokes every handler registered for e.Name.
// A panicking handler is logged and does not stop the remaining handlers.
func (r *Registry) Emit(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[e.Name]...)
	r.mu.RUnlock()

	for _, h := range handlers {
		r.invoke(ctx, h, e)
	}
}

func (r *Registry) invoke(ctx context.Context, h Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "hook handler panicked",
				slog.String("hook", e.Name),
				slog.Any("panic", rec),
			)
		}
	}()
	h(ctx, e)
}
