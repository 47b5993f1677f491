package webhook

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/donation-reconciler/internal/reconcile"
	"github.com/onnwee/donation-reconciler/internal/tracing"
)

// Outcome is the result class of a dispatched event.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeRejected
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Result is a processor's verdict on one event.
type Result struct {
	Outcome Outcome
	Status  int
	Message string
	// Duplicate is set when the transition had already been applied.
	Duplicate bool
}

func processed(message string) Result {
	return Result{Outcome: OutcomeProcessed, Status: http.StatusOK, Message: message}
}

func duplicate(message string) Result {
	return Result{Outcome: OutcomeProcessed, Status: http.StatusOK, Message: message, Duplicate: true}
}

func ignored(message string) Result {
	return Result{Outcome: OutcomeIgnored, Status: http.StatusOK, Message: message}
}

func rejected(status int, message string) Result {
	return Result{Outcome: OutcomeRejected, Status: status, Message: message}
}

// Processor applies one classified event.
type Processor interface {
	Process(ctx context.Context, e *Event) Result
}

// Dispatcher routes classified events to the donation or subscription processor.
type Dispatcher struct {
	donations     Processor
	subscriptions Processor
	metrics       *reconcile.Metrics
	logger        *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(donations, subscriptions Processor, metrics *reconcile.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		donations:     donations,
		subscriptions: subscriptions,
		metrics:       metrics,
		logger:        logger,
	}
}

// Dispatch processes e and returns the acknowledgment to send to Paystack.
func (d *Dispatcher) Dispatch(ctx context.Context, e *Event) Result {
	ctx, endSpan := tracing.StartSpan(ctx, "webhook.dispatch",
		attribute.String("paystack.event", e.Type),
		attribute.String("webhook.subject", string(e.Subject)),
		attribute.String("webhook.kind", string(e.Kind)),
		attribute.Bool("paystack.test_mode", e.TestMode),
	)

	var res Result
	switch {
	case e.Kind == KindIgnored:
		res = ignored("Event ignored")
	case e.Subject == SubjectSubscription:
		res = d.subscriptions.Process(ctx, e)
	default:
		res = d.donations.Process(ctx, e)
	}

	outcome := res.Outcome.String()
	if res.Duplicate {
		outcome = "duplicate"
	}
	d.metrics.ObserveWebhook(string(e.Subject), string(e.Kind), outcome)
	tracing.SetAttributes(ctx,
		attribute.String("webhook.outcome", outcome),
		attribute.Int("http.response.status_code", res.Status),
	)

	level := slog.LevelInfo
	if res.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	} else if res.Outcome == OutcomeRejected {
		level = slog.LevelWarn
	}
	d.logger.Log(ctx, level, "webhook dispatched",
		slog.String("event", e.Type),
		slog.String("subject", string(e.Subject)),
		slog.String("kind", string(e.Kind)),
		slog.String("outcome", outcome),
		slog.Int("status", res.Status),
		slog.String("message", res.Message),
	)

	var spanErr error
	if res.Status >= http.StatusInternalServerError {
		spanErr = dispatchError(res.Message)
	}
	endSpan(spanErr)
	return res
}

type dispatchError string

func (e dispatchError) Error() string { return string(e) }
