package webhook

import (
	"context"
	"log/slog"
	"net/http"
)

// ResponseInProgress is returned to a delivery received while another is
// being processed on the same call chain.
const ResponseInProgress = "Webhook already in progress"

// Request is one inbound delivery as seen by the transport.
type Request struct {
	// Method is the HTTP method; empty when the transport could not tell.
	Method    string
	Body      []byte
	Signature string
}

// Response is what the transport writes back to Paystack.
type Response struct {
	Status int
	Body   string
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// AllowUnknownMethod accepts deliveries whose method is unknown (empty).
// Any other non-POST method is still rejected.
func AllowUnknownMethod(allow bool) ReceiverOption {
	return func(r *Receiver) {
		r.allowUnknownMethod = allow
	}
}

// Receiver is the entry point for Paystack webhook deliveries.
type Receiver struct {
	interpreter        *Interpreter
	dispatcher         *Dispatcher
	allowUnknownMethod bool
	logger             *slog.Logger
}

// NewReceiver creates a receiver.
func NewReceiver(interpreter *Interpreter, dispatcher *Dispatcher, logger *slog.Logger, opts ...ReceiverOption) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Receiver{
		interpreter: interpreter,
		dispatcher:  dispatcher,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type inProgressKey struct{}

// inProgress reports whether ctx belongs to a delivery being processed.
func inProgress(ctx context.Context) bool {
	v, _ := ctx.Value(inProgressKey{}).(bool)
	return v
}

// Receive validates, interprets and dispatches one delivery.
func (r *Receiver) Receive(ctx context.Context, req Request) Response {
	if inProgress(ctx) {
		return Response{Status: http.StatusOK, Body: ResponseInProgress}
	}

	if !r.validMethod(req.Method) {
		r.logger.WarnContext(ctx, "webhook rejected: invalid method", slog.String("method", req.Method))
		return Response{Status: http.StatusInternalServerError, Body: ResponseInvalidRequest}
	}

	event, invalid := r.interpreter.Interpret(req.Body, req.Signature)
	if invalid != nil {
		r.logger.WarnContext(ctx, "webhook rejected",
			slog.Int("status", invalid.Status),
			slog.String("reason", invalid.Response),
		)
		return Response{Status: invalid.Status, Body: invalid.Response}
	}

	ctx = context.WithValue(ctx, inProgressKey{}, true)
	res := r.dispatcher.Dispatch(ctx, event)
	return Response{Status: res.Status, Body: res.Message}
}

func (r *Receiver) validMethod(method string) bool {
	switch method {
	case http.MethodPost:
		return true
	case "":
		return r.allowUnknownMethod
	default:
		return false
	}
}
