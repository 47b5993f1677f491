package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/donation-reconciler/internal/middleware"
	"github.com/onnwee/donation-reconciler/internal/paystack"
	"github.com/onnwee/donation-reconciler/internal/webhook"
)

// MaxWebhookBodyBytes caps a delivery body.
const MaxWebhookBodyBytes = 1 << 20

// WebhookReceiver is satisfied by *webhook.Receiver.
type WebhookReceiver interface {
	Receive(ctx context.Context, req webhook.Request) webhook.Response
}

// WebhookHandlers serves POST /webhooks/paystack.
type WebhookHandlers struct {
	receiver WebhookReceiver
	logger   *slog.Logger
}

// NewWebhookHandlers creates the Paystack webhook handler backed by receiver.
func NewWebhookHandlers(receiver WebhookReceiver, logger *slog.Logger) *WebhookHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandlers{receiver: receiver, logger: logger}
}

// HandlePaystackWebhook hands the raw body, method and signature to the
// receiver and writes its plain-text answer. The method is passed through
// untouched: the receiver owns the method policy so non-POST deliveries get
// the same answer as over any other transport.
func (h *WebhookHandlers) HandlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WarnContext(ctx, "webhook body too large", "limit", MaxWebhookBodyBytes)
			middleware.SetErrorCode(ctx, "payload_too_large")
			writeText(w, http.StatusRequestEntityTooLarge, webhook.ResponseInvalidRequest)
			return
		}
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		writeText(w, http.StatusBadRequest, webhook.ResponseInvalidRequest)
		return
	}

	resp := h.receiver.Receive(ctx, webhook.Request{
		Method:    r.Method,
		Body:      body,
		Signature: r.Header.Get(paystack.SignatureHeader),
	})
	if resp.Status >= 400 {
		middleware.SetErrorCode(ctx, webhookErrorCode(resp.Status))
	}
	writeText(w, resp.Status, resp.Body)
}

func webhookErrorCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "invalid_signature"
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	default:
		return ErrCodeInternal
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
