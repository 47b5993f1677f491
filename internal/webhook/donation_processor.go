package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/donation-reconciler/internal/payment"
	"github.com/onnwee/donation-reconciler/internal/reconcile"
)

// Donation processor responses.
const (
	ResponsePaymentCompleted  = "Donation Webhook: Payment completed"
	ResponsePaymentFailed     = "Donation Webhook: Payment failed"
	ResponseAlreadyProcessed  = "Donation Webhook: Donation already processed"
	ResponseDonationNotFound  = "Donation not found"
	ResponsePlanChargeIgnored = "Donation Webhook: Plan charge acknowledged"
	ResponseProcessingFailed  = "Failed to process webhook"
)

// DonationProcessor settles one-time and first payments from charge events.
type DonationProcessor struct {
	store       payment.Store
	transitions *reconcile.Transitions
	logger      *slog.Logger
}

// NewDonationProcessor creates a donation processor.
func NewDonationProcessor(store payment.Store, transitions *reconcile.Transitions, logger *slog.Logger) *DonationProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DonationProcessor{store: store, transitions: transitions, logger: logger}
}

// Process applies a charge.success or charge.failed event.
func (p *DonationProcessor) Process(ctx context.Context, e *Event) Result {
	d, err := p.store.GetDonationByReference(ctx, e.CorrelationKey)
	if err == nil && d.TestMode != e.TestMode {
		// The mode picked the verifying secret; a record of the other mode
		// cannot be settled with it.
		p.logger.WarnContext(ctx, "webhook mode does not match donation",
			slog.String("donation_id", d.ID),
			slog.Bool("event_test_mode", e.TestMode),
		)
		err = payment.ErrDonationNotFound
	}
	if errors.Is(err, payment.ErrDonationNotFound) || (err == nil && d.GatewayTransactionReference != e.CorrelationKey) {
		// Renewal charges carry a plan and are reconciled through invoice events.
		if e.Kind == KindSuccess && e.Data.HasPlan() {
			return ignored(ResponsePlanChargeIgnored)
		}
		return rejected(http.StatusNotFound, ResponseDonationNotFound)
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to load donation", slog.String("error", err.Error()))
		return rejected(http.StatusInternalServerError, ResponseProcessingFailed)
	}

	out := reconcile.ChargeOutcome{
		Success:           e.Kind == KindSuccess,
		TransactionID:     e.Data.ID,
		AuthorizationCode: e.Data.Authorization.AuthorizationCode,
		Channel:           reconcile.ChannelWebhook,
	}
	if !out.Success {
		out.Message = e.Data.FailureMessage()
	}

	_, err = p.transitions.ApplyCharge(ctx, d.ID, out)
	switch {
	case errors.Is(err, payment.ErrAlreadyProcessed):
		return duplicate(ResponseAlreadyProcessed)
	case errors.Is(err, payment.ErrDonationNotFound):
		return rejected(http.StatusNotFound, ResponseDonationNotFound)
	case err != nil:
		p.logger.ErrorContext(ctx, "failed to settle donation",
			slog.String("donation_id", d.ID),
			slog.String("error", err.Error()),
		)
		return rejected(http.StatusInternalServerError, ResponseProcessingFailed)
	}

	if out.Success {
		return processed(ResponsePaymentCompleted)
	}
	return processed(ResponsePaymentFailed)
}
