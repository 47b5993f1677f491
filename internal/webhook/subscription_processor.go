package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/donation-reconciler/internal/hooks"
	"github.com/onnwee/donation-reconciler/internal/payment"
	"github.com/onnwee/donation-reconciler/internal/paystack"
)

// Subscription processor responses.
const (
	ResponseFirstPayment      = "Subscription Webhook: First payment processed"
	ResponseRenewal           = "Subscription Webhook: Renewal processed"
	ResponseCancelled         = "Subscription Webhook: Subscription cancelled"
	ResponseRecurringNotFound = "Recurring donation not found"
	ResponseRenewalBeforeAuth = "Renewal received before authorization"
	ResponseRenewalMissingRef = "Renewal has no transaction reference"
)

// SubscriptionProcessor applies subscription lifecycle events to recurring plans.
type SubscriptionProcessor struct {
	store        payment.Store
	hooks        *hooks.Registry
	dashboardURL string
	logger       *slog.Logger
}

// NewSubscriptionProcessor creates a subscription processor.
func NewSubscriptionProcessor(store payment.Store, registry *hooks.Registry, dashboardURL string, logger *slog.Logger) *SubscriptionProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if dashboardURL == "" {
		dashboardURL = paystack.DefaultDashboardURL
	}
	return &SubscriptionProcessor{store: store, hooks: registry, dashboardURL: dashboardURL, logger: logger}
}

// Process applies a first payment, renewal or disable event.
func (p *SubscriptionProcessor) Process(ctx context.Context, e *Event) Result {
	switch e.Kind {
	case KindFirstPayment:
		return p.firstPayment(ctx, e)
	case KindRenewal:
		return p.renewal(ctx, e)
	case KindDisable:
		return p.disable(ctx, e)
	default:
		return ignored("Event ignored")
	}
}

func (p *SubscriptionProcessor) firstPayment(ctx context.Context, e *Event) Result {
	plan, res, ok := p.findPlan(ctx, e, e.Data.Authorization.AuthorizationCode)
	if !ok {
		return res
	}
	if plan.GatewaySubscriptionID == e.CorrelationKey {
		return duplicate(ResponseFirstPayment)
	}

	var activated bool
	err := p.persistPlan(ctx, plan.ID, nil, func(r *payment.RecurringDonation) error {
		if r.GatewaySubscriptionID == e.CorrelationKey {
			return payment.ErrNoChange
		}
		r.GatewaySubscriptionID = e.CorrelationKey
		if code := e.Data.Authorization.AuthorizationCode; code != "" {
			if err := r.SetAuthorizationToken(code); errors.Is(err, payment.ErrAuthorizationAlreadySet) {
				r.AddLog("Ignored a different authorization token from subscription %s", e.CorrelationKey)
			}
		}
		if r.EmailToken == "" {
			r.EmailToken = e.Data.EmailToken
		}
		activated = r.Status != payment.RecurringActive
		r.Activate()
		activated = activated && r.Status == payment.RecurringActive
		r.AddLog(ResponseFirstPayment)
		return nil
	})
	if errors.Is(err, payment.ErrNoChange) {
		return duplicate(ResponseFirstPayment)
	}
	if err != nil {
		return p.failed(ctx, plan.ID, err)
	}

	if activated {
		p.emit(ctx, hooks.RecurringActivated, plan, "")
	}
	return processed(ResponseFirstPayment)
}

func (p *SubscriptionProcessor) renewal(ctx context.Context, e *Event) Result {
	plan, res, ok := p.findPlan(ctx, e, "")
	if !ok {
		return res
	}
	if plan.GatewayAuthorizationToken == "" {
		return rejected(http.StatusInternalServerError, ResponseRenewalBeforeAuth)
	}
	reference := e.Data.RenewalReference()
	if reference == "" {
		return rejected(http.StatusBadRequest, ResponseRenewalMissingRef)
	}

	amount := e.Data.Transaction.Amount
	if amount == 0 {
		amount = plan.Amount
	}
	renewal := &payment.Donation{
		Status:                      payment.StatusCompleted,
		Processed:                   true,
		IsRenewal:                   true,
		GatewayTransactionReference: reference,
		RecurringDonationID:         &plan.ID,
		Amount:                      amount,
		Currency:                    plan.Currency,
		DonorEmail:                  plan.DonorEmail,
		TestMode:                    plan.TestMode,
	}
	if e.Data.Transaction.ID > 0 {
		renewal.GatewayTransactionURL = paystack.TransactionURL(p.dashboardURL, e.Data.Transaction.ID)
	}
	renewal.AddLog("Renewal payment completed via webhook")

	err := p.persistPlan(ctx, plan.ID, renewal, func(r *payment.RecurringDonation) error {
		if r.EmailToken == "" {
			r.EmailToken = e.Data.Subscription.EmailToken
		}
		r.Activate()
		r.AddLog("Renewal processed. Donation #%s", renewal.ID)
		return nil
	})
	if errors.Is(err, payment.ErrDuplicateReference) {
		return duplicate(ResponseRenewal)
	}
	if err != nil {
		return p.failed(ctx, plan.ID, err)
	}

	p.emit(ctx, hooks.RecurringRenewed, plan, renewal.ID)
	return processed(ResponseRenewal)
}

func (p *SubscriptionProcessor) disable(ctx context.Context, e *Event) Result {
	plan, res, ok := p.findPlan(ctx, e, "")
	if !ok {
		return res
	}
	if plan.Cancelled {
		return duplicate(ResponseCancelled)
	}

	err := p.persistPlan(ctx, plan.ID, nil, func(r *payment.RecurringDonation) error {
		if !r.Cancel() {
			return payment.ErrNoChange
		}
		r.AddLog("Subscription cancelled in Paystack")
		return nil
	})
	if errors.Is(err, payment.ErrNoChange) {
		return duplicate(ResponseCancelled)
	}
	if err != nil {
		return p.failed(ctx, plan.ID, err)
	}

	p.emit(ctx, hooks.RecurringCancelled, plan, "")
	return processed(ResponseCancelled)
}

// findPlan resolves the plan by subscription code, falling back to the
// authorization code for first payments that arrive before the code is stored.
// A plan in the other mode than the event is not found.
func (p *SubscriptionProcessor) findPlan(ctx context.Context, e *Event, authorizationCode string) (*payment.RecurringDonation, Result, bool) {
	plan, err := p.store.GetRecurringBySubscriptionID(ctx, e.CorrelationKey)
	if errors.Is(err, payment.ErrRecurringNotFound) && authorizationCode != "" {
		plan, err = p.store.GetRecurringByAuthorization(ctx, authorizationCode)
		// A card authorization may be shared by several plans; only an
		// unlinked plan can be claimed by a new subscription.
		if err == nil && plan.GatewaySubscriptionID != "" {
			plan, err = nil, payment.ErrRecurringNotFound
		}
	}
	if err == nil && plan.TestMode != e.TestMode {
		p.logger.WarnContext(ctx, "webhook mode does not match recurring donation",
			slog.String("recurring_id", plan.ID),
			slog.Bool("event_test_mode", e.TestMode),
		)
		plan, err = nil, payment.ErrRecurringNotFound
	}
	if errors.Is(err, payment.ErrRecurringNotFound) {
		return nil, rejected(http.StatusNotFound, ResponseRecurringNotFound), false
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to load recurring donation", slog.String("error", err.Error()))
		return nil, rejected(http.StatusInternalServerError, ResponseProcessingFailed), false
	}
	return plan, Result{}, true
}

// persistPlan stores plan metadata and log changes in one store call.
// With a renewal, the renewal donation is inserted in the same atomic step.
func (p *SubscriptionProcessor) persistPlan(ctx context.Context, planID string, renewal *payment.Donation, fn func(r *payment.RecurringDonation) error) error {
	if renewal != nil {
		return p.store.CreateRenewal(ctx, planID, renewal, fn)
	}
	return p.store.UpdateRecurring(ctx, planID, fn)
}

func (p *SubscriptionProcessor) failed(ctx context.Context, planID string, err error) Result {
	p.logger.ErrorContext(ctx, "failed to update recurring donation",
		slog.String("recurring_id", planID),
		slog.String("error", err.Error()),
	)
	if errors.Is(err, payment.ErrRecurringNotFound) {
		return rejected(http.StatusNotFound, ResponseRecurringNotFound)
	}
	return rejected(http.StatusInternalServerError, ResponseProcessingFailed)
}

func (p *SubscriptionProcessor) emit(ctx context.Context, name string, plan *payment.RecurringDonation, donationID string) {
	p.hooks.Emit(ctx, hooks.Event{
		Name:        name,
		DonationID:  donationID,
		RecurringID: plan.ID,
		TestMode:    plan.TestMode,
	})
}
