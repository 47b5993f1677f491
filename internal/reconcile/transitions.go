// Package reconcile applies terminal payment transitions shared by the webhook
// and return channels, and implements operator refund and cancellation actions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/donation-reconciler/internal/hooks"
	"github.com/onnwee/donation-reconciler/internal/payment"
	"github.com/onnwee/donation-reconciler/internal/paystack"
	"github.com/onnwee/donation-reconciler/internal/tracing"
)

// Reconciliation channels.
const (
	ChannelWebhook = "webhook"
	ChannelReturn  = "return"
)

// Reconciliation outcomes used as metric labels.
const (
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeDuplicate   = "duplicate"
	OutcomeNoop        = "noop"
	OutcomeVerifyError = "verify_error"
	OutcomePending     = "pending"
	OutcomeError       = "error"
)

// ChargeOutcome is the processor's verdict on a charge, from either channel.
type ChargeOutcome struct {
	Success           bool
	TransactionID     int64
	AuthorizationCode string
	Message           string
	Channel           string
}

// Transitions applies the terminal transition of a donation and cascades it to
// the linked recurring plan.
type Transitions struct {
	store        payment.Store
	hooks        *hooks.Registry
	metrics      *Metrics
	dashboardURL string
	logger       *slog.Logger
}

// NewTransitions creates a transition applier.
func NewTransitions(store payment.Store, registry *hooks.Registry, metrics *Metrics, dashboardURL string, logger *slog.Logger) *Transitions {
	if logger == nil {
		logger = slog.Default()
	}
	if dashboardURL == "" {
		dashboardURL = paystack.DefaultDashboardURL
	}
	return &Transitions{
		store:        store,
		hooks:        registry,
		metrics:      metrics,
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

// ApplyCharge settles the donation with the given outcome.
// Returns payment.ErrAlreadyProcessed when another channel got there first;
// in that case nothing is changed and no hooks are raised.
func (t *Transitions) ApplyCharge(ctx context.Context, donationID string, out ChargeOutcome) (_ *payment.Donation, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "reconcile.apply_charge",
		attribute.String("donation.id", donationID),
		attribute.String("reconcile.channel", out.Channel),
		attribute.Bool("charge.success", out.Success),
	)
	defer func() {
		if errors.Is(err, payment.ErrAlreadyProcessed) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	var (
		settled       *payment.Donation
		planID        string
		planActivated bool
		planFailed    bool
	)

	err = t.store.SettleDonation(ctx, donationID, func(d *payment.Donation, plan *payment.RecurringDonation) error {
		if out.Success {
			if err := d.SetStatus(payment.StatusCompleted); err != nil {
				return err
			}
			if out.TransactionID > 0 {
				d.GatewayTransactionURL = paystack.TransactionURL(t.dashboardURL, out.TransactionID)
			}
			d.AddLog("Payment completed via %s", out.Channel)

			if plan != nil {
				planID = plan.ID
				wasActive := plan.Status == payment.RecurringActive
				if out.AuthorizationCode != "" {
					if err := plan.SetAuthorizationToken(out.AuthorizationCode); err != nil {
						if !errors.Is(err, payment.ErrAuthorizationAlreadySet) {
							return err
						}
						plan.AddLog("Ignored a different authorization token for donation #%s", d.ID)
					}
				}
				plan.Activate()
				planActivated = !wasActive && plan.Status == payment.RecurringActive
			}
		} else {
			if err := d.SetStatus(payment.StatusFailed); err != nil {
				return err
			}
			message := out.Message
			if message == "" {
				message = "Payment failed"
			}
			d.AddLog("%s", message)

			if plan != nil && !plan.Activated() {
				planID = plan.ID
				plan.Fail("Initial payment failed")
				planFailed = true
			}
		}

		settled = d
		return nil
	})
	if err != nil {
		outcome := OutcomeError
		if errors.Is(err, payment.ErrAlreadyProcessed) {
			outcome = OutcomeDuplicate
		}
		t.metrics.ObserveReconciliation(out.Channel, outcome)
		if errors.Is(err, payment.ErrAlreadyProcessed) || errors.Is(err, payment.ErrDonationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to settle donation %s: %w", donationID, err)
	}
	settled.Processed = true

	event := hooks.Event{
		DonationID:  settled.ID,
		RecurringID: planID,
		Reference:   settled.GatewayTransactionReference,
		TestMode:    settled.TestMode,
	}
	if out.Success {
		t.metrics.ObserveReconciliation(out.Channel, OutcomeCompleted)
		t.emit(ctx, hooks.DonationCompleted, event)
		if planActivated {
			t.emit(ctx, hooks.RecurringActivated, event)
		}
	} else {
		t.metrics.ObserveReconciliation(out.Channel, OutcomeFailed)
		t.emit(ctx, hooks.DonationFailed, event)
		if planFailed {
			t.emit(ctx, hooks.RecurringFailed, event)
		}
	}

	t.logger.InfoContext(ctx, "donation settled",
		slog.String("donation_id", settled.ID),
		slog.String("status", settled.Status),
		slog.String("channel", out.Channel),
	)
	return settled, nil
}

func (t *Transitions) emit(ctx context.Context, name string, e hooks.Event) {
	e.Name = name
	t.hooks.Emit(ctx, e)
}
