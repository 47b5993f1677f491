package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/onnwee/donation-reconciler/internal/hooks"
	"github.com/onnwee/donation-reconciler/internal/payment"
	"github.com/onnwee/donation-reconciler/internal/paystack"
)

// ErrTokenUnavailable is returned when the subscription email token cannot be fetched.
var ErrTokenUnavailable = errors.New("subscription email token unavailable")

// Operator action names used as metric labels.
const (
	ActionRefund = "refund"
	ActionCancel = "cancel"
)

const refundMerchantNote = "Refunded from dashboard"

// Actions implements the operator-initiated refund and cancellation calls.
// Neither action retries automatically.
type Actions struct {
	store   payment.Store
	clients paystack.Provider
	hooks   *hooks.Registry
	metrics *Metrics
	logger  *slog.Logger
}

// NewActions creates the operator action set.
func NewActions(store payment.Store, clients paystack.Provider, registry *hooks.Registry, metrics *Metrics, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{
		store:   store,
		clients: clients,
		hooks:   registry,
		metrics: metrics,
		logger:  logger,
	}
}

// CanRefund reports whether a refund can be attempted for the donation.
func (a *Actions) CanRefund(d *payment.Donation) bool {
	return d != nil &&
		d.GatewayTransactionReference != "" &&
		!d.Refunded &&
		a.clients.API(d.TestMode).HasValidKey()
}

// Refund asks Paystack to refund the donation.
// Returns false without calling Paystack when the donation was already refunded.
// A rejected refund is logged on the donation and returns false with a nil error.
func (a *Actions) Refund(ctx context.Context, donationID string) (bool, error) {
	d, err := a.store.GetDonation(ctx, donationID)
	if err != nil {
		return false, err
	}
	if !a.CanRefund(d) {
		a.metrics.ObserveOperatorAction(ActionRefund, "skipped")
		return false, nil
	}

	// Claim the refund before calling Paystack so concurrent requests for
	// the same donation send a single refund.
	err = a.store.UpdateDonation(ctx, d.ID, func(d *payment.Donation) error {
		if d.Refunded {
			return payment.ErrNoChange
		}
		d.Refunded = true
		return nil
	})
	if errors.Is(err, payment.ErrNoChange) {
		a.metrics.ObserveOperatorAction(ActionRefund, "skipped")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to reserve refund: %w", err)
	}

	resp, err := a.clients.API(d.TestMode).Post(ctx, "refund", paystack.RefundRequest{
		Transaction:  d.GatewayTransactionReference,
		MerchantNote: refundMerchantNote,
	})
	if message, failed := remoteFailure(resp, err); failed {
		a.logger.WarnContext(ctx, "paystack refund failed",
			slog.String("donation_id", d.ID),
			slog.String("message", message),
		)
		a.metrics.ObserveOperatorAction(ActionRefund, "failed")
		logErr := a.store.UpdateDonation(ctx, d.ID, func(d *payment.Donation) error {
			d.Refunded = false
			d.AddLog("Paystack refund failed with message: %s", message)
			return nil
		})
		if logErr != nil {
			return false, fmt.Errorf("failed to record refund failure: %w", logErr)
		}
		return false, nil
	}

	err = a.store.UpdateDonation(ctx, d.ID, func(d *payment.Donation) error {
		if d.Status == payment.StatusCompleted {
			if err := d.SetStatus(payment.StatusRefunded); err != nil {
				return err
			}
		}
		d.AddLog("Refunded automatically from dashboard")
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record refund: %w", err)
	}

	a.metrics.ObserveOperatorAction(ActionRefund, "succeeded")
	a.hooks.Emit(ctx, hooks.Event{
		Name:        hooks.DonationRefunded,
		DonationID:  d.ID,
		RecurringID: deref(d.RecurringDonationID),
		Reference:   d.GatewayTransactionReference,
		TestMode:    d.TestMode,
	})
	return true, nil
}

// CanCancel reports whether the plan's subscription can be cancelled in Paystack.
func (a *Actions) CanCancel(plan *payment.RecurringDonation) bool {
	return plan != nil &&
		plan.GatewaySubscriptionID != "" &&
		!plan.Cancelled &&
		a.clients.API(plan.TestMode).HasValidKey()
}

// EmailToken returns the plan's subscription email token, fetching it from
// Paystack and caching it on the plan when it has not been fetched yet.
// A failed fetch caches nothing and returns an error wrapping ErrTokenUnavailable.
func (a *Actions) EmailToken(ctx context.Context, plan *payment.RecurringDonation) (string, error) {
	if plan.EmailToken != "" {
		return plan.EmailToken, nil
	}
	if plan.GatewaySubscriptionID == "" {
		return "", fmt.Errorf("%w: plan has no subscription", ErrTokenUnavailable)
	}

	resp, err := a.clients.API(plan.TestMode).Get(ctx, "subscription/"+url.PathEscape(plan.GatewaySubscriptionID))
	if message, failed := remoteFailure(resp, err); failed {
		return "", fmt.Errorf("%w: %s", ErrTokenUnavailable, message)
	}
	var sub paystack.Subscription
	if err := resp.Decode(&sub); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}
	if sub.EmailToken == "" {
		return "", fmt.Errorf("%w: empty token in response", ErrTokenUnavailable)
	}

	err = a.store.UpdateRecurring(ctx, plan.ID, func(r *payment.RecurringDonation) error {
		if r.EmailToken != "" {
			return payment.ErrNoChange
		}
		r.EmailToken = sub.EmailToken
		return nil
	})
	if err != nil && !errors.Is(err, payment.ErrNoChange) {
		a.logger.WarnContext(ctx, "failed to cache email token",
			slog.String("recurring_id", plan.ID),
			slog.String("error", err.Error()),
		)
	}
	plan.EmailToken = sub.EmailToken
	return sub.EmailToken, nil
}

// Cancel disables the plan's subscription in Paystack.
// Returns false without calling Paystack when the plan is already cancelled
// or has no subscription. A rejected cancellation is logged on the plan.
func (a *Actions) Cancel(ctx context.Context, planID string) (bool, error) {
	plan, err := a.store.GetRecurring(ctx, planID)
	if err != nil {
		return false, err
	}
	if !a.CanCancel(plan) {
		a.metrics.ObserveOperatorAction(ActionCancel, "skipped")
		return false, nil
	}

	token, err := a.EmailToken(ctx, plan)
	if err != nil {
		return false, a.cancelFailed(ctx, plan.ID, paystack.ErrorMessage(err))
	}

	resp, err := a.clients.API(plan.TestMode).Post(ctx, "subscription/disable", paystack.DisableSubscriptionRequest{
		Code:  plan.GatewaySubscriptionID,
		Token: token,
	})
	if message, failed := remoteFailure(resp, err); failed {
		return false, a.cancelFailed(ctx, plan.ID, message)
	}

	err = a.store.UpdateRecurring(ctx, plan.ID, func(r *payment.RecurringDonation) error {
		if !r.Cancel() {
			return payment.ErrNoChange
		}
		r.AddLog("Subscription cancelled from dashboard")
		return nil
	})
	if errors.Is(err, payment.ErrNoChange) {
		a.metrics.ObserveOperatorAction(ActionCancel, "skipped")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record cancellation: %w", err)
	}

	a.metrics.ObserveOperatorAction(ActionCancel, "succeeded")
	a.hooks.Emit(ctx, hooks.Event{
		Name:        hooks.RecurringCancelled,
		RecurringID: plan.ID,
		TestMode:    plan.TestMode,
	})
	return true, nil
}

func (a *Actions) cancelFailed(ctx context.Context, planID, message string) error {
	a.logger.WarnContext(ctx, "paystack subscription cancellation failed",
		slog.String("recurring_id", planID),
		slog.String("message", message),
	)
	a.metrics.ObserveOperatorAction(ActionCancel, "failed")
	err := a.store.UpdateRecurring(ctx, planID, func(r *payment.RecurringDonation) error {
		r.AddLog("Paystack subscription cancellation failed with message: %s", message)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record cancellation failure: %w", err)
	}
	return nil
}

// remoteFailure reports whether a Paystack call failed and the message to log.
func remoteFailure(resp *paystack.Response, err error) (string, bool) {
	if err != nil {
		return paystack.ErrorMessage(err), true
	}
	if resp == nil {
		return "empty response", true
	}
	if !resp.Status {
		return resp.Message, true
	}
	return "", false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
