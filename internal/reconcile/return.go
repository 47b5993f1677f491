package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/donation-reconciler/internal/payment"
	"github.com/onnwee/donation-reconciler/internal/paystack"
)

// Donor-facing notices shown on the receipt page.
const (
	NoticeUnconfirmed   = "We could not confirm your payment yet"
	noticeFailurePrefix = "Donation failed in gateway with error: "
)

// Receipt is what the donor's receipt page renders after reconciliation.
type Receipt struct {
	DonationID string `json:"donation_id"`
	Status     string `json:"status"`
	Notice     string `json:"notice,omitempty"`
}

// inFlight lists verify statuses that are not yet final.
var inFlight = map[string]bool{
	"pending":    true,
	"ongoing":    true,
	"processing": true,
	"queued":     true,
}

// ReturnReconciler verifies a transaction when the donor is redirected back
// with a reference and converges on the same guarded transition as the webhook.
type ReturnReconciler struct {
	store       payment.Store
	clients     paystack.Provider
	transitions *Transitions
	metrics     *Metrics
	logger      *slog.Logger
}

// NewReturnReconciler creates a return-channel reconciler.
func NewReturnReconciler(store payment.Store, clients paystack.Provider, transitions *Transitions, metrics *Metrics, logger *slog.Logger) *ReturnReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReturnReconciler{
		store:       store,
		clients:     clients,
		transitions: transitions,
		metrics:     metrics,
		logger:      logger,
	}
}

// Reconcile verifies reference against Paystack and settles the donation.
// It is a no-op when the reference is empty or does not match the donation,
// or when the donation was already processed. Returns payment.ErrDonationNotFound
// for an unknown donation.
func (r *ReturnReconciler) Reconcile(ctx context.Context, reference, donationID string) (Receipt, error) {
	d, err := r.store.GetDonation(ctx, donationID)
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{DonationID: d.ID, Status: d.Status}

	if reference == "" || d.Processed || d.GatewayTransactionReference != reference {
		r.metrics.ObserveReconciliation(ChannelReturn, OutcomeNoop)
		return receipt, nil
	}

	txn, err := r.clients.API(d.TestMode).Verify(ctx, reference)
	if err != nil {
		r.logger.WarnContext(ctx, "transaction verification failed",
			slog.String("donation_id", d.ID),
			slog.String("error", paystack.ErrorMessage(err)),
		)
		r.metrics.ObserveReconciliation(ChannelReturn, OutcomeVerifyError)
		receipt.Notice = NoticeUnconfirmed
		return receipt, nil
	}
	if inFlight[txn.Status] {
		r.metrics.ObserveReconciliation(ChannelReturn, OutcomePending)
		receipt.Notice = NoticeUnconfirmed
		return receipt, nil
	}

	settled, err := r.transitions.ApplyCharge(ctx, d.ID, ChargeOutcome{
		Success:           txn.Succeeded(),
		TransactionID:     txn.ID,
		AuthorizationCode: txn.Authorization.AuthorizationCode,
		Message:           txn.FailureMessage(),
		Channel:           ChannelReturn,
	})
	if errors.Is(err, payment.ErrAlreadyProcessed) {
		// The webhook won the race; report what it stored.
		current, getErr := r.store.GetDonation(ctx, d.ID)
		if getErr != nil {
			return receipt, getErr
		}
		receipt.Status = current.Status
		return receipt, nil
	}
	if err != nil {
		return receipt, err
	}

	receipt.Status = settled.Status
	if !txn.Succeeded() {
		receipt.Notice = noticeFailurePrefix + txn.FailureMessage()
	}
	return receipt, nil
}
