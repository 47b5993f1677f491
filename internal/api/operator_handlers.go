package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/donation-reconciler/internal/middleware"
	"github.com/onnwee/donation-reconciler/internal/payment"
	"github.com/onnwee/donation-reconciler/internal/paystack"
)

// RecurringPeriods are the billing periods donation forms can offer.
var RecurringPeriods = []string{"day", "week", "month", "quarter", "year"}

// OperatorActions is satisfied by *reconcile.Actions.
type OperatorActions interface {
	Refund(ctx context.Context, donationID string) (bool, error)
	Cancel(ctx context.Context, planID string) (bool, error)
}

// RefundResponse is the body of a refund call. Refunded is false when the
// donation was already refunded or Paystack declined.
type RefundResponse struct {
	DonationID string `json:"donation_id"`
	Refunded   bool   `json:"refunded"`
}

// CancelResponse is the body of a cancel call.
type CancelResponse struct {
	RecurringID string `json:"recurring_id"`
	Cancelled   bool   `json:"cancelled"`
}

// PeriodsResponse splits RecurringPeriods by what Paystack can bill.
type PeriodsResponse struct {
	Periods     []string `json:"periods"`
	Unavailable []string `json:"unavailable"`
}

// OperatorHandlers serves the authenticated operator endpoints.
type OperatorHandlers struct {
	actions OperatorActions
	logger  *slog.Logger
}

// NewOperatorHandlers creates the operator refund and cancellation handlers.
func NewOperatorHandlers(actions OperatorActions, logger *slog.Logger) *OperatorHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperatorHandlers{actions: actions, logger: logger}
}

// RefundDonation handles POST /operator/donations/{id}/refund.
func (h *OperatorHandlers) RefundDonation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	refunded, err := h.actions.Refund(ctx, id)
	switch {
	case errors.Is(err, payment.ErrDonationNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeDonationNotFound, "Donation not found")
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "refund failed", "donation_id", id, "operator", middleware.GetOperator(ctx), "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Refund could not be recorded")
		return
	}
	h.logger.InfoContext(ctx, "operator refund", "donation_id", id, "operator", middleware.GetOperator(ctx), "refunded", refunded)
	writeJSON(w, ctx, http.StatusOK, RefundResponse{DonationID: id, Refunded: refunded})
}

// CancelRecurring handles POST /operator/recurring/{id}/cancel.
func (h *OperatorHandlers) CancelRecurring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	cancelled, err := h.actions.Cancel(ctx, id)
	switch {
	case errors.Is(err, payment.ErrRecurringNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeRecurringNotFound, "Recurring donation not found")
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "cancel failed", "recurring_id", id, "operator", middleware.GetOperator(ctx), "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Cancellation could not be recorded")
		return
	}
	h.logger.InfoContext(ctx, "operator cancel", "recurring_id", id, "operator", middleware.GetOperator(ctx), "cancelled", cancelled)
	writeJSON(w, ctx, http.StatusOK, CancelResponse{RecurringID: id, Cancelled: cancelled})
}

// ListPeriods handles GET /operator/recurring/periods.
func (h *OperatorHandlers) ListPeriods(w http.ResponseWriter, r *http.Request) {
	supported := paystack.SupportedPeriods(RecurringPeriods)
	keep := make(map[string]bool, len(supported))
	for _, p := range supported {
		keep[p] = true
	}
	unavailable := []string{}
	for _, p := range RecurringPeriods {
		if !keep[p] {
			unavailable = append(unavailable, p)
		}
	}
	writeJSON(w, r.Context(), http.StatusOK, PeriodsResponse{Periods: supported, Unavailable: unavailable})
}
