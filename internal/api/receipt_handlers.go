package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/donation-reconciler/internal/payment"
	"github.com/onnwee/donation-reconciler/internal/reconcile"
)

// ReturnReconciler is satisfied by *reconcile.ReturnReconciler.
type ReturnReconciler interface {
	Reconcile(ctx context.Context, reference, donationID string) (reconcile.Receipt, error)
}

// ReceiptHandlers serves the donor return channel.
type ReceiptHandlers struct {
	reconciler ReturnReconciler
	logger     *slog.Logger
}

// NewReceiptHandlers creates the donor return handler backed by reconciler.
func NewReceiptHandlers(reconciler ReturnReconciler, logger *slog.Logger) *ReceiptHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptHandlers{reconciler: reconciler, logger: logger}
}

// GetReceipt handles GET /donations/{id}/receipt?reference=.
// The donor lands here after checkout; the reference in the query is the
// one Paystack appended to the callback URL.
func (h *ReceiptHandlers) GetReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "donation id is required")
		return
	}

	receipt, err := h.reconciler.Reconcile(ctx, r.URL.Query().Get("reference"), id)
	if errors.Is(err, payment.ErrDonationNotFound) {
		WriteError(w, ctx, http.StatusNotFound, ErrCodeDonationNotFound, "Donation not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "return reconciliation failed", "donation_id", id, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load donation")
		return
	}
	writeJSON(w, ctx, http.StatusOK, receipt)
}
