// Package payment provides the donation and recurring donation records that
// Paystack events are reconciled against.
package payment

import (
	"fmt"
	"time"
)

// Donation statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
)

// Recurring donation statuses.
const (
	RecurringPending   = "pending"
	RecurringActive    = "active"
	RecurringFailed    = "failed"
	RecurringCancelled = "cancelled"
)

// LogEntry is a single line in a record's audit trail.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Donation is a single donation attempt.
type Donation struct {
	ID                          string     `json:"id"`
	Status                      string     `json:"status"`
	GatewayTransactionReference string     `json:"gateway_transaction_reference"` // Paystack reference, immutable once set
	GatewayTransactionURL       string     `json:"gateway_transaction_url,omitempty"`
	Processed                   bool       `json:"processed"` // terminal transition applied by a reconciliation channel
	Refunded                    bool       `json:"refunded"`
	TestMode                    bool       `json:"test_mode"`
	RecurringDonationID         *string    `json:"recurring_donation_id,omitempty"`
	IsRenewal                   bool       `json:"is_renewal"`
	Amount                      int64      `json:"amount"` // Lowest currency unit (kobo)
	Currency                    string     `json:"currency"`
	DonorEmail                  string     `json:"donor_email"`
	Log                         []LogEntry `json:"log,omitempty"`
	CreatedAt                   *time.Time `json:"created_at,omitempty"`
	UpdatedAt                   *time.Time `json:"updated_at,omitempty"`
}

// RecurringDonation is a recurring donation plan backed by a Paystack subscription.
type RecurringDonation struct {
	ID                        string     `json:"id"`
	Status                    string     `json:"status"`
	GatewaySubscriptionID     string     `json:"gateway_subscription_id,omitempty"`
	GatewayAuthorizationToken string     `json:"-"`
	EmailToken                string     `json:"-"` // empty until fetched from Paystack
	Cancelled                 bool       `json:"cancelled"`
	Refunded                  bool       `json:"refunded"`
	FailureReason             string     `json:"failure_reason,omitempty"`
	TestMode                  bool       `json:"test_mode"`
	Amount                    int64      `json:"amount"`
	Currency                  string     `json:"currency"`
	DonorEmail                string     `json:"donor_email"`
	Log                       []LogEntry `json:"log,omitempty"`
	CreatedAt                 *time.Time `json:"created_at,omitempty"`
	UpdatedAt                 *time.Time `json:"updated_at,omitempty"`
}

// AddLog appends a message to the donation's audit trail.
func (d *Donation) AddLog(format string, args ...any) {
	d.Log = append(d.Log, LogEntry{Time: time.Now().UTC(), Message: fmt.Sprintf(format, args...)})
}

// CanTransition reports whether the donation may move to the given status.
// Statuses only move forward, except completed may become refunded.
func (d *Donation) CanTransition(to string) bool {
	switch d.Status {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusRefunded
	default:
		return false
	}
}

// SetStatus moves the donation to a new status if the transition is allowed.
func (d *Donation) SetStatus(to string) error {
	if d.Status == to {
		return nil
	}
	if !d.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	d.Status = to
	return nil
}

// AddLog appends a message to the plan's audit trail.
func (r *RecurringDonation) AddLog(format string, args ...any) {
	r.Log = append(r.Log, LogEntry{Time: time.Now().UTC(), Message: fmt.Sprintf(format, args...)})
}

// Activated reports whether the plan has ever been activated by a successful payment.
func (r *RecurringDonation) Activated() bool {
	return r.GatewaySubscriptionID != "" || r.GatewayAuthorizationToken != "" ||
		r.Status == RecurringActive || r.Status == RecurringCancelled
}

// SetAuthorizationToken stores the reusable charge credential.
// The token is set at most once; a later different value is rejected.
func (r *RecurringDonation) SetAuthorizationToken(token string) error {
	if token == "" {
		return ErrEmptyAuthorization
	}
	if r.GatewayAuthorizationToken == "" {
		r.GatewayAuthorizationToken = token
		return nil
	}
	if r.GatewayAuthorizationToken != token {
		return ErrAuthorizationAlreadySet
	}
	return nil
}

// Activate moves a pending or failed plan to active.
func (r *RecurringDonation) Activate() {
	if r.Status == RecurringPending || r.Status == RecurringFailed || r.Status == "" {
		r.Status = RecurringActive
		r.FailureReason = ""
	}
}

// Fail marks a plan as failed with the given reason.
func (r *RecurringDonation) Fail(reason string) {
	r.Status = RecurringFailed
	r.FailureReason = reason
	r.AddLog("Recurring donation failed: %s", reason)
}

// Cancel marks the plan as cancelled. Returns false if it was already cancelled.
func (r *RecurringDonation) Cancel() bool {
	if r.Cancelled {
		return false
	}
	r.Cancelled = true
	r.Status = RecurringCancelled
	return true
}
