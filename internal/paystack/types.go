// Package paystack implements the outbound Paystack REST client and webhook
// signature scheme used by the reconciler.
package paystack

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Transaction statuses reported by transaction/verify.
const (
	TransactionSuccess   = "success"
	TransactionFailed    = "failed"
	TransactionAbandoned = "abandoned"
)

// DefaultDashboardURL is the prefix for transaction links in the Paystack dashboard.
const DefaultDashboardURL = "https://dashboard.paystack.com/#/transactions/"

// Response is the envelope Paystack wraps every API response in.
type Response struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return fmt.Errorf("%w: response has no data", ErrMalformedResponse)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Authorization is a reusable card authorization.
type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Reusable          bool   `json:"reusable"`
}

// Transaction is the data object returned by transaction/verify.
type Transaction struct {
	ID              int64         `json:"id"`
	Status          string        `json:"status"`
	Reference       string        `json:"reference"`
	Domain          string        `json:"domain"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	GatewayResponse string        `json:"gateway_response"`
	Authorization   Authorization `json:"authorization"`

	// Message is the envelope message of the verify call.
	Message string `json:"-"`
}

// Succeeded reports whether Paystack charged the donor.
func (t *Transaction) Succeeded() bool {
	return t.Status == TransactionSuccess
}

// FailureMessage returns the most specific failure reason available.
func (t *Transaction) FailureMessage() string {
	if t.GatewayResponse != "" {
		return t.GatewayResponse
	}
	if t.Message != "" {
		return t.Message
	}
	return "Transaction " + t.Status
}

// Subscription is the data object returned by subscription/{code}.
type Subscription struct {
	SubscriptionCode string `json:"subscription_code"`
	EmailToken       string `json:"email_token"`
	Status           string `json:"status"`
}

// RefundRequest is the body of POST refund.
type RefundRequest struct {
	Transaction  string `json:"transaction"`
	MerchantNote string `json:"merchant_note,omitempty"`
}

// DisableSubscriptionRequest is the body of POST subscription/disable.
type DisableSubscriptionRequest struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

// TransactionURL returns the dashboard link for a transaction id.
func TransactionURL(dashboardURL string, id int64) string {
	if dashboardURL == "" {
		dashboardURL = DefaultDashboardURL
	}
	return dashboardURL + strconv.FormatInt(id, 10)
}

// SupportedPeriods removes recurring periods Paystack plans cannot bill.
// Paystack has no quarterly interval.
func SupportedPeriods(periods []string) []string {
	out := make([]string, 0, len(periods))
	for _, p := range periods {
		if strings.EqualFold(p, "quarter") {
			continue
		}
		out = append(out, p)
	}
	return out
}
