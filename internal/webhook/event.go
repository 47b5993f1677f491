// Package webhook receives signed Paystack event callbacks, classifies them and
// dispatches them to the donation or subscription processor.
package webhook

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Subject is the record family an event targets.
type Subject string

const (
	SubjectDonation     Subject = "donation"
	SubjectSubscription Subject = "subscription"
)

// Kind is what happened to the targeted record.
type Kind string

const (
	KindSuccess      Kind = "success"
	KindFailure      Kind = "failure"
	KindFirstPayment Kind = "first_payment"
	KindRenewal      Kind = "renewal"
	KindDisable      Kind = "disable"
	KindIgnored      Kind = "ignored"
)

// Event is a verified, classified webhook delivery.
type Event struct {
	Type           string
	Subject        Subject
	Kind           Kind
	CorrelationKey string
	TestMode       bool
	Payload        []byte
	Signature      string
	Data           Data
}

// Data holds the fields of the event data object the processors read.
type Data struct {
	ID               int64         `json:"id"`
	Domain           string        `json:"domain"`
	Status           string        `json:"status"`
	Reference        string        `json:"reference"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	GatewayResponse  string        `json:"gateway_response"`
	Message          string        `json:"message"`
	SubscriptionCode string        `json:"subscription_code"`
	EmailToken       string        `json:"email_token"`
	InvoiceCode      string        `json:"invoice_code"`
	Paid             flexBool      `json:"paid"`
	Authorization    authorization `json:"authorization"`
	Plan             planRef       `json:"plan"`
	Subscription     struct {
		SubscriptionCode string `json:"subscription_code"`
		EmailToken       string `json:"email_token"`
	} `json:"subscription"`
	Transaction struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"transaction"`
}

type authorization struct {
	AuthorizationCode string `json:"authorization_code"`
}

// FailureMessage returns the processor's explanation of a failed charge.
func (d *Data) FailureMessage() string {
	switch {
	case d.GatewayResponse != "":
		return d.GatewayResponse
	case d.Message != "":
		return d.Message
	default:
		return "Payment failed"
	}
}

// RenewalReference is the reference recorded on a renewal donation.
func (d *Data) RenewalReference() string {
	if d.Transaction.Reference != "" {
		return d.Transaction.Reference
	}
	return d.InvoiceCode
}

// planRef records whether the payload references a plan.
// Paystack sends an empty object, an object with plan_code, or a bare code string.
type planRef struct {
	Code string
}

func (p *planRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &p.Code)
	}
	if b[0] != '{' {
		return nil
	}
	var obj struct {
		PlanCode string `json:"plan_code"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	p.Code = obj.PlanCode
	return nil
}

// flexBool accepts true/false, 0/1 and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(b), `"`))
	if s == "" || s == "null" {
		*f = false
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*f = flexBool(v)
	return nil
}

// HasPlan reports whether the charge belongs to a Paystack plan.
func (d *Data) HasPlan() bool {
	return d.Plan.Code != ""
}

type classification struct {
	subject Subject
	kind    Kind
	key     func(*Data) string
	// paidOnly downgrades the event to ignored unless data.paid is true.
	paidOnly bool
}

func byReference(d *Data) string        { return d.Reference }
func bySubscriptionCode(d *Data) string { return d.SubscriptionCode }
func byInvoiceSubscription(d *Data) string {
	return d.Subscription.SubscriptionCode
}

// eventTable maps Paystack event names to processor routing.
// Events missing from the table are acknowledged and ignored.
var eventTable = map[string]classification{
	"charge.success":            {subject: SubjectDonation, kind: KindSuccess, key: byReference},
	"charge.failed":             {subject: SubjectDonation, kind: KindFailure, key: byReference},
	"subscription.create":       {subject: SubjectSubscription, kind: KindFirstPayment, key: bySubscriptionCode},
	"invoice.update":            {subject: SubjectSubscription, kind: KindRenewal, key: byInvoiceSubscription, paidOnly: true},
	"invoice.payment_succeeded": {subject: SubjectSubscription, kind: KindRenewal, key: byInvoiceSubscription},
	"subscription.disable":      {subject: SubjectSubscription, kind: KindDisable, key: bySubscriptionCode},
	"subscription.not_renew":    {subject: SubjectSubscription, kind: KindDisable, key: bySubscriptionCode},
}

// classify fills Subject, Kind and CorrelationKey from the event type.
func classify(e *Event) {
	c, ok := eventTable[e.Type]
	if !ok || (c.paidOnly && !bool(e.Data.Paid)) {
		e.Subject = SubjectDonation
		e.Kind = KindIgnored
		return
	}
	e.Subject = c.subject
	e.Kind = c.kind
	e.CorrelationKey = c.key(&e.Data)
}
