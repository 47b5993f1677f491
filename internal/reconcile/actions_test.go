package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/donation-reconciler/internal/hooks"
	"github.com/onnwee/donation-reconciler/internal/payment"
	"github.com/onnwee/donation-reconciler/internal/paystack"
)

func okResponse(data string) (*paystack.Response, error) {
	resp := &paystack.Response{Status: true, Message: "ok"}
	if data != "" {
		resp.Data = []byte(data)
	}
	return resp, nil
}

func TestActions_Refund_AlreadyRefunded(t *testing.T) {
	store := payment.NewInMemoryStore()
	api := &fakeAPI{validKey: true}
	actions := NewActions(store, fakeProvider{api}, nil, nil, nil)

	d := &payment.Donation{GatewayTransactionReference: "ref-r", Status: payment.StatusCompleted, Refunded: true}
	if err := store.CreateDonation(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	ok, err := actions.Refund(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if ok {
		t.Error("expected false for refunded donation")
	}
	if api.postCount() != 0 {
		t.Errorf("expected no outbound call, got %d", api.postCount())
	}
}

func TestActions_Refund_Success(t *testing.T) {
	store := payment.NewInMemoryStore()
	var body paystack.RefundRequest
	api := &fakeAPI{validKey: true, post: func(path string, b any) (*paystack.Response, error) {
		if path != "refund" {
			t.Errorf("unexpected path %q", path)
		}
		body = b.(paystack.RefundRequest)
		return okResponse("")
	}}
	registry := hooks.NewRegistry(nil)
	refunded := 0
	registry.On(hooks.DonationRefunded, func(context.Context, hooks.Event) { refunded++ })
	actions := NewActions(store, fakeProvider{api}, registry, nil, nil)

	d := &payment.Donation{GatewayTransactionReference: "ref-ok", Status: payment.StatusCompleted, Processed: true}
	if err := store.CreateDonation(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	ok, err := actions.Refund(context.Background(), d.ID)
	if err != nil || !ok {
		t.Fatalf("expected successful refund, got %v, %v", ok, err)
	}
	if body.Transaction != "ref-ok" || body.MerchantNote != "Refunded from dashboard" {
		t.Errorf("unexpected refund body %+v", body)
	}

	got, _ := store.GetDonation(context.Background(), d.ID)
	if !got.Refunded || got.Status != payment.StatusRefunded {
		t.Errorf("unexpected donation %+v", got)
	}
	if got.Log[len(got.Log)-1].Message != "Refunded automatically from dashboard" {
		t.Errorf("unexpected log %+v", got.Log)
	}
	if refunded != 1 {
		t.Errorf("expected one refunded hook, got %d", refunded)
	}

	// A second refund is a no-op.
	ok, _ = actions.Refund(context.Background(), d.ID)
	if ok || api.postCount() != 1 {
		t.Errorf("second refund must not call Paystack, posts=%d", api.postCount())
	}
}

func TestActions_Refund_RemoteFailure(t *testing.T) {
	tests := []struct {
		name string
		post func(string, any) (*paystack.Response, error)
	}{
		{"api error", func(string, any) (*paystack.Response, error) {
			return nil, &paystack.APIError{StatusCode: 400, Message: "Transaction has been fully reversed"}
		}},
		{"status false", func(string, any) (*paystack.Response, error) {
			return &paystack.Response{Status: false, Message: "Transaction has been fully reversed"}, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := payment.NewInMemoryStore()
			actions := NewActions(store, fakeProvider{&fakeAPI{validKey: true, post: tt.post}}, nil, nil, nil)
			d := &payment.Donation{GatewayTransactionReference: "ref-x", Status: payment.StatusCompleted}
			if err := store.CreateDonation(context.Background(), d); err != nil {
				t.Fatal(err)
			}

			ok, err := actions.Refund(context.Background(), d.ID)
			if err != nil || ok {
				t.Fatalf("expected false, nil; got %v, %v", ok, err)
			}
			got, _ := store.GetDonation(context.Background(), d.ID)
			if got.Refunded || got.Status != payment.StatusCompleted {
				t.Errorf("donation must be unchanged, got %+v", got)
			}
			want := "Paystack refund failed with message: Transaction has been fully reversed"
			if len(got.Log) != 1 || got.Log[0].Message != want {
				t.Errorf("unexpected log %+v", got.Log)
			}
		})
	}
}

func TestActions_Refund_ConcurrentSendsOneRefund(t *testing.T) {
	store := payment.NewInMemoryStore()
	release := make(chan struct{})
	api := &fakeAPI{validKey: true, post: func(string, any) (*paystack.Response, error) {
		<-release
		return okResponse("")
	}}
	actions := NewActions(store, fakeProvider{api}, nil, nil, nil)
	d := &payment.Donation{GatewayTransactionReference: "ref-race", Status: payment.StatusCompleted}
	if err := store.CreateDonation(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	const callers = 10
	results := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := actions.Refund(context.Background(), d.ID)
			if err != nil {
				t.Errorf("Refund failed: %v", err)
			}
			results <- ok
		}()
	}
	// Callers that lost the claim return without posting.
	for api.postCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("expected one successful refund, got %d", succeeded)
	}
	if n := api.postCount(); n != 1 {
		t.Errorf("expected one refund request, got %d", n)
	}
	got, _ := store.GetDonation(context.Background(), d.ID)
	if !got.Refunded || got.Status != payment.StatusRefunded || len(got.Log) != 1 {
		t.Errorf("unexpected donation %+v", got)
	}
}

func TestActions_Refund_RetryAfterFailure(t *testing.T) {
	store := payment.NewInMemoryStore()
	fail := true
	api := &fakeAPI{validKey: true, post: func(string, any) (*paystack.Response, error) {
		if fail {
			return &paystack.Response{Status: false, Message: "Processor unavailable"}, nil
		}
		return okResponse("")
	}}
	actions := NewActions(store, fakeProvider{api}, nil, nil, nil)
	d := &payment.Donation{GatewayTransactionReference: "ref-retry", Status: payment.StatusCompleted}
	if err := store.CreateDonation(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	if ok, err := actions.Refund(context.Background(), d.ID); ok || err != nil {
		t.Fatalf("expected false, nil; got %v, %v", ok, err)
	}
	got, _ := store.GetDonation(context.Background(), d.ID)
	if got.Refunded {
		t.Fatal("failed refund must release the claim")
	}

	fail = false
	if ok, err := actions.Refund(context.Background(), d.ID); !ok || err != nil {
		t.Fatalf("expected retry to succeed, got %v, %v", ok, err)
	}
	if n := api.postCount(); n != 2 {
		t.Errorf("expected two refund requests, got %d", n)
	}
}

func TestActions_CanRefund_InvalidKey(t *testing.T) {
	actions := NewActions(payment.NewInMemoryStore(), fakeProvider{&fakeAPI{validKey: false}}, nil, nil, nil)
	if actions.CanRefund(&payment.Donation{GatewayTransactionReference: "r"}) {
		t.Error("expected CanRefund false without a valid key")
	}
}

func TestActions_EmailToken_FetchAndCache(t *testing.T) {
	store := payment.NewInMemoryStore()
	api := &fakeAPI{validKey: true, get: func(path string) (*paystack.Response, error) {
		if path != "subscription/SUB_1" {
			t.Errorf("unexpected path %q", path)
		}
		return okResponse(`{"subscription_code":"SUB_1","email_token":"tok_1"}`)
	}}
	actions := NewActions(store, fakeProvider{api}, nil, nil, nil)

	plan := &payment.RecurringDonation{GatewaySubscriptionID: "SUB_1", Status: payment.RecurringActive}
	if err := store.CreateRecurring(context.Background(), plan); err != nil {
		t.Fatal(err)
	}

	token, err := actions.EmailToken(context.Background(), plan)
	if err != nil || token != "tok_1" {
		t.Fatalf("expected tok_1, got %q, %v", token, err)
	}
	stored, _ := store.GetRecurring(context.Background(), plan.ID)
	if stored.EmailToken != "tok_1" {
		t.Errorf("expected cached token, got %q", stored.EmailToken)
	}

	if _, err := actions.EmailToken(context.Background(), stored); err != nil {
		t.Fatalf("cached EmailToken failed: %v", err)
	}
	if len(api.gets) != 1 {
		t.Errorf("expected a single fetch, got %d", len(api.gets))
	}
}

func TestActions_EmailToken_FailureCachesNothing(t *testing.T) {
	store := payment.NewInMemoryStore()
	api := &fakeAPI{validKey: true, get: func(string) (*paystack.Response, error) {
		return nil, &paystack.APIError{StatusCode: 404, Message: "Subscription not found"}
	}}
	actions := NewActions(store, fakeProvider{api}, nil, nil, nil)

	plan := &payment.RecurringDonation{GatewaySubscriptionID: "SUB_gone"}
	if err := store.CreateRecurring(context.Background(), plan); err != nil {
		t.Fatal(err)
	}

	token, err := actions.EmailToken(context.Background(), plan)
	if !errors.Is(err, ErrTokenUnavailable) {
		t.Fatalf("expected ErrTokenUnavailable, got %v", err)
	}
	if token != "" {
		t.Errorf("expected empty token, got %q", token)
	}
	stored, _ := store.GetRecurring(context.Background(), plan.ID)
	if stored.EmailToken != "" {
		t.Errorf("failure must not be cached, got %q", stored.EmailToken)
	}
}

func TestActions_Cancel(t *testing.T) {
	store := payment.NewInMemoryStore()
	var body paystack.DisableSubscriptionRequest
	api := &fakeAPI{validKey: true, post: func(path string, b any) (*paystack.Response, error) {
		if path != "subscription/disable" {
			t.Errorf("unexpected path %q", path)
		}
		body = b.(paystack.DisableSubscriptionRequest)
		return okResponse("")
	}}
	actions := NewActions(store, fakeProvider{api}, nil, nil, nil)

	plan := &payment.RecurringDonation{GatewaySubscriptionID: "SUB_2", EmailToken: "tok_2", Status: payment.RecurringActive}
	if err := store.CreateRecurring(context.Background(), plan); err != nil {
		t.Fatal(err)
	}

	ok, err := actions.Cancel(context.Background(), plan.ID)
	if err != nil || !ok {
		t.Fatalf("expected successful cancel, got %v, %v", ok, err)
	}
	if body.Code != "SUB_2" || body.Token != "tok_2" {
		t.Errorf("unexpected disable body %+v", body)
	}
	got, _ := store.GetRecurring(context.Background(), plan.ID)
	if !got.Cancelled || got.Status != payment.RecurringCancelled {
		t.Errorf("unexpected plan %+v", got)
	}

	ok, _ = actions.Cancel(context.Background(), plan.ID)
	if ok || api.postCount() != 1 {
		t.Errorf("second cancel must not call Paystack, posts=%d", api.postCount())
	}
}

func TestActions_Cancel_TokenFailure(t *testing.T) {
	store := payment.NewInMemoryStore()
	api := &fakeAPI{validKey: true, get: func(string) (*paystack.Response, error) {
		return &paystack.Response{Status: false, Message: "Subscription not found"}, nil
	}}
	actions := NewActions(store, fakeProvider{api}, nil, nil, nil)

	plan := &payment.RecurringDonation{GatewaySubscriptionID: "SUB_3", Status: payment.RecurringActive}
	if err := store.CreateRecurring(context.Background(), plan); err != nil {
		t.Fatal(err)
	}

	ok, err := actions.Cancel(context.Background(), plan.ID)
	if err != nil || ok {
		t.Fatalf("expected false, nil; got %v, %v", ok, err)
	}
	if api.postCount() != 0 {
		t.Error("disable must not be called without a token")
	}
	got, _ := store.GetRecurring(context.Background(), plan.ID)
	if got.Cancelled {
		t.Error("plan must not be cancelled")
	}
	if len(got.Log) != 1 || !strings.HasPrefix(got.Log[0].Message, "Paystack subscription cancellation failed with message: ") {
		t.Errorf("unexpected log %+v", got.Log)
	}
}

func TestActions_Cancel_NoSubscription(t *testing.T) {
	store := payment.NewInMemoryStore()
	api := &fakeAPI{validKey: true}
	actions := NewActions(store, fakeProvider{api}, nil, nil, nil)

	plan := &payment.RecurringDonation{Status: payment.RecurringPending}
	if err := store.CreateRecurring(context.Background(), plan); err != nil {
		t.Fatal(err)
	}
	ok, err := actions.Cancel(context.Background(), plan.ID)
	if err != nil || ok {
		t.Fatalf("expected false, nil; got %v, %v", ok, err)
	}
}
