package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func newPendingDonation(t *testing.T, store *InMemoryStore, reference string) *Donation {
	t.Helper()
	d := &Donation{
		GatewayTransactionReference: reference,
		Amount:                      500000,
		Currency:                    "NGN",
		DonorEmail:                  "donor@example.com",
		TestMode:                    true,
	}
	if err := store.CreateDonation(context.Background(), d); err != nil {
		t.Fatalf("CreateDonation failed: %v", err)
	}
	return d
}

func TestInMemoryStore_CreateDonation_Defaults(t *testing.T) {
	store := NewInMemoryStore()
	d := newPendingDonation(t, store, "ref-1")

	got, err := store.GetDonation(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetDonation failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, got.Status)
	}
	if got.ID == "" || got.CreatedAt == nil || got.UpdatedAt == nil {
		t.Error("expected id and timestamps to be set")
	}

	byRef, err := store.GetDonationByReference(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("GetDonationByReference failed: %v", err)
	}
	if byRef.ID != d.ID {
		t.Errorf("expected id %s, got %s", d.ID, byRef.ID)
	}
}

func TestInMemoryStore_DuplicateReference(t *testing.T) {
	store := NewInMemoryStore()
	newPendingDonation(t, store, "ref-dup")

	err := store.CreateDonation(context.Background(), &Donation{GatewayTransactionReference: "ref-dup"})
	if !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestInMemoryStore_NotFound(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.GetDonation(ctx, "missing"); !errors.Is(err, ErrDonationNotFound) {
		t.Errorf("expected ErrDonationNotFound, got %v", err)
	}
	if _, err := store.GetDonationByReference(ctx, ""); !errors.Is(err, ErrDonationNotFound) {
		t.Errorf("expected ErrDonationNotFound for empty reference, got %v", err)
	}
	if _, err := store.GetRecurringBySubscriptionID(ctx, ""); !errors.Is(err, ErrRecurringNotFound) {
		t.Errorf("expected ErrRecurringNotFound, got %v", err)
	}
	if _, err := store.GetRecurringByAuthorization(ctx, "AUTH_none"); !errors.Is(err, ErrRecurringNotFound) {
		t.Errorf("expected ErrRecurringNotFound, got %v", err)
	}
	err := store.SettleDonation(ctx, "missing", func(*Donation, *RecurringDonation) error { return nil })
	if !errors.Is(err, ErrDonationNotFound) {
		t.Errorf("expected ErrDonationNotFound, got %v", err)
	}
}

func TestInMemoryStore_SettleDonation_Guard(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	d := newPendingDonation(t, store, "ref-guard")

	err := store.SettleDonation(ctx, d.ID, func(d *Donation, _ *RecurringDonation) error {
		if d.Processed {
			t.Error("settle function must see an unprocessed donation")
		}
		d.AddLog("Payment completed via webhook")
		return d.SetStatus(StatusCompleted)
	})
	if err != nil {
		t.Fatalf("first SettleDonation failed: %v", err)
	}

	called := false
	err = store.SettleDonation(ctx, d.ID, func(*Donation, *RecurringDonation) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got %v", err)
	}
	if called {
		t.Error("settle function must not run for a processed donation")
	}

	got, _ := store.GetDonation(ctx, d.ID)
	if !got.Processed || got.Status != StatusCompleted {
		t.Errorf("expected processed completed donation, got processed=%v status=%s", got.Processed, got.Status)
	}
	if len(got.Log) != 1 {
		t.Errorf("expected 1 log entry, got %d", len(got.Log))
	}
}

func TestInMemoryStore_SettleDonation_ErrorAborts(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	d := newPendingDonation(t, store, "ref-abort")

	boom := errors.New("boom")
	err := store.SettleDonation(ctx, d.ID, func(d *Donation, _ *RecurringDonation) error {
		d.Status = StatusFailed
		d.AddLog("should not persist")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := store.GetDonation(ctx, d.ID)
	if got.Processed || got.Status != StatusPending || len(got.Log) != 0 {
		t.Errorf("expected unchanged donation, got %+v", got)
	}
}

func TestInMemoryStore_SettleDonation_ConcurrentExactlyOnce(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	d := newPendingDonation(t, store, "ref-race")

	const workers = 50
	var applied int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := store.SettleDonation(ctx, d.ID, func(d *Donation, _ *RecurringDonation) error {
				atomic.AddInt32(&applied, 1)
				d.AddLog("Payment completed via webhook")
				return d.SetStatus(StatusCompleted)
			})
			if err != nil && !errors.Is(err, ErrAlreadyProcessed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("expected exactly one applied transition, got %d", applied)
	}
	got, _ := store.GetDonation(ctx, d.ID)
	if len(got.Log) != 1 {
		t.Errorf("expected 1 log entry, got %d", len(got.Log))
	}
}

func TestInMemoryStore_SettleDonation_LoadsPlan(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	plan := &RecurringDonation{Amount: 100000, Currency: "NGN"}
	if err := store.CreateRecurring(ctx, plan); err != nil {
		t.Fatalf("CreateRecurring failed: %v", err)
	}
	d := &Donation{GatewayTransactionReference: "ref-plan", RecurringDonationID: &plan.ID}
	if err := store.CreateDonation(ctx, d); err != nil {
		t.Fatalf("CreateDonation failed: %v", err)
	}

	err := store.SettleDonation(ctx, d.ID, func(d *Donation, p *RecurringDonation) error {
		if p == nil {
			t.Fatal("expected plan to be loaded")
		}
		if err := p.SetAuthorizationToken("AUTH_abc"); err != nil {
			return err
		}
		p.Activate()
		return d.SetStatus(StatusCompleted)
	})
	if err != nil {
		t.Fatalf("SettleDonation failed: %v", err)
	}

	got, err := store.GetRecurringByAuthorization(ctx, "AUTH_abc")
	if err != nil {
		t.Fatalf("GetRecurringByAuthorization failed: %v", err)
	}
	if got.Status != RecurringActive {
		t.Errorf("expected active plan, got %s", got.Status)
	}
}

func TestInMemoryStore_CreateRenewal(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	plan := &RecurringDonation{Status: RecurringActive, GatewaySubscriptionID: "SUB_1", GatewayAuthorizationToken: "AUTH_1"}
	if err := store.CreateRecurring(ctx, plan); err != nil {
		t.Fatalf("CreateRecurring failed: %v", err)
	}

	renewal := &Donation{
		GatewayTransactionReference: "renew-1",
		Status:                      StatusCompleted,
		Processed:                   true,
		IsRenewal:                   true,
		RecurringDonationID:         &plan.ID,
	}
	err := store.CreateRenewal(ctx, plan.ID, renewal, func(r *RecurringDonation) error {
		if renewal.ID == "" {
			t.Error("expected renewal id before the plan update runs")
		}
		r.AddLog("Renewal processed. Donation #%s", renewal.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("CreateRenewal failed: %v", err)
	}

	dup := &Donation{GatewayTransactionReference: "renew-1", IsRenewal: true, RecurringDonationID: &plan.ID}
	err = store.CreateRenewal(ctx, plan.ID, dup, func(r *RecurringDonation) error {
		r.AddLog("duplicate")
		return nil
	})
	if !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference, got %v", err)
	}

	got, _ := store.GetRecurring(ctx, plan.ID)
	if len(got.Log) != 1 {
		t.Errorf("expected exactly one renewal log entry, got %d", len(got.Log))
	}
}

func TestInMemoryStore_UpdateRecurring_NoChange(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	plan := &RecurringDonation{Status: RecurringActive}
	if err := store.CreateRecurring(ctx, plan); err != nil {
		t.Fatalf("CreateRecurring failed: %v", err)
	}

	err := store.UpdateRecurring(ctx, plan.ID, func(r *RecurringDonation) error {
		r.Status = RecurringFailed
		return ErrNoChange
	})
	if !errors.Is(err, ErrNoChange) {
		t.Fatalf("expected ErrNoChange, got %v", err)
	}
	got, _ := store.GetRecurring(ctx, plan.ID)
	if got.Status != RecurringActive {
		t.Errorf("expected unchanged status, got %s", got.Status)
	}
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	d := newPendingDonation(t, store, "ref-copy")

	got, _ := store.GetDonation(ctx, d.ID)
	got.Status = StatusRefunded
	got.AddLog("mutated outside the store")

	again, _ := store.GetDonation(ctx, d.ID)
	if again.Status != StatusPending || len(again.Log) != 0 {
		t.Error("modifying a returned donation must not affect the store")
	}
}
