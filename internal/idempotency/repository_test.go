package idempotency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newRecord(key string) *Record {
	return &Record{
		Scope:    Scope("ops", "/operator/donations/{id}/refund", key),
		Key:      key,
		Operator: "ops",
		Method:   "POST",
		Route:    "/operator/donations/{id}/refund",
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key  string
		want error
	}{
		{"abc-123", nil},
		{strings.Repeat("k", MaxKeyLength), nil},
		{"", ErrInvalidKey},
		{strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}
	for _, tt := range tests {
		if err := ValidateKey(tt.key); !errors.Is(err, tt.want) {
			t.Errorf("ValidateKey(len %d) = %v, want %v", len(tt.key), err, tt.want)
		}
	}
}

func TestComputeResponseHash(t *testing.T) {
	a := ComputeResponseHash(`{"refunded":true}`)
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
	if a != ComputeResponseHash(`{"refunded":true}`) {
		t.Error("hash is not deterministic")
	}
	if a == ComputeResponseHash(`{"refunded":false}`) {
		t.Error("different bodies hashed equal")
	}
}

func TestScope_SeparatesOperators(t *testing.T) {
	if Scope("a", "/r", "k") == Scope("b", "/r", "k") {
		t.Error("scope must include the operator")
	}
	if Scope("a", "/r1", "k") == Scope("a", "/r2", "k") {
		t.Error("scope must include the route")
	}
}

func TestInMemoryRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	rec := newRecord("key-1")

	if _, err := repo.Get(ctx, rec.Scope); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get() before reserve = %v", err)
	}
	if err := repo.Reserve(ctx, rec); err != nil {
		t.Fatalf("Reserve() = %v", err)
	}
	got, _ := repo.Get(ctx, rec.Scope)
	if got.Status != StatusProcessing || got.CreatedAt.IsZero() {
		t.Errorf("reserved record = %+v", got)
	}
	if err := repo.Reserve(ctx, newRecord("key-1")); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Reserve() = %v, want ErrKeyExists", err)
	}

	if err := repo.Complete(ctx, rec.Scope, 200, `{"refunded":true}`); err != nil {
		t.Fatalf("Complete() = %v", err)
	}
	got, _ = repo.Get(ctx, rec.Scope)
	if got.Status != StatusCompleted || got.ResponseStatusCode != 200 || got.ResponseBody != `{"refunded":true}` {
		t.Errorf("completed record = %+v", got)
	}
	if got.ResponseHash != ComputeResponseHash(got.ResponseBody) {
		t.Error("response hash not stored")
	}

	got.ResponseBody = "mutated"
	again, _ := repo.Get(ctx, rec.Scope)
	if again.ResponseBody == "mutated" {
		t.Error("Get() returned shared state")
	}

	if err := repo.Complete(ctx, "missing", 200, ""); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Complete(missing) = %v", err)
	}
}

func TestInMemoryRepository_ReserveInvalidKey(t *testing.T) {
	repo := NewInMemoryRepository()
	if err := repo.Reserve(context.Background(), newRecord("")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Reserve(empty) = %v", err)
	}
}

func TestInMemoryRepository_Release(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	rec := newRecord("key-2")
	_ = repo.Reserve(ctx, rec)
	if err := repo.Release(ctx, rec.Scope); err != nil {
		t.Fatal(err)
	}
	if err := repo.Reserve(ctx, rec); err != nil {
		t.Errorf("Reserve() after Release() = %v", err)
	}
}

func TestInMemoryRepository_ConcurrentReserve(t *testing.T) {
	repo := NewInMemoryRepository()
	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.Reserve(context.Background(), newRecord("race")) == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Errorf("reservations won = %d, want 1", won.Load())
	}
}

func TestCleanupOldKeys(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	old := newRecord("old")
	old.CreatedAt = time.Now().Add(-25 * time.Hour)
	recent := newRecord("recent")
	_ = repo.Reserve(ctx, old)
	_ = repo.Reserve(ctx, recent)

	deleted, err := CleanupOldKeys(ctx, repo, DefaultExpiry, nil)
	if err != nil || deleted != 1 {
		t.Fatalf("CleanupOldKeys() = %d, %v; want 1, nil", deleted, err)
	}
	if _, err := repo.Get(ctx, old.Scope); !errors.Is(err, ErrKeyNotFound) {
		t.Error("old key survived cleanup")
	}
	if _, err := repo.Get(ctx, recent.Scope); err != nil {
		t.Error("recent key was deleted")
	}
}
