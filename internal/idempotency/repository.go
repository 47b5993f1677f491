package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository keeps records in process memory.
type InMemoryRepository struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

func (r *InMemoryRepository) Get(_ context.Context, scope string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[scope]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *InMemoryRepository) Reserve(_ context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.Scope]; ok {
		return ErrKeyExists
	}
	cp := *record
	cp.Status = StatusProcessing
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	r.records[cp.Scope] = &cp
	return nil
}

func (r *InMemoryRepository) Complete(_ context.Context, scope string, statusCode int, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[scope]
	if !ok {
		return ErrKeyNotFound
	}
	rec.Status = StatusCompleted
	rec.ResponseStatusCode = statusCode
	rec.ResponseBody = body
	rec.ResponseHash = ComputeResponseHash(body)
	return nil
}

func (r *InMemoryRepository) Release(_ context.Context, scope string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, scope)
	return nil
}

func (r *InMemoryRepository) DeleteOlderThan(_ context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-age)
	var deleted int64
	for scope, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.records, scope)
			deleted++
		}
	}
	return deleted, nil
}
