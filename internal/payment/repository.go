// Package payment provides repositories for donation record persistence.
package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDonationNotFound is returned when a donation is not found.
	ErrDonationNotFound = errors.New("donation not found")

	// ErrRecurringNotFound is returned when a recurring donation is not found.
	ErrRecurringNotFound = errors.New("recurring donation not found")

	// ErrAlreadyProcessed is returned by SettleDonation when a terminal
	// transition has already been applied to the donation.
	ErrAlreadyProcessed = errors.New("donation already processed")

	// ErrDuplicateReference is returned when a gateway transaction reference is already in use.
	ErrDuplicateReference = errors.New("gateway transaction reference already exists")

	// ErrNoChange may be returned by an update function to abort the update without error.
	// The store passes it back to the caller unchanged.
	ErrNoChange = errors.New("no change")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyAuthorization is returned when an empty authorization token is stored.
	ErrEmptyAuthorization = errors.New("authorization token is empty")

	// ErrAuthorizationAlreadySet is returned when a different authorization token is already stored.
	ErrAuthorizationAlreadySet = errors.New("authorization token already set")
)

// SettleFunc applies a terminal transition to a donation and, when the donation
// belongs to a recurring plan, to that plan. plan is nil for one-time donations.
type SettleFunc func(d *Donation, plan *RecurringDonation) error

// Store defines persistence for donations and recurring donations.
//
// SettleDonation, UpdateDonation, UpdateRecurring and CreateRenewal are
// read-modify-write operations serialized per record: the function sees the
// current state and its changes are persisted atomically, or not at all if it
// returns an error.
type Store interface {
	CreateDonation(ctx context.Context, d *Donation) error
	CreateRecurring(ctx context.Context, r *RecurringDonation) error

	GetDonation(ctx context.Context, id string) (*Donation, error)
	GetDonationByReference(ctx context.Context, reference string) (*Donation, error)
	GetRecurring(ctx context.Context, id string) (*RecurringDonation, error)
	GetRecurringBySubscriptionID(ctx context.Context, subscriptionID string) (*RecurringDonation, error)
	GetRecurringByAuthorization(ctx context.Context, token string) (*RecurringDonation, error)

	// SettleDonation runs fn unless the donation was already processed, then sets
	// Processed as the final change of the same atomic update.
	// Returns ErrAlreadyProcessed if the processed flag was already set.
	SettleDonation(ctx context.Context, id string, fn SettleFunc) error

	UpdateDonation(ctx context.Context, id string, fn func(d *Donation) error) error
	UpdateRecurring(ctx context.Context, id string, fn func(r *RecurringDonation) error) error

	// CreateRenewal inserts a renewal donation for the plan and applies fn to the
	// plan in one atomic step. Returns ErrDuplicateReference if a donation with
	// the renewal's reference already exists.
	CreateRenewal(ctx context.Context, planID string, renewal *Donation, fn func(r *RecurringDonation) error) error
}

// InMemoryStore implements Store with in-memory storage.
// A single mutex serializes every read-modify-write.
type InMemoryStore struct {
	mu         sync.RWMutex
	donations  map[string]*Donation
	recurring  map[string]*RecurringDonation
	references map[string]string // reference -> donation id
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		donations:  make(map[string]*Donation),
		recurring:  make(map[string]*RecurringDonation),
		references: make(map[string]string),
	}
}

// CreateDonation adds a new donation.
func (s *InMemoryStore) CreateDonation(ctx context.Context, d *Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertDonation(d)
}

func (s *InMemoryStore) insertDonation(d *Donation) error {
	if d.GatewayTransactionReference != "" {
		if _, exists := s.references[d.GatewayTransactionReference]; exists {
			return ErrDuplicateReference
		}
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	now := time.Now()
	if d.CreatedAt == nil {
		d.CreatedAt = &now
	}
	if d.UpdatedAt == nil {
		d.UpdatedAt = &now
	}

	s.donations[d.ID] = copyDonation(d)
	if d.GatewayTransactionReference != "" {
		s.references[d.GatewayTransactionReference] = d.ID
	}
	return nil
}

// CreateRecurring adds a new recurring donation.
func (s *InMemoryStore) CreateRecurring(ctx context.Context, r *RecurringDonation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = RecurringPending
	}
	now := time.Now()
	if r.CreatedAt == nil {
		r.CreatedAt = &now
	}
	if r.UpdatedAt == nil {
		r.UpdatedAt = &now
	}

	s.recurring[r.ID] = copyRecurring(r)
	return nil
}

// GetDonation retrieves a donation by ID.
func (s *InMemoryStore) GetDonation(ctx context.Context, id string) (*Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.donations[id]
	if !ok {
		return nil, ErrDonationNotFound
	}
	return copyDonation(d), nil
}

// GetDonationByReference retrieves a donation by its gateway transaction reference.
func (s *InMemoryStore) GetDonationByReference(ctx context.Context, reference string) (*Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.references[reference]
	if !ok || reference == "" {
		return nil, ErrDonationNotFound
	}
	return copyDonation(s.donations[id]), nil
}

// GetRecurring retrieves a recurring donation by ID.
func (s *InMemoryStore) GetRecurring(ctx context.Context, id string) (*RecurringDonation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.recurring[id]
	if !ok {
		return nil, ErrRecurringNotFound
	}
	return copyRecurring(r), nil
}

// GetRecurringBySubscriptionID retrieves a recurring donation by Paystack subscription code.
func (s *InMemoryStore) GetRecurringBySubscriptionID(ctx context.Context, subscriptionID string) (*RecurringDonation, error) {
	if subscriptionID == "" {
		return nil, ErrRecurringNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.recurring {
		if r.GatewaySubscriptionID == subscriptionID {
			return copyRecurring(r), nil
		}
	}
	return nil, ErrRecurringNotFound
}

// GetRecurringByAuthorization retrieves a recurring donation by its authorization token.
func (s *InMemoryStore) GetRecurringByAuthorization(ctx context.Context, token string) (*RecurringDonation, error) {
	if token == "" {
		return nil, ErrRecurringNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.recurring {
		if r.GatewayAuthorizationToken == token {
			return copyRecurring(r), nil
		}
	}
	return nil, ErrRecurringNotFound
}

// SettleDonation applies a terminal transition under the store lock.
func (s *InMemoryStore) SettleDonation(ctx context.Context, id string, fn SettleFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.donations[id]
	if !ok {
		return ErrDonationNotFound
	}
	if stored.Processed {
		return ErrAlreadyProcessed
	}

	d := copyDonation(stored)
	var plan *RecurringDonation
	if d.RecurringDonationID != nil {
		if r, ok := s.recurring[*d.RecurringDonationID]; ok {
			plan = copyRecurring(r)
		}
	}

	if err := fn(d, plan); err != nil {
		return err
	}

	now := time.Now()
	if plan != nil {
		plan.UpdatedAt = &now
		s.recurring[plan.ID] = copyRecurring(plan)
	}
	d.Processed = true
	d.UpdatedAt = &now
	s.donations[d.ID] = copyDonation(d)
	return nil
}

// UpdateDonation runs fn against the current donation and stores the result.
func (s *InMemoryStore) UpdateDonation(ctx context.Context, id string, fn func(d *Donation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.donations[id]
	if !ok {
		return ErrDonationNotFound
	}
	d := copyDonation(stored)
	if err := fn(d); err != nil {
		return err
	}

	now := time.Now()
	d.UpdatedAt = &now
	s.donations[d.ID] = copyDonation(d)
	return nil
}

// UpdateRecurring runs fn against the current plan and stores the result.
func (s *InMemoryStore) UpdateRecurring(ctx context.Context, id string, fn func(r *RecurringDonation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.recurring[id]
	if !ok {
		return ErrRecurringNotFound
	}
	r := copyRecurring(stored)
	if err := fn(r); err != nil {
		return err
	}

	now := time.Now()
	r.UpdatedAt = &now
	s.recurring[r.ID] = copyRecurring(r)
	return nil
}

// CreateRenewal inserts a renewal donation and updates its plan atomically.
func (s *InMemoryStore) CreateRenewal(ctx context.Context, planID string, renewal *Donation, fn func(r *RecurringDonation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.recurring[planID]
	if !ok {
		return ErrRecurringNotFound
	}
	if renewal.GatewayTransactionReference != "" {
		if _, exists := s.references[renewal.GatewayTransactionReference]; exists {
			return ErrDuplicateReference
		}
	}
	if renewal.ID == "" {
		renewal.ID = uuid.New().String()
	}

	r := copyRecurring(stored)
	if err := fn(r); err != nil {
		return err
	}
	if err := s.insertDonation(renewal); err != nil {
		return err
	}

	now := time.Now()
	r.UpdatedAt = &now
	s.recurring[r.ID] = copyRecurring(r)
	return nil
}

// copyDonation creates a deep copy of a Donation.
func copyDonation(d *Donation) *Donation {
	if d == nil {
		return nil
	}
	copied := *d
	if d.RecurringDonationID != nil {
		id := *d.RecurringDonationID
		copied.RecurringDonationID = &id
	}
	if d.Log != nil {
		copied.Log = append([]LogEntry(nil), d.Log...)
	}
	return &copied
}

// copyRecurring creates a deep copy of a RecurringDonation.
func copyRecurring(r *RecurringDonation) *RecurringDonation {
	if r == nil {
		return nil
	}
	copied := *r
	if r.Log != nil {
		copied.Log = append([]LogEntry(nil), r.Log...)
	}
	return &copied
}
