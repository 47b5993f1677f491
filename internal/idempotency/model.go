// Package idempotency stores Idempotency-Key records so that a retried
// operator refund or cancel replays the first response instead of calling the
// gateway again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// A record is reserved as processing before the handler runs and completed
// once the response is known. The values must match the CHECK constraint in
// migrations/000002.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

var (
	ErrKeyNotFound = errors.New("idempotency key not found")
	ErrKeyExists   = errors.New("idempotency key already exists")
	ErrInvalidKey  = errors.New("invalid idempotency key")
	ErrKeyTooLong  = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 64

// Record is one stored key. Scope is the lookup identity (operator, route
// and key) so that two operators can reuse the same key value.
type Record struct {
	Scope              string    `json:"scope"`
	Key                string    `json:"key"`
	Operator           string    `json:"operator,omitempty"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	Status             string    `json:"status"`
	ResponseHash       string    `json:"response_hash"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
	CreatedAt          time.Time `json:"created_at"`
}

// Scope joins the identity parts of a key.
func Scope(operator, route, key string) string {
	return operator + "|" + route + "|" + key
}

// ValidateKey rejects empty and oversized keys.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// ComputeResponseHash is the hex SHA-256 of a response body.
func ComputeResponseHash(responseBody string) string {
	hash := sha256.Sum256([]byte(responseBody))
	return hex.EncodeToString(hash[:])
}

// Repository persists records.
type Repository interface {
	// Get returns ErrKeyNotFound for an unknown scope.
	Get(ctx context.Context, scope string) (*Record, error)
	// Reserve inserts a processing record, or ErrKeyExists if the scope is taken.
	Reserve(ctx context.Context, record *Record) error
	// Complete stores the final response for a reserved scope.
	Complete(ctx context.Context, scope string, statusCode int, body string) error
	// Release drops a reservation whose request did not produce a cacheable
	// response, letting the client retry with the same key.
	Release(ctx context.Context, scope string) error
	// DeleteOlderThan removes records past their retention.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
