// Package health implements readiness checks for the reconciler's
// dependencies: the record store, Redis and the Paystack API.
package health

import (
	"context"
	"database/sql"
)

// Checker is one readiness dependency.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// DBChecker pings the record store.
type DBChecker struct {
	db *sql.DB
}

func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
