// Package db provides PostgreSQL connection handling for the donation record store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/onnwee/donation-reconciler/migrations"
)

// Pool settings for the record store connection.
const (
	MaxOpenConns    = 20
	MaxIdleConns    = 5
	ConnMaxLifetime = 30 * time.Minute
)

// Open opens a PostgreSQL connection pool and verifies it with a ping.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(MaxOpenConns)
	conn.SetMaxIdleConns(MaxIdleConns)
	conn.SetConnMaxLifetime(ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, conn *sql.DB) error {
	scripts, err := migrations.Up()
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	for i, script := range scripts {
		if _, err := conn.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
	}
	return nil
}
