package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/donation-reconciler/internal/tracing"
)

const table = "idempotency_keys"

// PostgresRepository stores records in the idempotency_keys table, so
// replays survive restarts and are shared across replicas.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, scope string) (rec *Record, err error) {
	ctx, end := tracing.StartDBSpan(ctx, table, tracing.DBOperationQuery)
	defer func() { end(err) }()

	rec = &Record{}
	err = r.db.QueryRowContext(ctx, `
		SELECT scope, idempotency_key, operator, method, route, status,
		       response_hash, response_body, response_status_code, created_at
		FROM idempotency_keys WHERE scope = $1`, scope).Scan(
		&rec.Scope, &rec.Key, &rec.Operator, &rec.Method, &rec.Route, &rec.Status,
		&rec.ResponseHash, &rec.ResponseBody, &rec.ResponseStatusCode, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Reserve(ctx context.Context, record *Record) (err error) {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}
	ctx, end := tracing.StartDBSpan(ctx, table, tracing.DBOperationInsert)
	defer func() { end(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (scope, idempotency_key, operator, method, route, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.Scope, record.Key, record.Operator, record.Method, record.Route, StatusProcessing,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrKeyExists
	}
	if err != nil {
		return fmt.Errorf("reserve idempotency key: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Complete(ctx context.Context, scope string, statusCode int, body string) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, table, tracing.DBOperationUpdate)
	defer func() { end(err) }()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response_status_code = $3, response_body = $4, response_hash = $5
		WHERE scope = $1`,
		scope, StatusCompleted, statusCode, body, ComputeResponseHash(body),
	)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (r *PostgresRepository) Release(ctx context.Context, scope string) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, table, tracing.DBOperationDelete)
	defer func() { end(err) }()

	if _, err = r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE scope = $1 AND status = $2`, scope, StatusProcessing); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (n int64, err error) {
	ctx, end := tracing.StartDBSpan(ctx, table, tracing.DBOperationDelete)
	defer func() { end(err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("delete old idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
