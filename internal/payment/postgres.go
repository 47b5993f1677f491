package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/donation-reconciler/internal/tracing"
)

const (
	recordTypeDonation  = "donation"
	recordTypeRecurring = "recurring"

	// uniqueViolation is the PostgreSQL error code for unique constraint violations.
	uniqueViolation = "23505"
)

const donationColumns = `id, status, gateway_transaction_reference, gateway_transaction_url, processed,
	refunded, test_mode, recurring_donation_id, is_renewal, amount, currency, donor_email,
	created_at, updated_at`

const recurringColumns = `id, status, gateway_subscription_id, gateway_authorization_token, email_token,
	cancelled, refunded, failure_reason, test_mode, amount, currency, donor_email,
	created_at, updated_at`

// PostgresStore implements Store using PostgreSQL.
// Read-modify-write operations lock the affected rows with SELECT ... FOR UPDATE
// inside a transaction.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateDonation inserts a new donation.
func (s *PostgresStore) CreateDonation(ctx context.Context, d *Donation) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "donations", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertDonation(ctx, tx, d)
	})
}

func (s *PostgresStore) insertDonation(ctx context.Context, q queryer, d *Donation) error {
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

	_, err := q.ExecContext(ctx, `
		INSERT INTO donations (`+donationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.Status, d.GatewayTransactionReference, d.GatewayTransactionURL, d.Processed,
		d.Refunded, d.TestMode, nullString(d.RecurringDonationID), d.IsRenewal, d.Amount, d.Currency,
		d.DonorEmail, *d.CreatedAt, *d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert donation: %w", err)
	}
	return s.insertLogs(ctx, q, recordTypeDonation, d.ID, d.Log)
}

// CreateRecurring inserts a new recurring donation.
func (s *PostgresStore) CreateRecurring(ctx context.Context, r *RecurringDonation) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "recurring_donations", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

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

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recurring_donations (`+recurringColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			r.ID, r.Status, r.GatewaySubscriptionID, r.GatewayAuthorizationToken, r.EmailToken,
			r.Cancelled, r.Refunded, r.FailureReason, r.TestMode, r.Amount, r.Currency, r.DonorEmail,
			*r.CreatedAt, *r.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert recurring donation: %w", err)
		}
		return s.insertLogs(ctx, tx, recordTypeRecurring, r.ID, r.Log)
	})
}

// GetDonation retrieves a donation by ID.
func (s *PostgresStore) GetDonation(ctx context.Context, id string) (d *Donation, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "donations", tracing.DBOperationQuery)
	defer func() { endSpan(ignoreNotFound(err)) }()

	return s.loadDonation(ctx, s.db, `WHERE id = $1`, id)
}

// GetDonationByReference retrieves a donation by its gateway transaction reference.
func (s *PostgresStore) GetDonationByReference(ctx context.Context, reference string) (d *Donation, err error) {
	if reference == "" {
		return nil, ErrDonationNotFound
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, "donations", tracing.DBOperationQuery)
	defer func() { endSpan(ignoreNotFound(err)) }()

	return s.loadDonation(ctx, s.db, `WHERE gateway_transaction_reference = $1`, reference)
}

// GetRecurring retrieves a recurring donation by ID.
func (s *PostgresStore) GetRecurring(ctx context.Context, id string) (r *RecurringDonation, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "recurring_donations", tracing.DBOperationQuery)
	defer func() { endSpan(ignoreNotFound(err)) }()

	return s.loadRecurring(ctx, s.db, `WHERE id = $1`, id)
}

// GetRecurringBySubscriptionID retrieves a recurring donation by Paystack subscription code.
func (s *PostgresStore) GetRecurringBySubscriptionID(ctx context.Context, subscriptionID string) (*RecurringDonation, error) {
	if subscriptionID == "" {
		return nil, ErrRecurringNotFound
	}
	return s.loadRecurring(ctx, s.db, `WHERE gateway_subscription_id = $1`, subscriptionID)
}

// GetRecurringByAuthorization retrieves a recurring donation by its authorization token.
func (s *PostgresStore) GetRecurringByAuthorization(ctx context.Context, token string) (*RecurringDonation, error) {
	if token == "" {
		return nil, ErrRecurringNotFound
	}
	return s.loadRecurring(ctx, s.db, `WHERE gateway_authorization_token = $1 ORDER BY created_at LIMIT 1`, token)
}

// SettleDonation locks the donation row (and its plan row) and applies fn once.
func (s *PostgresStore) SettleDonation(ctx context.Context, id string, fn SettleFunc) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "donations", tracing.DBOperationUpdate)
	defer func() { endSpan(ignoreGuard(err)) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		d, err := s.loadDonation(ctx, tx, `WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		if d.Processed {
			return ErrAlreadyProcessed
		}

		var plan *RecurringDonation
		var planLogs int
		if d.RecurringDonationID != nil {
			plan, err = s.loadRecurring(ctx, tx, `WHERE id = $1 FOR UPDATE`, *d.RecurringDonationID)
			if err != nil && !errors.Is(err, ErrRecurringNotFound) {
				return err
			}
			if plan != nil {
				planLogs = len(plan.Log)
			}
		}
		donationLogs := len(d.Log)

		if err := fn(d, plan); err != nil {
			return err
		}

		if plan != nil {
			if err := s.saveRecurring(ctx, tx, plan, planLogs); err != nil {
				return err
			}
		}

		d.Processed = true
		return s.saveDonation(ctx, tx, d, donationLogs)
	})
}

// UpdateDonation locks the donation row and stores the result of fn.
func (s *PostgresStore) UpdateDonation(ctx context.Context, id string, fn func(d *Donation) error) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "donations", tracing.DBOperationUpdate)
	defer func() { endSpan(ignoreGuard(err)) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		d, err := s.loadDonation(ctx, tx, `WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		logs := len(d.Log)
		if err := fn(d); err != nil {
			return err
		}
		return s.saveDonation(ctx, tx, d, logs)
	})
}

// UpdateRecurring locks the plan row and stores the result of fn.
func (s *PostgresStore) UpdateRecurring(ctx context.Context, id string, fn func(r *RecurringDonation) error) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "recurring_donations", tracing.DBOperationUpdate)
	defer func() { endSpan(ignoreGuard(err)) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadRecurring(ctx, tx, `WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		logs := len(r.Log)
		if err := fn(r); err != nil {
			return err
		}
		return s.saveRecurring(ctx, tx, r, logs)
	})
}

// CreateRenewal inserts the renewal donation and updates the plan in one transaction.
// The unique index on gateway_transaction_reference rejects a second renewal for the same charge.
func (s *PostgresStore) CreateRenewal(ctx context.Context, planID string, renewal *Donation, fn func(r *RecurringDonation) error) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "donations", tracing.DBOperationInsert)
	defer func() { endSpan(ignoreGuard(err)) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadRecurring(ctx, tx, `WHERE id = $1 FOR UPDATE`, planID)
		if err != nil {
			return err
		}
		if renewal.ID == "" {
			renewal.ID = uuid.New().String()
		}
		logs := len(r.Log)
		if err := fn(r); err != nil {
			return err
		}
		if err := s.insertDonation(ctx, tx, renewal); err != nil {
			return err
		}
		return s.saveRecurring(ctx, tx, r, logs)
	})
}

func (s *PostgresStore) loadDonation(ctx context.Context, q queryer, where string, args ...any) (*Donation, error) {
	var (
		d         Donation
		planID    sql.NullString
		createdAt time.Time
		updatedAt time.Time
	)
	err := q.QueryRowContext(ctx, `SELECT `+donationColumns+` FROM donations `+where, args...).Scan(
		&d.ID, &d.Status, &d.GatewayTransactionReference, &d.GatewayTransactionURL, &d.Processed,
		&d.Refunded, &d.TestMode, &planID, &d.IsRenewal, &d.Amount, &d.Currency, &d.DonorEmail,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDonationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load donation: %w", err)
	}
	if planID.Valid {
		d.RecurringDonationID = &planID.String
	}
	d.CreatedAt = &createdAt
	d.UpdatedAt = &updatedAt

	d.Log, err = s.loadLogs(ctx, q, recordTypeDonation, d.ID)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) loadRecurring(ctx context.Context, q queryer, where string, args ...any) (*RecurringDonation, error) {
	var (
		r         RecurringDonation
		createdAt time.Time
		updatedAt time.Time
	)
	err := q.QueryRowContext(ctx, `SELECT `+recurringColumns+` FROM recurring_donations `+where, args...).Scan(
		&r.ID, &r.Status, &r.GatewaySubscriptionID, &r.GatewayAuthorizationToken, &r.EmailToken,
		&r.Cancelled, &r.Refunded, &r.FailureReason, &r.TestMode, &r.Amount, &r.Currency, &r.DonorEmail,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecurringNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recurring donation: %w", err)
	}
	r.CreatedAt = &createdAt
	r.UpdatedAt = &updatedAt

	r.Log, err = s.loadLogs(ctx, q, recordTypeRecurring, r.ID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// saveDonation writes mutable donation columns and any log entries past the first existing ones.
func (s *PostgresStore) saveDonation(ctx context.Context, tx *sql.Tx, d *Donation, existingLogs int) error {
	now := time.Now()
	d.UpdatedAt = &now
	_, err := tx.ExecContext(ctx, `
		UPDATE donations
		SET status = $2, gateway_transaction_url = $3, processed = $4, refunded = $5, updated_at = $6
		WHERE id = $1`,
		d.ID, d.Status, d.GatewayTransactionURL, d.Processed, d.Refunded, now)
	if err != nil {
		return fmt.Errorf("failed to update donation: %w", err)
	}
	return s.insertLogs(ctx, tx, recordTypeDonation, d.ID, newEntries(d.Log, existingLogs))
}

// saveRecurring writes mutable plan columns and any log entries past the first existing ones.
func (s *PostgresStore) saveRecurring(ctx context.Context, tx *sql.Tx, r *RecurringDonation, existingLogs int) error {
	now := time.Now()
	r.UpdatedAt = &now
	_, err := tx.ExecContext(ctx, `
		UPDATE recurring_donations
		SET status = $2, gateway_subscription_id = $3, gateway_authorization_token = $4, email_token = $5,
			cancelled = $6, refunded = $7, failure_reason = $8, updated_at = $9
		WHERE id = $1`,
		r.ID, r.Status, r.GatewaySubscriptionID, r.GatewayAuthorizationToken, r.EmailToken,
		r.Cancelled, r.Refunded, r.FailureReason, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("subscription %s already linked to another plan: %w", r.GatewaySubscriptionID, err)
		}
		return fmt.Errorf("failed to update recurring donation: %w", err)
	}
	return s.insertLogs(ctx, tx, recordTypeRecurring, r.ID, newEntries(r.Log, existingLogs))
}

func (s *PostgresStore) loadLogs(ctx context.Context, q queryer, recordType, recordID string) ([]LogEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT message, created_at FROM record_logs
		WHERE record_type = $1 AND record_id = $2
		ORDER BY id`, recordType, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Message, &e.Time); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) insertLogs(ctx context.Context, q queryer, recordType, recordID string, entries []LogEntry) error {
	for _, e := range entries {
		t := e.Time
		if t.IsZero() {
			t = time.Now().UTC()
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO record_logs (record_type, record_id, message, created_at)
			VALUES ($1, $2, $3, $4)`, recordType, recordID, e.Message, t); err != nil {
			return fmt.Errorf("failed to insert log entry: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside a read-committed transaction, committing only if fn succeeds.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on exit (no-op after a successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.WarnContext(ctx, "failed to rollback transaction", "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func newEntries(log []LogEntry, existing int) []LogEntry {
	if existing >= len(log) {
		return nil
	}
	return log[existing:]
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// ignoreNotFound keeps lookups that miss from being recorded as span errors.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrDonationNotFound) || errors.Is(err, ErrRecurringNotFound) {
		return nil
	}
	return err
}

// ignoreGuard keeps guard outcomes from being recorded as span errors.
func ignoreGuard(err error) error {
	if errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrDuplicateReference) || errors.Is(err, ErrNoChange) {
		return nil
	}
	return ignoreNotFound(err)
}
