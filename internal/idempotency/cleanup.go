package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiry is how long a stored response is replayed.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys deletes records older than expiry.
func CleanupOldKeys(ctx context.Context, repo Repository, expiry time.Duration, logger *slog.Logger) (int64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	deleted, err := repo.DeleteOlderThan(ctx, expiry)
	if err != nil {
		logger.ErrorContext(ctx, "failed to cleanup old idempotency keys", "error", err)
		return 0, err
	}
	if deleted > 0 {
		logger.InfoContext(ctx, "cleaned up old idempotency keys", "deleted", deleted, "older_than", expiry)
	}
	return deleted, nil
}
