package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the counter, starts the window on the first
// hit and returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

const redisRateLimitPrefix = "reconciler:ratelimit:"

// RedisRateLimitStore shares window counters across replicas. Redis errors
// fail open: the request is allowed and the error is counted.
type RedisRateLimitStore struct {
	client  redis.Scripter
	metrics *Metrics
	logger  *slog.Logger
}

func NewRedisRateLimitStore(client redis.Scripter, metrics *Metrics, logger *slog.Logger) *RedisRateLimitStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimitStore{client: client, metrics: metrics, logger: logger}
}

func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	res, err := fixedWindowScript.Run(ctx, s.client, []string{redisRateLimitPrefix + key}, config.WindowDuration.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		s.metrics.IncRateLimitRedisErrors()
		s.logger.WarnContext(ctx, "rate limit store unavailable, allowing request", "key", key, "error", err)
		return true, config.RequestsPerWindow, 0
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if count > config.RequestsPerWindow {
		return false, 0, retryAfterSeconds(ttl)
	}
	return true, config.RequestsPerWindow - count, 0
}
