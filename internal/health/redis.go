package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// pinger is the subset of redis.UniversalClient the check needs.
type pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisChecker pings the rate limit store.
type RedisChecker struct {
	client pinger
}

func NewRedisChecker(client pinger) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
