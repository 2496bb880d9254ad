package ratelimit

import (
	"context"
	"time"

	"github.com/emf-platform/gateway/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	limitKeyPrefix = "ratelimit:"
	dailyKeyPrefix = "api-calls-daily:"

	// Daily counters outlive their day so reporting jobs running after
	// midnight still see yesterday's total.
	dailyCounterTTL = 48 * time.Hour
)

// RedisLimiter enforces per-route fixed-window limits shared across gateway
// instances. The window is keyed by route and principal; the counter is an
// INCR with an expiry set on the first hit.
//
// Fail-open: a Redis error allows the request. Losing rate limiting for the
// duration of an outage is preferable to rejecting all traffic.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a limiter over the given client. The client may
// be nil, in which case every request is allowed.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow reports whether the principal may make another request on the route
// within the current window. When denied, retryAfter is how long until the
// window resets.
func (rl *RedisLimiter) Allow(ctx context.Context, routeID, principal string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration) {
	if rl.client == nil || limit <= 0 {
		return true, 0
	}

	key := limitKeyPrefix + routeID + ":" + principal

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		logging.Warn("rate limit counter unavailable, allowing request",
			zap.String("key", key), zap.Error(err))
		return true, 0
	}

	if count == 1 {
		if err := rl.client.Expire(ctx, key, window).Err(); err != nil {
			logging.Warn("failed to set rate limit window expiry",
				zap.String("key", key), zap.Error(err))
		}
	}

	if count > int64(limit) {
		ttl, err := rl.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		return false, ttl
	}
	return true, 0
}

// CountDailyCall increments the tenant's daily API call counter. Best
// effort; failures are logged and ignored.
func (rl *RedisLimiter) CountDailyCall(ctx context.Context, tenantID string) {
	if rl.client == nil || tenantID == "" {
		return
	}

	key := dailyKeyPrefix + tenantID + ":" + time.Now().UTC().Format("2006-01-02")
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		logging.Warn("failed to count daily api call", zap.String("key", key), zap.Error(err))
		return
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, key, dailyCounterTTL).Err(); err != nil {
			logging.Warn("failed to set daily counter expiry", zap.String("key", key), zap.Error(err))
		}
	}
}
