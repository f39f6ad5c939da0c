/**
 * @description
 * Distributed rate limiter backed by Redis, for multi-instance deployments
 * where the per-process token bucket map undercounts. Fixed window counter
 * implemented as a Lua script so INCR and expiry are atomic.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 */
package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisRateLimiter implements RateLimiter on a shared Redis instance.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisRateLimiter creates a Redis-backed fixed-window limiter.
func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	if prefix == "" {
		prefix = "bank_link:rate_limit"
	}
	return &RedisRateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Allow increments the caller's window counter and compares it to the limit.
// Errors are returned to the middleware, which fails open.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)
	current, err := rateLimitScript.Run(ctx, r.client, []string{redisKey}, r.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}
	return current <= r.limit, nil
}
