/**
 * @description
 * Rate limiting middleware to prevent abuse and ensure fair resource usage.
 * The default implementation is an in-memory token bucket map keyed by caller
 * identity, with a background sweep evicting idle entries.
 *
 * Rate limiting here is abuse mitigation only, never a correctness
 * mechanism: the in-memory limiter is per-process, and multi-instance
 * deployments should inject the Redis implementation instead (see
 * redis_ratelimit.go). Both satisfy the same RateLimiter interface.
 *
 * @dependencies
 * - sync: For thread-safe operations
 * - time: For time-based rate limiting
 * - net/http: For HTTP middleware
 */
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter decides whether a request from the given caller key is allowed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucketLimiter is an in-memory token bucket rate limiter.
type TokenBucketLimiter struct {
	buckets    map[string]*tokenBucket
	mutex      sync.Mutex
	capacity   int
	refillRate time.Duration
	stopSweep  chan struct{}
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucketLimiter creates an in-memory limiter allowing roughly
// requestsPerMinute sustained requests per caller, with a burst of the same
// size, and starts the background sweep goroutine.
func NewTokenBucketLimiter(requestsPerMinute int) *TokenBucketLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	l := &TokenBucketLimiter{
		buckets:    make(map[string]*tokenBucket),
		capacity:   requestsPerMinute,
		refillRate: time.Minute / time.Duration(requestsPerMinute),
		stopSweep:  make(chan struct{}),
	}
	go l.sweepIdleBuckets()
	return l
}

// Allow consumes one token for the key, refilling by elapsed time first.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := time.Now()
	bucket, exists := l.buckets[key]
	if !exists {
		bucket = &tokenBucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = bucket
	}

	refill := int(now.Sub(bucket.lastRefill) / l.refillRate)
	if refill > 0 {
		bucket.tokens += refill
		if bucket.tokens > l.capacity {
			bucket.tokens = l.capacity
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true, nil
	}
	return false, nil
}

// Stop terminates the background sweep goroutine.
func (l *TokenBucketLimiter) Stop() {
	close(l.stopSweep)
}

// sweepIdleBuckets removes idle buckets to prevent the map growing without
// bound.
func (l *TokenBucketLimiter) sweepIdleBuckets() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mutex.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for key, bucket := range l.buckets {
				if bucket.lastRefill.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mutex.Unlock()
		case <-l.stopSweep:
			return
		}
	}
}

// RateLimitMiddleware creates a rate limiting middleware. Requests are keyed
// by the authenticated caller's subject id, falling back to client IP for
// requests that reach the limiter unauthenticated. Limiter errors fail open:
// rate limiting degrades, requests keep flowing.
func RateLimitMiddleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetUserIDFromContext(r.Context())
			if key == "" {
				key = getClientIP(r)
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				allowed = true
			}
			if !allowed {
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs; take the first one.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// RemoteAddr is host:port; bare IPv6 addresses contain colons, so a
	// naive split on the last colon would truncate them.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
