// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore implements RateLimitStore backed by Redis, so limits
// are shared across API instances. It uses a fixed window counter: INCR on
// the key, with the window TTL set when the key is first created.
//
// On Redis errors the store fails open: requests are allowed rather than
// blocked when the limiter backend is down.
type RedisRateLimitStore struct {
	client  *redis.Client
	metrics *Metrics
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// WithMetrics attaches metrics so fail-open events are counted.
func (s *RedisRateLimitStore) WithMetrics(metrics *Metrics) *RedisRateLimitStore {
	s.metrics = metrics
	return s
}

// Allow checks if a request from the given key should be allowed.
// Implements the RateLimitStore interface.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// Only the first request in a window sets the expiry
	pipe.ExpireNX(ctx, key, config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: a broken limiter backend must not take down the API
		slog.Warn("rate limit store unavailable, failing open", "error", err)
		if s.metrics != nil {
			s.metrics.IncRateLimitRedisErrors()
		}
		return true, 0
	}

	count := incr.Val()
	if count <= int64(config.RequestsPerWindow) {
		return true, 0
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return false, int(config.WindowDuration.Seconds())
	}

	retryAfter := int(ttl.Seconds())
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, retryAfter
}

// Remaining reports how many requests are left in the current window for key.
// Returns the full quota when the key is unknown or Redis is unavailable.
func (s *RedisRateLimitStore) Remaining(ctx context.Context, key string, config RateLimitConfig) int {
	count, err := s.client.Get(ctx, key).Int()
	if err != nil {
		return config.RequestsPerWindow
	}
	remaining := config.RequestsPerWindow - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

var _ RateLimitStore = (*RedisRateLimitStore)(nil)
