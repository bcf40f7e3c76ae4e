package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/redis"
)

const (
	// DefaultProviderLimit is requests per window against one provider tenant
	DefaultProviderLimit int64 = 50

	// DefaultProviderWindow is the sliding window for DefaultProviderLimit
	DefaultProviderWindow = 10 * time.Second

	maxLimiterWait = 30 * time.Second
)

// RedisLimiter adapts the shared sliding-window rate limiter to the client's
// Wait contract. When the window is exhausted it sleeps until the oldest
// entry expires instead of failing the sync.
type RedisLimiter struct {
	limiter *redis.RateLimiter
	limit   int64
	window  time.Duration
}

// NewRedisLimiter creates a redis-backed limiter. Zero limit or window fall
// back to the defaults.
func NewRedisLimiter(limiter *redis.RateLimiter, limit int64, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = DefaultProviderLimit
	}
	if window <= 0 {
		window = DefaultProviderWindow
	}
	return &RedisLimiter{limiter: limiter, limit: limit, window: window}
}

// Wait blocks until a request slot is available for the key
func (l *RedisLimiter) Wait(ctx context.Context, key string) error {
	deadline := time.Now().Add(maxLimiterWait)

	for {
		result, err := l.limiter.Allow(ctx, key, l.limit, l.window)
		if err != nil {
			return fmt.Errorf("rate limit check failed: %w", err)
		}
		if result.Allowed {
			return nil
		}
		metrics.RateLimitHits.WithLabelValues(providerFromKey(key)).Inc()

		retryIn := result.RetryIn
		if retryIn <= 0 {
			retryIn = 100 * time.Millisecond
		}
		if time.Now().Add(retryIn).After(deadline) {
			return fmt.Errorf("%w for key %q", redis.ErrRateLimitExceeded, key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryIn):
		}
	}
}

// Backoff blocks the key for the duration a provider asked us to wait,
// typically a 429 Retry-After
func (l *RedisLimiter) Backoff(ctx context.Context, key string, d time.Duration) error {
	return l.limiter.BlockFor(ctx, key, d)
}

// providerFromKey extracts the provider name from a "provider:<name>:<id>" key
func providerFromKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) >= 2 {
		return parts[1]
	}
	return key
}
