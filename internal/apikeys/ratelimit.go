package apikeys

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a fixed-window request cap per key. Allow returns
// whether the request is admitted and, if not, how long until the window
// resets (for a Retry-After header).
type RateLimiter interface {
	Allow(ctx context.Context, key string, window time.Duration, limit int) (allowed bool, retryAfter time.Duration, err error)
}

// RedisRateLimiter performs the window check with an atomic INCR+EXPIRE
// pipeline, directly grounded on cerebra's pkg/cache.Cache.RateLimitCheck.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, time.Duration, error) {
	rateLimitKey := "ratelimit:" + key

	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, rateLimitKey)
	pipe.Expire(ctx, rateLimitKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("apikeys: rate limit check: %w", err)
	}

	count := incrCmd.Val()
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := r.client.TTL(ctx, rateLimitKey).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return false, ttl, nil
}

// MemoryRateLimiter is an in-process fixed-window limiter for single-node
// deployments without Redis. Windows are keyed by a truncated start time so
// concurrent callers within the same window share a counter, the same
// semantics as the Redis INCR+EXPIRE pipeline.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	start time.Time
	count int
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{windows: make(map[string]*memoryWindow)}
}

func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	w, ok := r.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = &memoryWindow{start: now}
		r.windows[key] = w
	}
	w.count++

	if w.count <= limit {
		return true, 0, nil
	}
	return false, window - now.Sub(w.start), nil
}
