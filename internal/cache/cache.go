// Package cache provides the reference-data cache contract (SPEC_FULL §4.8):
// Get/Set/Delete must never fail the caller's request, so a backing-store
// outage degrades to cache misses rather than errors. Grounded on cerebra's
// pkg/cache/cache.go Cache struct (Redis Get/Set/Delete), generalized into
// an interface with a Redis-backed implementation and a no-op fallback.
package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the reference-data cache used for catalog lookups and similar
// hot, rarely-changing data. Implementations must tolerate backing-store
// failure by degrading (Get returns ok=false, Set/Delete are silently
// dropped) rather than propagating an error.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Close() error
}

// RedisCache wraps a Redis client, matching cerebra's pkg/cache.Cache shape
// but swallowing errors per the never-fail-the-request contract instead of
// returning them to the caller.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis at addr ("host:port") and verifies
// connectivity once at startup, the way cerebra's NewCache does.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", addr, err)
	}
	log.Printf("cache: connected to Redis at %s", addr)
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache: get %q: %v", key, err)
		}
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("cache: set %q: %v", key, err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Printf("cache: delete %q: %v", key, err)
	}
}

func (c *RedisCache) Close() error {
	if c.client == nil {
		return nil
	}
	log.Println("cache: closing Redis connection")
	return c.client.Close()
}

// Client returns the underlying Redis client for advanced operations such as
// the rate limiter's INCR+EXPIRE pipeline.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// NoOp is a Cache that never stores anything. Every Get misses, every
// Set/Delete is a no-op. SPEC_FULL §4.8 requires the engine work correctly
// with this implementation configured, e.g. in single-process deployments
// without Redis.
type NoOp struct{}

func (NoOp) Get(ctx context.Context, key string) (string, bool) { return "", false }
func (NoOp) Set(ctx context.Context, key, value string, ttl time.Duration) {}
func (NoOp) Delete(ctx context.Context, key string)                        {}
func (NoOp) Close() error                                                  { return nil }
