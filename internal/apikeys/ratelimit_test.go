package apikeys

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRateLimiter_AllowsUpToLimitThenRejects(t *testing.T) {
	rl := NewMemoryRateLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := rl.Allow(ctx, "k", time.Minute, 3)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d unexpectedly rejected", i)
		}
	}

	allowed, retryAfter, err := rl.Allow(ctx, "k", time.Minute, 3)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatal("expected 4th request to be rejected")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retryAfter, got %v", retryAfter)
	}
}

func TestMemoryRateLimiter_SeparateKeysAreIndependent(t *testing.T) {
	rl := NewMemoryRateLimiter()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if allowed, _, _ := rl.Allow(ctx, "a", time.Minute, 2); !allowed {
			t.Fatalf("key a request %d rejected", i)
		}
	}
	allowed, _, _ := rl.Allow(ctx, "b", time.Minute, 2)
	if !allowed {
		t.Fatal("key b should not be affected by key a's usage")
	}
}

func TestMemoryRateLimiter_WindowResetsAfterExpiry(t *testing.T) {
	rl := NewMemoryRateLimiter()
	ctx := context.Background()

	if allowed, _, _ := rl.Allow(ctx, "k", 10*time.Millisecond, 1); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _, _ := rl.Allow(ctx, "k", 10*time.Millisecond, 1); allowed {
		t.Fatal("second request within window should be rejected")
	}

	time.Sleep(20 * time.Millisecond)

	if allowed, _, _ := rl.Allow(ctx, "k", 10*time.Millisecond, 1); !allowed {
		t.Fatal("request after window expiry should be allowed again")
	}
}
