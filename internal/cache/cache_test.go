package cache

import (
	"context"
	"testing"
	"time"
)

func TestNoOp_GetAlwaysMisses(t *testing.T) {
	c := NoOp{}
	if _, ok := c.Get(context.Background(), "any"); ok {
		t.Fatal("expected NoOp.Get to always miss")
	}
}

func TestNoOp_SetThenGetStillMisses(t *testing.T) {
	c := NoOp{}
	ctx := context.Background()
	c.Set(ctx, "k", "v", time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected NoOp.Set to not persist anything")
	}
}

func TestNoOp_DeleteAndCloseDoNotPanic(t *testing.T) {
	c := NoOp{}
	ctx := context.Background()
	c.Delete(ctx, "k")
	if err := c.Close(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestNoOp_SatisfiesCacheInterface(t *testing.T) {
	var _ Cache = NoOp{}
	var _ Cache = (*RedisCache)(nil)
}
