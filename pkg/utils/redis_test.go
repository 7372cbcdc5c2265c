package utils

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestAcquireReleaseLock(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ok, err := AcquireLock(ctx, rdb, "lock:tick", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire, ok=%v err=%v", ok, err)
	}
	ok, _ = AcquireLock(ctx, rdb, "lock:tick", "b", time.Minute)
	if ok {
		t.Fatalf("expected second owner to be rejected")
	}

	released, err := ReleaseLock(ctx, rdb, "lock:tick", "b")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released {
		t.Fatalf("non-owner must not release the lock")
	}

	released, _ = ReleaseLock(ctx, rdb, "lock:tick", "a")
	if !released {
		t.Fatalf("expected owner release")
	}
	ok, _ = AcquireLock(ctx, rdb, "lock:tick", "b", time.Minute)
	if !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestAcquireLock_ExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if ok, _ := AcquireLock(ctx, rdb, "lock:tick", "a", time.Second); !ok {
		t.Fatalf("expected acquire")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := AcquireLock(ctx, rdb, "lock:tick", "b", time.Second); !ok {
		t.Fatalf("expected acquire after expiry")
	}
}

func TestExtendLock_OnlyOwner(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	if ok, _ := AcquireLock(ctx, rdb, "lock:tick", "a", time.Second); !ok {
		t.Fatalf("expected acquire")
	}
	if ok, err := ExtendLock(ctx, rdb, "lock:tick", "b", time.Minute); err != nil || ok {
		t.Fatalf("non-owner must not extend, ok=%v err=%v", ok, err)
	}
	if ok, err := ExtendLock(ctx, rdb, "lock:tick", "a", time.Minute); err != nil || !ok {
		t.Fatalf("expected owner extend, ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("lock:tick"); ttl < 30*time.Second {
		t.Fatalf("expected extended ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := ExtendLock(ctx, rdb, "lock:tick", "a", time.Minute); ok {
		t.Fatalf("expired lock must not be extended")
	}
}
