package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestConcurrencyCap(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := AcquireConcurrencyCap(ctx, rdb, "cap:ws1", 2, time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := AcquireConcurrencyCap(ctx, rdb, "cap:ws1", 2, time.Minute); ok {
		t.Fatalf("expected third acquire rejected")
	}

	if err := ReleaseConcurrencyCap(ctx, rdb, "cap:ws1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := AcquireConcurrencyCap(ctx, rdb, "cap:ws1", 2, time.Minute); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func TestReleaseWithoutAcquireIsNoOp(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	if err := ReleaseConcurrencyCap(ctx, rdb, "cap:none"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("cap:none") {
		t.Fatalf("release must not create the key")
	}
}

func TestCapExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	_, _ = AcquireConcurrencyCap(ctx, rdb, "cap:ws1", 1, time.Minute)
	mr.FastForward(2 * time.Minute)
	if ok, _ := AcquireConcurrencyCap(ctx, rdb, "cap:ws1", 1, time.Minute); !ok {
		t.Fatalf("expected leaked slot to expire")
	}
}
