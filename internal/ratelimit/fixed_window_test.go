package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiterMemory(t *testing.T) {
	limiter, err := NewMemoryFixedWindowLimiter(2, time.Minute)
	if err != nil {
		t.Fatalf("new memory limiter: %v", err)
	}
	if !limiter.Allow("actor-1") {
		t.Fatal("first request should pass")
	}
	if !limiter.Allow("actor-1") {
		t.Fatal("second request should pass")
	}
	if limiter.Allow("actor-1") {
		t.Fatal("third request should be blocked")
	}
	// Other keys have their own quota.
	if !limiter.Allow("actor-2") {
		t.Fatal("other actor should pass")
	}
}

func TestFixedWindowLimiterNilAllows(t *testing.T) {
	var limiter *FixedWindowLimiter
	if !limiter.Allow("actor-1") {
		t.Fatal("nil limiter should allow everything")
	}
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if !limiter.Allow("actor-1") {
		t.Fatal("first request should pass")
	}
	if !limiter.Allow("actor-1") {
		t.Fatal("second request should pass")
	}
	if limiter.Allow("actor-1") {
		t.Fatal("third request should be blocked")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow("actor-1") {
		t.Fatal("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatal("expected constructor error for empty redis addr")
	}
}
