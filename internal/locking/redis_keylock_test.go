package locking

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisLock(t *testing.T) (*RedisKeyLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	lock, err := NewRedisKeyLock(RedisKeyLockConfig{
		Addr:  mr.Addr(),
		Retry: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new redis key lock: %v", err)
	}
	return lock, mr
}

func TestRedisKeyLockAcquireRelease(t *testing.T) {
	lock, mr := newTestRedisLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "book-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !mr.Exists("circulation:lock:book-1") {
		t.Fatal("lock key missing after acquire")
	}

	// The key is held: a bounded second acquire must time out.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	if _, err := lock.Acquire(shortCtx, "book-1"); err == nil {
		t.Fatal("second acquire succeeded on held key")
	}
	cancel()

	release()
	if mr.Exists("circulation:lock:book-1") {
		t.Fatal("lock key still present after release")
	}
	release2, err := lock.Acquire(ctx, "book-1")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	release2()
}

func TestRedisKeyLockDoesNotStealAfterExpiry(t *testing.T) {
	lock, mr := newTestRedisLock(t)
	ctx := context.Background()

	staleRelease, err := lock.Acquire(ctx, "book-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// The holder stalls past the TTL and redis drops the key.
	mr.FastForward(defaultLockTTL + time.Second)

	release, err := lock.Acquire(ctx, "book-1")
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	defer release()

	// The stale holder's release compares its token first, so it must
	// not delete the new holder's lock.
	staleRelease()
	if !mr.Exists("circulation:lock:book-1") {
		t.Fatal("stale release deleted the new holder's lock")
	}
}

func TestRedisKeyLockIndependentKeys(t *testing.T) {
	lock, _ := newTestRedisLock(t)
	ctx := context.Background()

	releaseA, err := lock.Acquire(ctx, "book-a")
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()

	boundedCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	releaseB, err := lock.Acquire(boundedCtx, "book-b")
	if err != nil {
		t.Fatalf("acquire b blocked by unrelated key: %v", err)
	}
	releaseB()
}
