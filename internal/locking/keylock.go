package locking

import (
	"context"
	"sync"
)

// KeyLock serializes operations sharing a key. The circulation coordinator
// holds the book's lock for the duration of every operation that touches the
// availability counter or the reservation queue; different keys never
// contend.
type KeyLock interface {
	// Acquire blocks until the key's lock is held or ctx is done. The
	// returned release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyMutex is an in-process KeyLock backed by one semaphore channel per key.
// Entries are retained for the lifetime of the process; the key space is the
// set of book ids, which is bounded.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewKeyMutex creates an empty in-process key lock.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]chan struct{})}
}

// Acquire takes the lock for key, honoring ctx cancellation while waiting.
func (k *KeyMutex) Acquire(ctx context.Context, key string) (func(), error) {
	ch := k.get(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (k *KeyMutex) get(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	return ch
}
