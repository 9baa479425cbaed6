package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter caps requests per key in a fixed time window. It runs
// either in-process or Redis-backed; the latter shares quota across
// processes the same way RedisKeyLock shares book locks.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	counts map[string]int64

	redisClient *redis.Client
	redisPrefix string
}

// NewMemoryFixedWindowLimiter creates an in-process limiter.
func NewMemoryFixedWindowLimiter(limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]int64),
	}, nil
}

// NewRedisFixedWindowLimiter creates a Redis-backed distributed limiter.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "circulation:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		redisPrefix: prefix,
	}, nil
}

// Allow returns true when the key is within quota.
// A nil limiter allows everything; Redis failures fail closed.
func (l *FixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	if l.redisClient != nil {
		return l.allowRedis(key)
	}
	return l.allowMemory(key)
}

func (l *FixedWindowLimiter) windowSlot() int64 {
	return time.Now().UTC().UnixMilli() / l.window.Milliseconds()
}

func (l *FixedWindowLimiter) allowMemory(key string) bool {
	slot := l.windowSlot()
	slotKey := fmt.Sprintf("%s:%d", key, slot)
	l.mu.Lock()
	defer l.mu.Unlock()
	// Stale slots pile up slowly for a small actor population; clear the
	// whole map once it drifts rather than tracking expiries per key.
	if len(l.counts) > 4096 {
		l.counts = make(map[string]int64)
	}
	l.counts[slotKey]++
	return l.counts[slotKey] <= int64(l.limit)
}

func (l *FixedWindowLimiter) allowRedis(key string) bool {
	windowMs := l.window.Milliseconds()
	redisKey := fmt.Sprintf("%s:%s:%d", l.redisPrefix, key, l.windowSlot())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false
	}
	return res <= int64(l.limit)
}
