package locking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"circulationd/internal/util"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultLockTTL       = 10 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
)

// RedisKeyLock is a distributed KeyLock using SET NX PX with a per-holder
// token and a compare-and-delete release. It serializes per-book operations
// across processes sharing one Redis.
type RedisKeyLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// RedisKeyLockConfig configures a RedisKeyLock.
type RedisKeyLockConfig struct {
	Addr     string
	Password string
	Prefix   string
	TTL      time.Duration
	Retry    time.Duration
}

// NewRedisKeyLock creates a Redis-backed key lock.
func NewRedisKeyLock(cfg RedisKeyLockConfig) (*RedisKeyLock, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("key lock redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = "circulation:lock"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	retry := cfg.Retry
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	return &RedisKeyLock{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Password,
		}),
		prefix: prefix,
		ttl:    ttl,
		retry:  retry,
	}, nil
}

// Acquire polls SET NX until the lock is taken or ctx is done. The lock
// auto-expires after the TTL so a crashed holder cannot wedge a book.
func (l *RedisKeyLock) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	token := util.NewID()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			return func() { l.release(redisKey, token) }, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// release deletes the lock only while this holder's token is still current,
// so a TTL-expired lock reacquired by someone else is never stolen back.
func (l *RedisKeyLock) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Result()
}
