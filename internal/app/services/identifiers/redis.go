package identifiers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every portal instance talking to the
// same Redis. Locks expire after TTL so a crashed holder cannot wedge a
// prefix forever.
type RedisLocker struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	poll      time.Duration
}

// RedisLockerOption customizes a RedisLocker.
type RedisLockerOption func(*RedisLocker)

// WithLockTTL sets how long a lock survives without release.
func WithLockTTL(ttl time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPollInterval sets how often a waiter retries acquisition.
func WithPollInterval(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// NewRedisLocker builds a locker whose keys live under namespace.
func NewRedisLocker(client redis.UniversalClient, namespace string, opts ...RedisLockerOption) *RedisLocker {
	if namespace == "" {
		namespace = "portal:lock"
	}
	l := &RedisLocker{client: client, namespace: namespace, ttl: 10 * time.Second, poll: 25 * time.Millisecond}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) key(key string) string {
	return l.namespace + ":" + key
}

// Lock implements Locker. It polls until the key is free or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.key(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// release must run even if the caller's ctx was cancelled mid-operation
		relCtx, cancel := context.WithTimeout(context.Background(), l.ttl)
		defer cancel()
		_ = releaseScript.Run(relCtx, l.client, []string{redisKey}, token).Err()
	}, nil
}
