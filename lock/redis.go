// Package lock provides a Redis-backed economy.Locker so several server
// instances sharing one database serialize balance updates per account.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPrefix     = "economy:lock:"
	defaultTTL        = 10 * time.Second
	defaultRetryDelay = 5 * time.Millisecond
	maxRetryDelay     = 100 * time.Millisecond
)

// ErrLockLost is reported when the lease expired before release.
var ErrLockLost = errors.New("lock lease expired before release")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements economy.Locker with SET NX PX leases.
//
// The lease TTL bounds how long a crashed holder blocks others. It must be
// longer than a reload-mutate-save round trip.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *log.Entry
}

type Option func(*RedisLocker)

func WithPrefix(prefix string) Option { return func(l *RedisLocker) { l.prefix = prefix } }
func WithTTL(ttl time.Duration) Option { return func(l *RedisLocker) { l.ttl = ttl } }

func NewRedisLocker(client redis.UniversalClient, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
		logger: log.WithField("component", "redis-lock"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl <= 0 {
		l.ttl = defaultTTL
	}
	return l
}

// Lock polls SET NX until the key is free or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()
	delay := defaultRetryDelay

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		if err := l.release(redisKey, token); err != nil {
			l.logger.WithError(err).WithField("key", key).Warn("lock release failed")
		}
	}, nil
}

func (l *RedisLocker) release(redisKey, token string) error {
	// Release even when the caller's context is already done
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
