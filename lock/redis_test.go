package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, opts ...Option) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisLocker(client, opts...), s
}

func TestRedisLocker_LockAndRelease(t *testing.T) {
	l, s := newTestLocker(t, WithPrefix("test:"))
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "account:p1:1")
	require.NoError(t, err)
	assert.True(t, s.Exists("test:account:p1:1"))

	unlock()
	assert.False(t, s.Exists("test:account:p1:1"))

	// Second release is a no-op
	unlock()
}

func TestRedisLocker_BlocksUntilReleased(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := l.Lock(ctx, "k")
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Lock never acquired")
	}
}

func TestRedisLocker_ContextCancelled(t *testing.T) {
	l, _ := newTestLocker(t)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_ExpiredLeaseIsNotStolenBack(t *testing.T) {
	// GIVEN: a lease that expires while held
	l, s := newTestLocker(t, WithTTL(100*time.Millisecond))
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	s.FastForward(200 * time.Millisecond)

	// WHEN: another holder takes the key
	other, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	// THEN: the stale release leaves the new holder's key alone
	unlock()
	assert.True(t, s.Exists(defaultPrefix+"k"))
	other()
	assert.False(t, s.Exists(defaultPrefix+"k"))
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "shared")
			if err != nil {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}
