package economy

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// LOCKER - Per-key serialization
// =============================================================================

// Locker serializes work per key. Two concurrent withdrawals against the
// same account must not both read the same balance, so the reload-mutate-save
// sequence runs under Lock(accountKey(...)).
type Locker interface {
	// Lock blocks until the key is held or ctx ends. The returned func
	// releases it and is safe to call once.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func accountKey(playerID PlayerID, currencyID CurrencyID) string {
	return fmt.Sprintf("account:%s:%d", playerID, currencyID)
}

func currencyKey(identifier string) string {
	return "currency:" + normalizeIdentifier(identifier)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// dropped once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{} // buffered(1): holding the token means holding the lock
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// size is the number of live keys. Used by tests.
func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// ChainLocker acquires several lockers in order, e.g. the in-process mutex
// first and a distributed lock second. Unlock runs in reverse order.
type ChainLocker []Locker

func (c ChainLocker) Lock(ctx context.Context, key string) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
