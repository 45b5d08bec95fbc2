/*
registry.go - In-memory currency cache

PURPOSE:
  Keeps every known Currency in memory so hot paths (Deposit, Withdraw,
  HasCurrency, identifier uniqueness checks) never hit the store just to
  resolve "coins" to a CurrencyID.

HOW IT WORKS:
  1. Load() fills the registry from the CurrencyStore at startup
  2. Create/Edit/Delete flows update it right after the store write
  3. A cron job calls Refresh() periodically to pick up out-of-band edits

  Put and Remove bump a generation counter. A Load whose store listing
  overlapped one of them lists again rather than swap in a snapshot
  that predates the local write.

OWNERSHIP:
  The registry is an explicit value injected into the Engine. There is no
  package-level cache. Reads vastly outnumber writes, so a RWMutex guards
  the two indexes.

IDENTIFIERS:
  Identifiers are compared case-insensitively after trimming whitespace.
  "Coins", " coins " and "COINS" are the same currency.

SEE ALSO:
  - currency.go: Writers of the registry
  - api/scheduler.go: Periodic refresh
*/
package economy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CURRENCY REGISTRY
// =============================================================================

type Registry struct {
	mu           sync.RWMutex
	byID         map[CurrencyID]Currency
	byIdentifier map[string]CurrencyID
	generation   uint64
	lastRefresh  time.Time
}

// loadAttempts bounds how often Load relists when local writes keep racing it.
const loadAttempts = 3

func NewRegistry() *Registry {
	return &Registry{
		byID:         make(map[CurrencyID]Currency),
		byIdentifier: make(map[string]CurrencyID),
	}
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Load replaces the registry content with what the store holds. When Put or
// Remove keep landing while the store is listed, the current content is
// kept; those writes already track the store.
func (r *Registry) Load(ctx context.Context, store CurrencyStore) error {
	for i := 0; i < loadAttempts; i++ {
		r.mu.RLock()
		gen := r.generation
		r.mu.RUnlock()

		currencies, err := store.ListCurrencies(ctx)
		if err != nil {
			return err
		}
		if r.swap(gen, currencies) {
			return nil
		}
	}
	return nil
}

// swap installs currencies unless the registry changed since gen.
func (r *Registry) swap(gen uint64, currencies []Currency) bool {
	byID := make(map[CurrencyID]Currency, len(currencies))
	byIdentifier := make(map[string]CurrencyID, len(currencies))
	for _, c := range currencies {
		key := normalizeIdentifier(c.Identifier)
		if key == "" {
			continue
		}
		byID[c.ID] = c
		byIdentifier[key] = c.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return false
	}
	r.byID = byID
	r.byIdentifier = byIdentifier
	r.lastRefresh = time.Now().UTC()
	return true
}

// Refresh is Load under another name, for readability at call sites.
func (r *Registry) Refresh(ctx context.Context, store CurrencyStore) error {
	return r.Load(ctx, store)
}

// Put inserts or replaces a currency. If the identifier of an existing ID
// changed, the old identifier is released.
func (r *Registry) Put(c Currency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++

	if prev, ok := r.byID[c.ID]; ok {
		delete(r.byIdentifier, normalizeIdentifier(prev.Identifier))
	}
	r.byID[c.ID] = c
	r.byIdentifier[normalizeIdentifier(c.Identifier)] = c.ID
}

// Remove drops a currency by ID. Unknown IDs are ignored.
func (r *Registry) Remove(id CurrencyID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++

	if prev, ok := r.byID[id]; ok {
		delete(r.byIdentifier, normalizeIdentifier(prev.Identifier))
		delete(r.byID, id)
	}
}

// ByIdentifier resolves an identifier. Blank identifiers never match.
func (r *Registry) ByIdentifier(identifier string) (Currency, bool) {
	key := normalizeIdentifier(identifier)
	if key == "" {
		return Currency{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentifier[key]
	if !ok {
		return Currency{}, false
	}
	return r.byID[id], true
}

func (r *Registry) ByID(id CurrencyID) (Currency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Has reports whether identifier is registered. Blank is never registered.
func (r *Registry) Has(identifier string) bool {
	_, ok := r.ByIdentifier(identifier)
	return ok
}

// List returns all currencies ordered by identifier.
func (r *Registry) List() []Currency {
	r.mu.RLock()
	out := make([]Currency, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return normalizeIdentifier(out[i].Identifier) < normalizeIdentifier(out[j].Identifier)
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// LastRefresh returns when the registry was last loaded from the store.
func (r *Registry) LastRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRefresh
}
