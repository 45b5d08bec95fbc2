// Package store provides an in-memory economy.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/currency-engine/economy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type accountKey struct {
	PlayerID   economy.PlayerID
	CurrencyID economy.CurrencyID
}

type memoryData struct {
	currencies map[economy.CurrencyID]economy.Currency
	accounts   map[accountKey]economy.Account
	players    map[economy.PlayerID]economy.Player
	logs       []economy.LogEntry

	nextCurrencyID economy.CurrencyID
	nextAccountID  int64
	nextLogID      int64
}

// Memory keeps everything in maps guarded by one RWMutex. Inside WithTx
// the same methods run on a view that shares the data but skips locking.
type Memory struct {
	mu   *sync.RWMutex
	data *memoryData

	faults *faults
}

func NewMemory() *Memory {
	return &Memory{
		mu: &sync.RWMutex{},
		data: &memoryData{
			currencies: make(map[economy.CurrencyID]economy.Currency),
			accounts:   make(map[accountKey]economy.Account),
			players:    make(map[economy.PlayerID]economy.Player),
		},
		faults: &faults{errs: make(map[string]error)},
	}
}

func (m *Memory) lock() func() {
	if m.mu == nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) rlock() func() {
	if m.mu == nil {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

type faults struct {
	mu   sync.Mutex
	errs map[string]error
}

// Fail makes the named method (e.g. "SaveAccount") return err until
// cleared with Fail(method, nil).
func (m *Memory) Fail(method string, err error) {
	m.faults.mu.Lock()
	defer m.faults.mu.Unlock()
	if err == nil {
		delete(m.faults.errs, method)
		return
	}
	m.faults.errs[method] = err
}

func (m *Memory) fault(method string) error {
	m.faults.mu.Lock()
	defer m.faults.mu.Unlock()
	return m.faults.errs[method]
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) FindAccount(_ context.Context, playerID economy.PlayerID, currencyID economy.CurrencyID) (*economy.Account, error) {
	if err := m.fault("FindAccount"); err != nil {
		return nil, err
	}
	defer m.rlock()()

	a, ok := m.data.accounts[accountKey{playerID, currencyID}]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *Memory) SaveAccount(_ context.Context, account economy.Account) (economy.Account, error) {
	if err := m.fault("SaveAccount"); err != nil {
		return economy.Account{}, err
	}
	defer m.lock()()

	k := accountKey{account.PlayerID, account.CurrencyID}
	existing, ok := m.data.accounts[k]
	if !ok {
		return economy.Account{}, economy.ErrAccountNotFound
	}
	account.ID = existing.ID
	m.data.accounts[k] = account
	return account, nil
}

func (m *Memory) CreateAccounts(_ context.Context, accounts []economy.Account) (int, error) {
	if err := m.fault("CreateAccounts"); err != nil {
		return 0, err
	}
	defer m.lock()()

	// Check all currencies first so the batch is all-or-nothing
	for _, a := range accounts {
		if _, ok := m.data.currencies[a.CurrencyID]; !ok {
			return 0, economy.ErrCurrencyNotFound
		}
	}

	created := 0
	for _, a := range accounts {
		k := accountKey{a.PlayerID, a.CurrencyID}
		if _, ok := m.data.accounts[k]; ok {
			continue
		}
		m.data.nextAccountID++
		a.ID = m.data.nextAccountID
		m.data.accounts[k] = a
		created++
	}
	return created, nil
}

func (m *Memory) FindAccountsByCurrency(_ context.Context, currencyID economy.CurrencyID) ([]economy.Account, error) {
	if err := m.fault("FindAccountsByCurrency"); err != nil {
		return nil, err
	}
	defer m.rlock()()

	var out []economy.Account
	for _, a := range m.data.accounts {
		if a.CurrencyID == currencyID {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (m *Memory) ListAccountsByPlayer(_ context.Context, playerID economy.PlayerID) ([]economy.Account, error) {
	if err := m.fault("ListAccountsByPlayer"); err != nil {
		return nil, err
	}
	defer m.rlock()()

	var out []economy.Account
	for _, a := range m.data.accounts {
		if a.PlayerID == playerID {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (m *Memory) DeleteAccountsByCurrency(_ context.Context, currencyID economy.CurrencyID) (int, error) {
	if err := m.fault("DeleteAccountsByCurrency"); err != nil {
		return 0, err
	}
	defer m.lock()()

	n := 0
	for k, a := range m.data.accounts {
		if a.CurrencyID == currencyID {
			delete(m.data.accounts, k)
			n++
		}
	}
	return n, nil
}

func sortAccounts(accounts []economy.Account) {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
}

// =============================================================================
// CURRENCIES
// =============================================================================

func (m *Memory) FindCurrency(_ context.Context, identifier string) (*economy.Currency, error) {
	if err := m.fault("FindCurrency"); err != nil {
		return nil, err
	}
	defer m.rlock()()

	c, ok := m.findCurrencyLocked(identifier)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) findCurrencyLocked(identifier string) (economy.Currency, bool) {
	want := strings.ToLower(strings.TrimSpace(identifier))
	if want == "" {
		return economy.Currency{}, false
	}
	for _, c := range m.data.currencies {
		if strings.ToLower(c.Identifier) == want {
			return c, true
		}
	}
	return economy.Currency{}, false
}

func (m *Memory) ListCurrencies(_ context.Context) ([]economy.Currency, error) {
	if err := m.fault("ListCurrencies"); err != nil {
		return nil, err
	}
	defer m.rlock()()

	out := make([]economy.Currency, 0, len(m.data.currencies))
	for _, c := range m.data.currencies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateCurrency(_ context.Context, currency economy.Currency) (economy.Currency, error) {
	if err := m.fault("CreateCurrency"); err != nil {
		return economy.Currency{}, err
	}
	defer m.lock()()

	if _, taken := m.findCurrencyLocked(currency.Identifier); taken {
		return economy.Currency{}, economy.ErrDuplicateIdentifier
	}
	m.data.nextCurrencyID++
	currency.ID = m.data.nextCurrencyID
	m.data.currencies[currency.ID] = currency
	return currency, nil
}

func (m *Memory) UpdateCurrency(_ context.Context, currency economy.Currency) error {
	if err := m.fault("UpdateCurrency"); err != nil {
		return err
	}
	defer m.lock()()

	if _, ok := m.data.currencies[currency.ID]; !ok {
		return economy.ErrCurrencyNotFound
	}
	if other, taken := m.findCurrencyLocked(currency.Identifier); taken && other.ID != currency.ID {
		return economy.ErrDuplicateIdentifier
	}
	m.data.currencies[currency.ID] = currency
	return nil
}

// DeleteCurrency removes the currency and, like the SQL schemas'
// ON DELETE CASCADE, any account still holding it.
func (m *Memory) DeleteCurrency(_ context.Context, id economy.CurrencyID) error {
	if err := m.fault("DeleteCurrency"); err != nil {
		return err
	}
	defer m.lock()()

	if _, ok := m.data.currencies[id]; !ok {
		return economy.ErrCurrencyNotFound
	}
	for k, a := range m.data.accounts {
		if a.CurrencyID == id {
			delete(m.data.accounts, k)
		}
	}
	delete(m.data.currencies, id)
	return nil
}

// =============================================================================
// PLAYERS
// =============================================================================

func (m *Memory) SavePlayer(_ context.Context, player economy.Player) (bool, error) {
	if err := m.fault("SavePlayer"); err != nil {
		return false, err
	}
	defer m.lock()()

	existing, ok := m.data.players[player.ID]
	if ok && !existing.CreatedAt.IsZero() {
		player.CreatedAt = existing.CreatedAt
	}
	m.data.players[player.ID] = player
	return !ok, nil
}

func (m *Memory) FindPlayer(_ context.Context, id economy.PlayerID) (*economy.Player, error) {
	if err := m.fault("FindPlayer"); err != nil {
		return nil, err
	}
	defer m.rlock()()

	p, ok := m.data.players[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPlayers(_ context.Context, offset, limit int) ([]economy.Player, error) {
	if err := m.fault("ListPlayers"); err != nil {
		return nil, err
	}
	defer m.rlock()()

	all := make([]economy.Player, 0, len(m.data.players))
	for _, p := range m.data.players {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (m *Memory) DeletePlayer(_ context.Context, id economy.PlayerID) error {
	if err := m.fault("DeletePlayer"); err != nil {
		return err
	}
	defer m.lock()()

	if _, ok := m.data.players[id]; !ok {
		return economy.ErrPlayerNotFound
	}
	for k := range m.data.accounts {
		if k.PlayerID == id {
			delete(m.data.accounts, k)
		}
	}
	delete(m.data.players, id)
	return nil
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

func (m *Memory) AppendLog(_ context.Context, entry economy.LogEntry) (economy.LogEntry, error) {
	if err := m.fault("AppendLog"); err != nil {
		return economy.LogEntry{}, err
	}
	defer m.lock()()

	if entry.CurrencyID != nil {
		if _, ok := m.data.currencies[*entry.CurrencyID]; !ok {
			return economy.LogEntry{}, economy.ErrCurrencyNotFound
		}
	}
	m.data.nextLogID++
	entry.ID = m.data.nextLogID
	entry.Metadata = copyMetadata(entry.Metadata)
	m.data.logs = append(m.data.logs, entry)
	return entry, nil
}

// QueryLogs returns matching entries, newest first.
func (m *Memory) QueryLogs(_ context.Context, filter economy.LogFilter) ([]economy.LogEntry, error) {
	if err := m.fault("QueryLogs"); err != nil {
		return nil, err
	}
	defer m.rlock()()

	var out []economy.LogEntry
	for i := len(m.data.logs) - 1; i >= 0; i-- {
		e := m.data.logs[i]
		if !matches(e, filter) {
			continue
		}
		e.Metadata = copyMetadata(e.Metadata)
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ScrubCurrencyLogs(_ context.Context, currencyID economy.CurrencyID) (int, error) {
	if err := m.fault("ScrubCurrencyLogs"); err != nil {
		return 0, err
	}
	defer m.lock()()

	n := 0
	for i := range m.data.logs {
		if id := m.data.logs[i].CurrencyID; id != nil && *id == currencyID {
			m.data.logs[i].CurrencyID = nil
			n++
		}
	}
	return n, nil
}

func matches(e economy.LogEntry, f economy.LogFilter) bool {
	if f.PlayerID != nil && (e.PlayerID == nil || *e.PlayerID != *f.PlayerID) {
		return false
	}
	if f.CurrencyID != nil && (e.CurrencyID == nil || *e.CurrencyID != *f.CurrencyID) {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if len(f.LogTypes) > 0 {
		found := false
		for _, t := range f.LogTypes {
			if e.LogType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(economy.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()

	// The view shares data and faults but holds no lock of its own
	view := &Memory{data: tm.data, faults: tm.faults}

	if err := fn(view); err != nil {
		*tm.data = snapshot
		return err
	}
	return nil
}

func (d *memoryData) clone() memoryData {
	c := *d
	c.currencies = make(map[economy.CurrencyID]economy.Currency, len(d.currencies))
	for k, v := range d.currencies {
		c.currencies[k] = v
	}
	c.accounts = make(map[accountKey]economy.Account, len(d.accounts))
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	c.players = make(map[economy.PlayerID]economy.Player, len(d.players))
	for k, v := range d.players {
		c.players[k] = v
	}
	c.logs = make([]economy.LogEntry, len(d.logs))
	for i, e := range d.logs {
		if e.CurrencyID != nil {
			id := *e.CurrencyID
			e.CurrencyID = &id
		}
		c.logs[i] = e
	}
	return c
}

var (
	_ economy.Store   = (*Memory)(nil)
	_ economy.TxStore = (*TxMemory)(nil)
)
