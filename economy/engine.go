/*
engine.go - Transaction engine construction and wiring

PURPOSE:
  The Engine is the only component allowed to change Account.Balance. It
  ties together the store, the currency registry, the hook dispatcher,
  the executor, the per-key locker and the audit writer.

DEPENDENCIES (all injectable via Option):
  Store          required; persistence collaborator
  Registry       currency cache (default: empty, call LoadCurrencies)
  Executor       where operations run (default: Pool of 16)
  Dispatcher     hook delivery (default: NewDispatcher(DefaultHookTimeout))
  Locker         per-account serialization (default: KeyedMutex)
  Instrumentation metrics sink (default: no-op)

LIFECYCLE:
  engine := economy.NewEngine(store, economy.WithExecutor(pool))
  engine.LoadCurrencies(ctx)
  ...
  engine.Close() // flushes the audit trail, stops the dispatcher

TRUST BOUNDARY:
  Nothing below the engine (store faults, observer panics) escapes as an
  error or panic above it. See transact.go and currency.go.

SEE ALSO:
  - transact.go: GetBalance, Deposit, Withdraw
  - currency.go: Create/Edit/Delete/HasCurrency
  - provision.go: Player registration and bulk account creation
*/
package economy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// =============================================================================
// INSTRUMENTATION
// =============================================================================

// Instrumentation receives engine outcomes. metrics.Collector implements it.
type Instrumentation interface {
	TransactionCompleted(res TransactionResult, elapsed time.Duration)
	ManagementCompleted(action string, res ManagementResult)
	AuditWritten(err error)
}

type NopInstrumentation struct{}

func (NopInstrumentation) TransactionCompleted(TransactionResult, time.Duration) {}
func (NopInstrumentation) ManagementCompleted(string, ManagementResult) {}
func (NopInstrumentation) AuditWritten(error) {}

// =============================================================================
// ENGINE
// =============================================================================

const (
	DefaultPoolSize       = 16
	DefaultProvisionBatch = 500
)

type Engine struct {
	store    Store
	registry *Registry
	hooks    *Dispatcher
	exec     Executor
	locks    Locker
	audit    *AuditWriter
	metrics  Instrumentation
	logger   *log.Entry
	now      func() time.Time
	newID    func() string

	auditBuffer    int
	provisionBatch int

	ownsExec  bool
	ownsHooks bool
}

type Option func(*Engine)

func WithRegistry(r *Registry) Option { return func(e *Engine) { e.registry = r } }
func WithExecutor(x Executor) Option { return func(e *Engine) { e.exec = x } }
func WithDispatcher(d *Dispatcher) Option { return func(e *Engine) { e.hooks = d } }
func WithLocker(l Locker) Option { return func(e *Engine) { e.locks = l } }
func WithInstrumentation(m Instrumentation) Option {
	return func(e *Engine) { e.metrics = m }
}
func WithAuditBuffer(n int) Option { return func(e *Engine) { e.auditBuffer = n } }
func WithProvisionBatch(n int) Option { return func(e *Engine) { e.provisionBatch = n } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l.WithField("component", "engine") }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		logger:         log.WithField("component", "engine"),
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		provisionBatch: DefaultProvisionBatch,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.exec == nil {
		e.exec = NewPool(DefaultPoolSize)
		e.ownsExec = true
	}
	if e.hooks == nil {
		e.hooks = NewDispatcher(DefaultHookTimeout)
		e.ownsHooks = true
	}
	if e.locks == nil {
		e.locks = NewKeyedMutex()
	}
	if e.metrics == nil {
		e.metrics = NopInstrumentation{}
	}
	if e.provisionBatch <= 0 {
		e.provisionBatch = DefaultProvisionBatch
	}
	e.audit = NewAuditWriter(store, e.auditBuffer, e.metrics)
	return e
}

// Hooks exposes the dispatcher so observers can subscribe.
func (e *Engine) Hooks() *Dispatcher { return e.hooks }

// Registry exposes the currency cache.
func (e *Engine) Registry() *Registry { return e.registry }

// LoadCurrencies fills the registry from the store.
func (e *Engine) LoadCurrencies(ctx context.Context) error {
	if err := e.registry.Load(ctx, e.store); err != nil {
		return fmt.Errorf("load currencies: %w", err)
	}
	e.logger.WithField("count", e.registry.Len()).Info("currency registry loaded")
	return nil
}

// RefreshCurrencies reloads the registry, picking up currencies written by
// other instances sharing the store.
func (e *Engine) RefreshCurrencies(ctx context.Context) error {
	before := e.registry.Len()
	if err := e.registry.Refresh(ctx, e.store); err != nil {
		return fmt.Errorf("refresh currencies: %w", err)
	}
	if after := e.registry.Len(); after != before {
		e.logger.WithFields(log.Fields{"before": before, "after": after}).Info("currency registry changed")
	}
	return nil
}

// Settle waits until every audit entry queued so far has been written.
func (e *Engine) Settle(ctx context.Context) error {
	return e.audit.Flush(ctx)
}

// Close drains the executor (if the engine created it), then the
// dispatcher and the audit writer.
func (e *Engine) Close() {
	if p, ok := e.exec.(*Pool); ok && e.ownsExec {
		p.Close()
	}
	if e.ownsHooks {
		e.hooks.Close()
	}
	e.audit.Close()
}

// =============================================================================
// READ SIDE
// =============================================================================

// Currencies lists the cached currencies.
func (e *Engine) Currencies() []Currency { return e.registry.List() }

// Currency resolves an identifier against the cache.
func (e *Engine) Currency(identifier string) (Currency, bool) {
	return e.registry.ByIdentifier(identifier)
}

// Accounts lists every account a player owns.
func (e *Engine) Accounts(ctx context.Context, player PlayerID) ([]Account, error) {
	return e.store.ListAccountsByPlayer(ctx, player)
}

// Logs queries the audit trail.
func (e *Engine) Logs(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	return e.store.QueryLogs(ctx, filter)
}

// =============================================================================
// LOG ENTRY HELPERS
// =============================================================================

func (e *Engine) managementEntry(action string, cur *Currency, actor string, err error) LogEntry {
	entry := LogEntry{
		Timestamp: e.now(),
		LogType:   LogManagement,
		LogLevel:  LevelInfo,
		Success:   err == nil,
		Initiator: actor,
		Details:   action,
		Metadata:  map[string]string{"action": action},
	}
	if cur != nil {
		if cur.ID != 0 {
			entry.CurrencyID = ptr(cur.ID)
		}
		entry.Metadata["currency"] = cur.Identifier
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
		entry.LogLevel = LevelWarning
		if KindOf(err) == KindInfrastructure {
			entry.LogType = LogError
			entry.LogLevel = LevelError
		}
	}
	return entry
}

func (e *Engine) recordManagement(action string, res ManagementResult) ManagementResult {
	e.metrics.ManagementCompleted(action, res)
	return res
}

func managementFailure(cur *Currency, err error) ManagementResult {
	return ManagementResult{
		OK:       false,
		Currency: cur,
		Message:  err.Error(),
		Kind:     KindOf(err),
		Err:      err,
	}
}
