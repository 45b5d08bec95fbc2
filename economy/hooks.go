/*
hooks.go - Pre/post event hooks around every mutation

PURPOSE:
  Lets other parts of the game server veto or observe economy actions
  without the engine knowing about them (anti-cheat freezes, quest
  triggers, analytics, the Kafka relay...).

EVENTS:
  Each action kind has two typed events:

    Action          Pre (cancellable)          Post (read-only)
    transact        *PreTransactEvent          PostTransactEvent
    create currency *PreCreateCurrencyEvent    PostCreateCurrencyEvent
    delete currency *PreDeleteCurrencyEvent    PostDeleteCurrencyEvent

ORDERING:
  All deliveries run on a single dispatcher goroutine. A pre event is fully
  resolved (every observer ran or timed out) before the engine proceeds,
  and no two deliveries interleave. This orders hook observation, it does
  not serialize balance updates - see locks.go for that.

UNTRUSTED OBSERVERS:
  - A panicking observer is recovered and logged; delivery continues.
  - Each observer call is bounded by the hook timeout. An observer that
    times out is abandoned: its goroutine may still be running while the
    next observers are called, but its Cancel no longer counts. A cancel
    issued after the decision is sealed is ignored.
  - Observers receive a shallow copy of the pre event; only Cancel is
    shared with the engine.
  - The first cancel reason wins. Later observers still run and can see
    Cancelled() == true.

SEE ALSO:
  - transact.go, currency.go: Where hooks are fired
  - events/kafka.go: Post-event relay to Kafka
*/
package economy

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// =============================================================================
// CANCELLATION
// =============================================================================

// Cancellation is embedded in every pre event. Each observer call gets its
// own view of the event bound to a ticket; the decision itself is shared.
type Cancellation struct {
	state  *cancelState
	ticket *cancelTicket
}

type cancelState struct {
	mu       sync.Mutex
	sealed   bool
	canceled bool
	reason   string
	by       string
}

// cancelTicket identifies one observer call. Guarded by cancelState.mu.
type cancelTicket struct {
	observer string
	expired  bool
}

// Cancel vetoes the action. Empty reasons get a generic message. Calls
// from an observer that already timed out are ignored.
func (c *Cancellation) Cancel(reason string) {
	s := c.shared()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed || s.canceled || (c.ticket != nil && c.ticket.expired) {
		return
	}
	observer := ""
	if c.ticket != nil {
		observer = c.ticket.observer
	}
	if reason == "" {
		reason = "cancelled by " + observer
	}
	s.canceled = true
	s.reason = reason
	s.by = observer
}

func (c *Cancellation) Cancelled() bool {
	s := c.shared()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}

func (c *Cancellation) CancelReason() string {
	s := c.shared()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (c *Cancellation) err() error {
	s := c.shared()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canceled {
		return nil
	}
	return &CancelledError{Observer: s.by, Reason: s.reason}
}

// shared returns the decision state, creating it on first use. firePre
// calls it before any observer runs so every view shares one state.
func (c *Cancellation) shared() *cancelState {
	if c.state == nil {
		c.state = &cancelState{}
	}
	return c.state
}

func (c *Cancellation) cancellation() *Cancellation { return c }

// bind returns a view for one observer call.
func (c *Cancellation) bind(t *cancelTicket) Cancellation {
	return Cancellation{state: c.shared(), ticket: t}
}

func (c *Cancellation) expire(t *cancelTicket) {
	s := c.shared()
	s.mu.Lock()
	t.expired = true
	s.mu.Unlock()
}

func (c *Cancellation) seal() {
	s := c.shared()
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

type cancellable[E any] interface {
	cancellation() *Cancellation
	// forObserver returns a shallow copy whose Cancel is tied to t.
	forObserver(t *cancelTicket) E
}

// =============================================================================
// EVENTS
// =============================================================================

type PreTransactEvent struct {
	Cancellation
	Account    Account
	Currency   Currency
	Operation  OperationType
	Amount     float64
	OldBalance float64
	NewBalance float64 // candidate; the mutation re-validates
	Reason     string
	Initiator  string
}

func (ev *PreTransactEvent) forObserver(t *cancelTicket) *PreTransactEvent {
	view := *ev
	view.Cancellation = ev.bind(t)
	return &view
}

type PostTransactEvent struct {
	TransactionID string
	Account       Account
	Currency      Currency
	Operation     OperationType
	Amount        float64
	OldBalance    float64
	NewBalance    float64
	Reason        string
	Initiator     string
	At            time.Time
}

type PreCreateCurrencyEvent struct {
	Cancellation
	Currency Currency
	Actor    string
}

func (ev *PreCreateCurrencyEvent) forObserver(t *cancelTicket) *PreCreateCurrencyEvent {
	view := *ev
	view.Cancellation = ev.bind(t)
	return &view
}

type PostCreateCurrencyEvent struct {
	Currency Currency
	Actor    string
	At       time.Time
}

type PreDeleteCurrencyEvent struct {
	Cancellation
	Currency         Currency
	Actor            string
	AffectedAccounts int
	TotalBalance     float64
}

func (ev *PreDeleteCurrencyEvent) forObserver(t *cancelTicket) *PreDeleteCurrencyEvent {
	view := *ev
	view.Cancellation = ev.bind(t)
	return &view
}

type PostDeleteCurrencyEvent struct {
	Currency         Currency
	Actor            string
	AffectedAccounts int
	TotalBalance     float64
	At               time.Time
}

// =============================================================================
// DISPATCHER
// =============================================================================

type subscriber[E any] struct {
	name string
	fn   func(E)
}

type delivery struct {
	run  func()
	done chan struct{}
}

// Dispatcher delivers hook events on a single goroutine.
type Dispatcher struct {
	subMu        sync.RWMutex
	preTransact  []subscriber[*PreTransactEvent]
	postTransact []subscriber[PostTransactEvent]
	preCreate    []subscriber[*PreCreateCurrencyEvent]
	postCreate   []subscriber[PostCreateCurrencyEvent]
	preDelete    []subscriber[*PreDeleteCurrencyEvent]
	postDelete   []subscriber[PostDeleteCurrencyEvent]

	timeout time.Duration
	queue   chan delivery
	logger  *log.Entry

	stateMu sync.RWMutex
	closed  bool
	quit    chan struct{}
	stopped chan struct{}
}

// DefaultHookTimeout bounds a single observer call.
const DefaultHookTimeout = 2 * time.Second

// NewDispatcher starts the delivery goroutine. timeout <= 0 disables the
// per-observer bound.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	d := &Dispatcher{
		timeout: timeout,
		queue:   make(chan delivery, 64),
		logger:  log.WithField("component", "hooks"),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)
	for {
		select {
		case del := <-d.queue:
			del.run()
			close(del.done)
		case <-d.quit:
			// Drain what was queued before Close flipped the flag.
			for {
				select {
				case del := <-d.queue:
					del.run()
					close(del.done)
				default:
					return
				}
			}
		}
	}
}

// Close stops the dispatcher after delivering what is already queued.
func (d *Dispatcher) Close() {
	d.stateMu.Lock()
	if d.closed {
		d.stateMu.Unlock()
		return
	}
	d.closed = true
	d.stateMu.Unlock()

	close(d.quit)
	<-d.stopped
}

// submit runs fn on the dispatcher goroutine and waits for it.
func (d *Dispatcher) submit(ctx context.Context, fn func()) error {
	del := delivery{run: fn, done: make(chan struct{})}

	d.stateMu.RLock()
	if d.closed {
		d.stateMu.RUnlock()
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- del:
	case <-ctx.Done():
		d.stateMu.RUnlock()
		return ctx.Err()
	}
	d.stateMu.RUnlock()

	select {
	case <-del.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// invoke calls one observer with panic recovery and the timeout bound.
// It reports false when the observer was abandoned after the timeout; the
// observer's goroutine is left to finish on its own.
func (d *Dispatcher) invoke(hook, name string, fn func()) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				d.logger.WithFields(log.Fields{
					"hook":     hook,
					"observer": name,
					"panic":    r,
				}).Error("observer panicked")
			}
		}()
		fn()
	}()

	if d.timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		d.logger.WithFields(log.Fields{
			"hook":     hook,
			"observer": name,
			"timeout":  d.timeout,
		}).Warn("observer timed out")
		return false
	}
}

func firePre[E cancellable[E]](ctx context.Context, d *Dispatcher, hook string, subs []subscriber[E], ev E) error {
	c := ev.cancellation()
	c.shared()
	return d.submit(ctx, func() {
		for _, s := range subs {
			ticket := &cancelTicket{observer: s.name}
			view := ev.forObserver(ticket)
			if !d.invoke(hook, s.name, func() { s.fn(view) }) {
				c.expire(ticket)
			}
		}
		c.seal()
	})
}

func firePost[E any](ctx context.Context, d *Dispatcher, hook string, subs []subscriber[E], ev E) error {
	if len(subs) == 0 {
		return nil
	}
	return d.submit(ctx, func() {
		for _, s := range subs {
			d.invoke(hook, s.name, func() { s.fn(ev) })
		}
	})
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (d *Dispatcher) OnPreTransact(name string, fn func(*PreTransactEvent)) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.preTransact = append(d.preTransact, subscriber[*PreTransactEvent]{name, fn})
}

func (d *Dispatcher) OnPostTransact(name string, fn func(PostTransactEvent)) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.postTransact = append(d.postTransact, subscriber[PostTransactEvent]{name, fn})
}

func (d *Dispatcher) OnPreCreateCurrency(name string, fn func(*PreCreateCurrencyEvent)) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.preCreate = append(d.preCreate, subscriber[*PreCreateCurrencyEvent]{name, fn})
}

func (d *Dispatcher) OnPostCreateCurrency(name string, fn func(PostCreateCurrencyEvent)) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.postCreate = append(d.postCreate, subscriber[PostCreateCurrencyEvent]{name, fn})
}

func (d *Dispatcher) OnPreDeleteCurrency(name string, fn func(*PreDeleteCurrencyEvent)) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.preDelete = append(d.preDelete, subscriber[*PreDeleteCurrencyEvent]{name, fn})
}

func (d *Dispatcher) OnPostDeleteCurrency(name string, fn func(PostDeleteCurrencyEvent)) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.postDelete = append(d.postDelete, subscriber[PostDeleteCurrencyEvent]{name, fn})
}

// =============================================================================
// FIRING
// =============================================================================

func (d *Dispatcher) FirePreTransact(ctx context.Context, ev *PreTransactEvent) error {
	d.subMu.RLock()
	subs := append([]subscriber[*PreTransactEvent](nil), d.preTransact...)
	d.subMu.RUnlock()
	return firePre(ctx, d, "pre_transact", subs, ev)
}

func (d *Dispatcher) FirePostTransact(ctx context.Context, ev PostTransactEvent) error {
	d.subMu.RLock()
	subs := append([]subscriber[PostTransactEvent](nil), d.postTransact...)
	d.subMu.RUnlock()
	return firePost(ctx, d, "post_transact", subs, ev)
}

func (d *Dispatcher) FirePreCreateCurrency(ctx context.Context, ev *PreCreateCurrencyEvent) error {
	d.subMu.RLock()
	subs := append([]subscriber[*PreCreateCurrencyEvent](nil), d.preCreate...)
	d.subMu.RUnlock()
	return firePre(ctx, d, "pre_create_currency", subs, ev)
}

func (d *Dispatcher) FirePostCreateCurrency(ctx context.Context, ev PostCreateCurrencyEvent) error {
	d.subMu.RLock()
	subs := append([]subscriber[PostCreateCurrencyEvent](nil), d.postCreate...)
	d.subMu.RUnlock()
	return firePost(ctx, d, "post_create_currency", subs, ev)
}

func (d *Dispatcher) FirePreDeleteCurrency(ctx context.Context, ev *PreDeleteCurrencyEvent) error {
	d.subMu.RLock()
	subs := append([]subscriber[*PreDeleteCurrencyEvent](nil), d.preDelete...)
	d.subMu.RUnlock()
	return firePre(ctx, d, "pre_delete_currency", subs, ev)
}

func (d *Dispatcher) FirePostDeleteCurrency(ctx context.Context, ev PostDeleteCurrencyEvent) error {
	d.subMu.RLock()
	subs := append([]subscriber[PostDeleteCurrencyEvent](nil), d.postDelete...)
	d.subMu.RUnlock()
	return firePost(ctx, d, "post_delete_currency", subs, ev)
}
