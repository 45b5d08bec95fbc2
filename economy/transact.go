/*
transact.go - Balance queries, deposits and withdrawals

ALGORITHM (Deposit / Withdraw):
  0. Validate amount synchronously (finite, > 0). No I/O on failure.
  1. Resolve currency and load the account. Missing => failure, no writes.
     Accounts are never created implicitly here.
  2. Compute the candidate balance (old + amount / old - amount).
  3. Fire the cancellable pre hook with the candidate.
  4. Cancelled => failure with the observer's reason, balance untouched.
  5. Under the per-account lock: reload, run the mutation function against
     the fresh balance, save. The mutation function is the authoritative
     sufficiency check for withdrawals, not the hook.
  6. Mutation refused => failure (insufficient funds), balance untouched.
  7. Saved => fire the post hook and return success.
  Every path queues exactly one LogEntry.

WHY RELOAD UNDER THE LOCK:
  Hooks run outside the critical section so one slow observer cannot hold
  an account lock. The candidate the hook saw may therefore be stale; the
  mutation always applies to the balance read under the lock, so two
  concurrent withdrawals can never both spend the same funds.

ARITHMETIC:
  Balances are float64 at the API, but each add/subtract goes through
  decimal.Decimal so 0.1 + 0.2 stores as 0.3 and repeated operations do
  not accumulate binary rounding drift.

SEE ALSO:
  - hooks.go: PreTransactEvent / PostTransactEvent
  - locks.go: accountKey and KeyedMutex
*/
package economy

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// =============================================================================
// MUTATION FUNCTIONS
// =============================================================================

// mutation computes the new balance from the current one, or refuses.
type mutation func(old float64) (float64, error)

func addAmount(old, amount float64) float64 {
	v, _ := decimal.NewFromFloat(old).Add(decimal.NewFromFloat(amount)).Float64()
	return v
}

func subAmount(old, amount float64) float64 {
	v, _ := decimal.NewFromFloat(old).Sub(decimal.NewFromFloat(amount)).Float64()
	return v
}

func depositMutation(amount float64) mutation {
	return func(old float64) (float64, error) {
		next := addAmount(old, amount)
		if math.IsInf(next, 0) {
			return old, fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
		}
		return next, nil
	}
}

func withdrawMutation(player PlayerID, currency string, amount float64) mutation {
	return func(old float64) (float64, error) {
		if decimal.NewFromFloat(old).LessThan(decimal.NewFromFloat(amount)) {
			return old, &InsufficientFundsError{
				Player:    player,
				Currency:  currency,
				Available: old,
				Requested: amount,
			}
		}
		return subAmount(old, amount), nil
	}
}

func validAmount(amount float64) bool {
	return amount > 0 && !math.IsNaN(amount) && !math.IsInf(amount, 0)
}

// =============================================================================
// GET BALANCE
// =============================================================================

// GetBalance returns the player's balance, or 0 when no account exists.
// It never creates an account. The future only carries an error for
// infrastructure faults.
func (e *Engine) GetBalance(ctx context.Context, player PlayerID, currency string) *Future[float64] {
	cur, ok := e.registry.ByIdentifier(currency)
	if !ok {
		return Resolved(0.0)
	}

	f := newFuture[float64]()
	err := e.exec.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				f.resolve(0, fmt.Errorf("get balance panicked: %v", r))
			}
		}()
		acct, err := e.store.FindAccount(ctx, player, cur.ID)
		if err != nil {
			f.resolve(0, fmt.Errorf("find account: %w", err))
			return
		}
		if acct == nil {
			f.resolve(0, nil)
			return
		}
		f.resolve(acct.Balance, nil)
	})
	if err != nil {
		f.resolve(0, err)
	}
	return f
}

// =============================================================================
// DEPOSIT / WITHDRAW
// =============================================================================

func (e *Engine) Deposit(ctx context.Context, req TransactionRequest) *Future[TransactionResult] {
	return e.transact(ctx, OpDeposit, req)
}

func (e *Engine) Withdraw(ctx context.Context, req TransactionRequest) *Future[TransactionResult] {
	return e.transact(ctx, OpWithdraw, req)
}

// txn carries the state of one in-flight transaction.
type txn struct {
	id      string
	op      OperationType
	req     TransactionRequest
	cur     *Currency
	started time.Time
}

func (e *Engine) transact(ctx context.Context, op OperationType, req TransactionRequest) *Future[TransactionResult] {
	t := &txn{id: e.newID(), op: op, req: req, started: time.Now()}

	if !validAmount(req.Amount) {
		return Resolved(e.fail(t, nil, 0, ErrInvalidAmount))
	}

	f := newFuture[TransactionResult]()
	err := e.exec.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				f.resolve(e.fail(t, nil, 0, fmt.Errorf("transaction panicked: %v", r)), nil)
			}
		}()
		f.resolve(e.run(ctx, t), nil)
	})
	if err != nil {
		f.resolve(e.fail(t, nil, 0, err), nil)
	}
	return f
}

func (e *Engine) run(ctx context.Context, t *txn) TransactionResult {
	// 1. Resolve and load
	cur, ok := e.registry.ByIdentifier(t.req.Currency)
	if !ok {
		return e.fail(t, nil, 0, ErrCurrencyNotFound)
	}
	t.cur = &cur

	acct, err := e.store.FindAccount(ctx, t.req.Player, cur.ID)
	if err != nil {
		return e.fail(t, nil, 0, fmt.Errorf("find account: %w", err))
	}
	if acct == nil {
		return e.fail(t, nil, 0, ErrAccountNotFound)
	}

	// 2. Candidate
	mutate := depositMutation(t.req.Amount)
	candidate := addAmount(acct.Balance, t.req.Amount)
	if t.op == OpWithdraw {
		mutate = withdrawMutation(t.req.Player, cur.Identifier, t.req.Amount)
		candidate = subAmount(acct.Balance, t.req.Amount)
	}

	// 3. Pre hook
	pre := &PreTransactEvent{
		Account:    *acct,
		Currency:   cur,
		Operation:  t.op,
		Amount:     t.req.Amount,
		OldBalance: acct.Balance,
		NewBalance: candidate,
		Reason:     t.req.Reason,
		Initiator:  t.req.Initiator,
	}
	if err := e.hooks.FirePreTransact(ctx, pre); err != nil {
		return e.fail(t, acct, acct.Balance, fmt.Errorf("pre hook: %w", err))
	}

	// 4. Cancelled
	if err := pre.err(); err != nil {
		return e.fail(t, acct, acct.Balance, err)
	}

	// 5./6. Mutate under the account lock
	saved, old, err := e.applyLocked(ctx, t, mutate)
	if err != nil {
		return e.fail(t, acct, old, err)
	}

	// 7. Post hook and success
	post := PostTransactEvent{
		TransactionID: t.id,
		Account:       saved,
		Currency:      cur,
		Operation:     t.op,
		Amount:        t.req.Amount,
		OldBalance:    old,
		NewBalance:    saved.Balance,
		Reason:        t.req.Reason,
		Initiator:     t.req.Initiator,
		At:            e.now(),
	}
	if err := e.hooks.FirePostTransact(ctx, post); err != nil {
		e.logger.WithError(err).WithField("transaction_id", t.id).Warn("post transact hook not delivered")
	}

	return e.succeed(t, old, saved.Balance)
}

// applyLocked reloads, mutates and saves while holding the account key.
// It returns the saved account and the balance it started from.
func (e *Engine) applyLocked(ctx context.Context, t *txn, mutate mutation) (Account, float64, error) {
	unlock, err := e.locks.Lock(ctx, accountKey(t.req.Player, t.cur.ID))
	if err != nil {
		return Account{}, 0, fmt.Errorf("lock account: %w", err)
	}
	defer unlock()

	fresh, err := e.store.FindAccount(ctx, t.req.Player, t.cur.ID)
	if err != nil {
		return Account{}, 0, fmt.Errorf("reload account: %w", err)
	}
	if fresh == nil {
		return Account{}, 0, ErrAccountNotFound
	}

	next, err := mutate(fresh.Balance)
	if err != nil {
		return Account{}, fresh.Balance, err
	}

	updated := *fresh
	updated.Balance = next
	updated.UpdatedAt = e.now()
	saved, err := e.store.SaveAccount(ctx, updated)
	if err != nil {
		return Account{}, fresh.Balance, fmt.Errorf("save account: %w", err)
	}
	return saved, fresh.Balance, nil
}

// =============================================================================
// RESULTS AND AUDIT
// =============================================================================

func (e *Engine) succeed(t *txn, old, next float64) TransactionResult {
	res := TransactionResult{
		ID:        t.id,
		Status:    StatusSuccess,
		Operation: t.op,
		Player:    t.req.Player,
		Currency:  t.cur.Identifier,
		Amount:    t.req.Amount,
		Balance:   next,
	}

	e.audit.Append(e.transactionEntry(t, old, next, nil))
	e.metrics.TransactionCompleted(res, time.Since(t.started))

	e.logger.WithFields(log.Fields{
		"transaction_id": t.id,
		"operation":      t.op,
		"player":         t.req.Player,
		"currency":       t.cur.Identifier,
		"amount":         t.req.Amount,
		"balance":        next,
	}).Debug("transaction applied")
	return res
}

// fail builds the failure result and queues its audit entry. balance is
// the unchanged balance reported back to the caller.
func (e *Engine) fail(t *txn, acct *Account, balance float64, err error) TransactionResult {
	kind := KindOf(err)
	res := TransactionResult{
		ID:        t.id,
		Status:    StatusFailure,
		Operation: t.op,
		Player:    t.req.Player,
		Currency:  t.req.Currency,
		Balance:   balance,
		Message:   err.Error(),
		Kind:      kind,
		Err:       err,
	}
	if t.cur != nil {
		res.Currency = t.cur.Identifier
	}

	entry := e.transactionEntry(t, balance, balance, err)
	if acct == nil {
		entry.OldBalance, entry.NewBalance = nil, nil
	}
	e.audit.Append(entry)
	e.metrics.TransactionCompleted(res, time.Since(t.started))

	fields := log.Fields{
		"transaction_id": t.id,
		"operation":      t.op,
		"player":         t.req.Player,
		"currency":       t.req.Currency,
		"amount":         t.req.Amount,
		"kind":           kind,
	}
	if kind == KindInfrastructure {
		e.logger.WithError(err).WithFields(fields).Error("transaction failed")
	} else {
		e.logger.WithFields(fields).WithField("reason", err.Error()).Info("transaction refused")
	}
	return res
}

func (e *Engine) transactionEntry(t *txn, old, next float64, err error) LogEntry {
	player := t.req.Player
	entry := LogEntry{
		Timestamp:     e.now(),
		LogType:       LogTransaction,
		LogLevel:      LevelInfo,
		OperationType: t.op,
		PlayerID:      &player,
		OldBalance:    ptr(old),
		NewBalance:    ptr(next),
		Amount:        ptr(t.req.Amount),
		Success:       err == nil,
		Initiator:     t.req.Initiator,
		Details:       t.req.Reason,
		Metadata: map[string]string{
			"transaction_id": t.id,
			"currency":       t.req.Currency,
		},
	}
	if t.cur != nil {
		entry.CurrencyID = ptr(t.cur.ID)
		entry.Metadata["currency"] = t.cur.Identifier
		entry.Metadata["currency_id"] = strconv.FormatInt(int64(t.cur.ID), 10)
	}
	if math.IsNaN(t.req.Amount) || math.IsInf(t.req.Amount, 0) {
		entry.Amount = nil
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
