package economy_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/currency-engine/economy"
	"github.com/warp/currency-engine/economy/store"
)

// =============================================================================
// HELPERS
// =============================================================================

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.TxMemory
	engine *economy.Engine
}

func newFixture(t *testing.T, opts ...economy.Option) *fixture {
	t.Helper()
	st := store.NewTxMemory()
	opts = append([]economy.Option{economy.WithExecutor(economy.SyncExecutor{})}, opts...)
	engine := economy.NewEngine(st, opts...)
	t.Cleanup(engine.Close)
	return &fixture{t: t, ctx: context.Background(), store: st, engine: engine}
}

func (f *fixture) currency(identifier string) economy.Currency {
	f.t.Helper()
	res, err := f.engine.CreateCurrency(f.ctx, economy.Currency{Identifier: identifier}, "test").Wait()
	require.NoError(f.t, err)
	require.True(f.t, res.OK, res.Message)
	return *res.Currency
}

func (f *fixture) player(id string) {
	f.t.Helper()
	res, err := f.engine.RegisterPlayer(f.ctx, economy.Player{ID: economy.PlayerID(id)}).Wait()
	require.NoError(f.t, err)
	require.True(f.t, res.OK, res.Message)
}

func (f *fixture) deposit(player, currency string, amount float64) economy.TransactionResult {
	f.t.Helper()
	res, err := f.engine.Deposit(f.ctx, economy.TransactionRequest{
		Player: economy.PlayerID(player), Currency: currency, Amount: amount,
	}).Wait()
	require.NoError(f.t, err)
	return res
}

func (f *fixture) withdraw(player, currency string, amount float64) economy.TransactionResult {
	f.t.Helper()
	res, err := f.engine.Withdraw(f.ctx, economy.TransactionRequest{
		Player: economy.PlayerID(player), Currency: currency, Amount: amount,
	}).Wait()
	require.NoError(f.t, err)
	return res
}

func (f *fixture) balance(player, currency string) float64 {
	f.t.Helper()
	b, err := f.engine.GetBalance(f.ctx, economy.PlayerID(player), currency).Wait()
	require.NoError(f.t, err)
	return b
}

func (f *fixture) logs(filter economy.LogFilter) []economy.LogEntry {
	f.t.Helper()
	require.NoError(f.t, f.engine.Settle(f.ctx))
	entries, err := f.engine.Logs(f.ctx, filter)
	require.NoError(f.t, err)
	return entries
}

func playerLogs(id string) economy.LogFilter {
	p := economy.PlayerID(id)
	return economy.LogFilter{PlayerID: &p, LogTypes: []economy.LogType{economy.LogTransaction, economy.LogError}}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestDepositWithdraw_Scenario(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.player("alice")

	// GIVEN: a zero-balance account
	// WHEN: 100 is deposited
	res := f.deposit("alice", "coins", 100)

	// THEN: the deposit succeeds
	assert.True(t, res.Succeeded())
	assert.Equal(t, 100.0, res.Amount)
	assert.Equal(t, 100.0, res.Balance)

	// WHEN: 150 is withdrawn
	res = f.withdraw("alice", "coins", 150)

	// THEN: it fails and the balance is untouched
	assert.Equal(t, economy.StatusFailure, res.Status)
	assert.Equal(t, economy.KindInsufficientFunds, res.Kind)
	assert.Contains(t, res.Message, "insufficient funds")
	assert.Equal(t, 100.0, res.Balance)
	assert.False(t, res.Retryable())

	// WHEN: 100 is withdrawn
	res = f.withdraw("alice", "coins", 100)

	// THEN: the account is emptied
	assert.True(t, res.Succeeded())
	assert.Equal(t, 0.0, res.Balance)
	assert.Equal(t, 0.0, f.balance("alice", "coins"))
}

func TestWithdraw_CancelledByObserver(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.player("bob")
	f.deposit("bob", "coins", 50)

	// GIVEN: an observer freezing every withdrawal
	f.engine.Hooks().OnPreTransact("freeze", func(ev *economy.PreTransactEvent) {
		if ev.Operation == economy.OpWithdraw {
			ev.Cancel("frozen")
		}
	})
	var posts int
	f.engine.Hooks().OnPostTransact("count", func(economy.PostTransactEvent) { posts++ })

	// WHEN: 10 is withdrawn
	res := f.withdraw("bob", "coins", 10)

	// THEN: the withdrawal fails with the observer's reason
	assert.Equal(t, economy.StatusFailure, res.Status)
	assert.Equal(t, "frozen", res.Message)
	assert.Equal(t, economy.KindCancelled, res.Kind)
	assert.Equal(t, 50.0, f.balance("bob", "coins"))
	assert.Zero(t, posts, "no post hook for a cancelled transaction")

	// AND: exactly one failed entry carries the reason
	var failed []economy.LogEntry
	for _, e := range f.logs(playerLogs("bob")) {
		if !e.Success {
			failed = append(failed, e)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "frozen", failed[0].ErrorMessage)
	assert.Equal(t, economy.OpWithdraw, failed[0].OperationType)
}

func TestWithdraw_InsufficientFundsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.player("p1")
	f.deposit("p1", "coins", 30)

	res := f.withdraw("p1", "coins", 31)
	require.Equal(t, economy.KindInsufficientFunds, res.Kind)

	var shortage *economy.InsufficientFundsError
	require.ErrorAs(t, res.Err, &shortage)
	assert.Equal(t, 30.0, shortage.Available)
	assert.Equal(t, 31.0, shortage.Requested)

	entries := f.logs(playerLogs("p1"))
	require.NotEmpty(t, entries)
	last := entries[0]
	assert.False(t, last.Success)
	require.NotNil(t, last.OldBalance)
	require.NotNil(t, last.NewBalance)
	assert.Equal(t, *last.OldBalance, *last.NewBalance)
	assert.Equal(t, 30.0, *last.NewBalance)
}

func TestTransact_InvalidAmounts(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.player("p1")

	for _, amount := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		res := f.deposit("p1", "coins", amount)
		assert.Equal(t, economy.KindValidation, res.Kind, "amount %v", amount)
		assert.ErrorIs(t, res.Err, economy.ErrInvalidAmount)

		res = f.withdraw("p1", "coins", amount)
		assert.Equal(t, economy.KindValidation, res.Kind, "amount %v", amount)
	}
	assert.Equal(t, 0.0, f.balance("p1", "coins"))
}

func TestTransact_MissingAccountOrCurrency(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")

	res := f.deposit("ghost", "coins", 5)
	assert.ErrorIs(t, res.Err, economy.ErrAccountNotFound)
	assert.Equal(t, economy.KindNotFound, res.Kind)

	res = f.deposit("ghost", "gems", 5)
	assert.ErrorIs(t, res.Err, economy.ErrCurrencyNotFound)
}

func TestTransact_Conservation(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.player("p1")

	ops := []struct {
		deposit bool
		amount  float64
	}{
		{true, 10.5}, {true, 0.1}, {false, 0.2}, {true, 100}, {false, 33.33}, {false, 1000}, {true, 0.7},
	}
	expected := 0.0
	for _, op := range ops {
		var res economy.TransactionResult
		if op.deposit {
			res = f.deposit("p1", "coins", op.amount)
		} else {
			res = f.withdraw("p1", "coins", op.amount)
		}
		if res.Succeeded() {
			if op.deposit {
				expected += op.amount
			} else {
				expected -= op.amount
			}
		}
	}
	assert.InDelta(t, expected, f.balance("p1", "coins"), 1e-9)
	assert.InDelta(t, 77.77, f.balance("p1", "coins"), 1e-9)
}

func TestTransact_AuditCompleteness(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.player("p1")
	f.engine.Hooks().OnPreTransact("veto-7", func(ev *economy.PreTransactEvent) {
		if ev.Amount == 7 {
			ev.Cancel("no sevens")
		}
	})

	amounts := []float64{5, 7, -1, 3, 100, 7, 2}
	for i, a := range amounts {
		if i%2 == 0 {
			f.deposit("p1", "coins", a)
		} else {
			f.withdraw("p1", "coins", a)
		}
	}

	assert.Len(t, f.logs(playerLogs("p1")), len(amounts))
}

func TestGetBalance_DoesNotCreateAccount(t *testing.T) {
	f := newFixture(t)
	cur := f.currency("coins")

	assert.Equal(t, 0.0, f.balance("nobody", "coins"))
	assert.Equal(t, 0.0, f.balance("nobody", "unknown"))

	accounts, err := f.store.FindAccountsByCurrency(f.ctx, cur.ID)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestTransact_InfrastructureFailureIsContained(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.player("p1")
	f.deposit("p1", "coins", 10)

	// GIVEN: the store cannot save accounts
	f.store.Fail("SaveAccount", errors.New("connection refused"))

	// WHEN: a deposit runs
	res := f.deposit("p1", "coins", 5)

	// THEN: a retryable failure is reported, not returned as an error
	assert.Equal(t, economy.StatusFailure, res.Status)
	assert.Equal(t, economy.KindInfrastructure, res.Kind)
	assert.True(t, res.Retryable())
	assert.Contains(t, res.Message, "connection refused")

	// AND: an error entry is logged
	entries := f.logs(economy.LogFilter{LogTypes: []economy.LogType{economy.LogError}})
	require.Len(t, entries, 1)
	assert.Equal(t, economy.LevelError, entries[0].LogLevel)
	assert.False(t, entries[0].Success)

	f.store.Fail("SaveAccount", nil)
	assert.Equal(t, 10.0, f.balance("p1", "coins"))
}

func TestTransact_ObserverPanicDoesNotBreakTransaction(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.player("p1")
	f.engine.Hooks().OnPreTransact("buggy", func(*economy.PreTransactEvent) { panic("nil map") })
	f.engine.Hooks().OnPostTransact("buggy", func(economy.PostTransactEvent) { panic("nil map") })

	res := f.deposit("p1", "coins", 5)

	assert.True(t, res.Succeeded())
	assert.Len(t, f.logs(playerLogs("p1")), 1)
}

func TestTransact_SlowObserverIsBounded(t *testing.T) {
	d := economy.NewDispatcher(20 * time.Millisecond)
	defer d.Close()
	f := newFixture(t, economy.WithDispatcher(d))
	f.currency("coins")
	f.player("p1")

	release := make(chan struct{})
	defer close(release)
	d.OnPreTransact("stuck", func(*economy.PreTransactEvent) { <-release })

	start := time.Now()
	res := f.deposit("p1", "coins", 1)

	assert.True(t, res.Succeeded())
	assert.Less(t, time.Since(start), time.Second)
}

func TestTransact_PostHookSeesCommittedBalance(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.player("p1")

	var got []economy.PostTransactEvent
	f.engine.Hooks().OnPostTransact("capture", func(ev economy.PostTransactEvent) { got = append(got, ev) })

	res := f.deposit("p1", "coins", 12)
	require.Len(t, got, 1)
	assert.Equal(t, res.ID, got[0].TransactionID)
	assert.Equal(t, 0.0, got[0].OldBalance)
	assert.Equal(t, 12.0, got[0].NewBalance)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestWithdraw_ConcurrentCallsNeverOverdraw(t *testing.T) {
	pool := economy.NewPool(16)
	defer pool.Close()
	f := newFixture(t, economy.WithExecutor(pool))
	f.currency("coins")
	f.player("p1")
	f.deposit("p1", "coins", 50)

	// GIVEN: 100 concurrent withdrawals of 1 against a balance of 50
	futures := make([]*economy.Future[economy.TransactionResult], 100)
	for i := range futures {
		futures[i] = f.engine.Withdraw(f.ctx, economy.TransactionRequest{Player: "p1", Currency: "coins", Amount: 1})
	}

	// THEN: exactly 50 succeed and the balance ends at zero
	succeeded := 0
	for _, fut := range futures {
		res, err := fut.Wait()
		require.NoError(t, err)
		if res.Succeeded() {
			succeeded++
		} else {
			assert.Equal(t, economy.KindInsufficientFunds, res.Kind)
		}
	}
	assert.Equal(t, 50, succeeded)
	assert.Equal(t, 0.0, f.balance("p1", "coins"))
}

func TestDeposit_ConcurrentCallsAllLand(t *testing.T) {
	pool := economy.NewPool(8)
	defer pool.Close()
	f := newFixture(t, economy.WithExecutor(pool))
	f.currency("coins")
	f.player("p1")

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Deposit(f.ctx, economy.TransactionRequest{Player: "p1", Currency: "coins", Amount: 0.5}).Wait()
		}()
	}
	wg.Wait()

	assert.InDelta(t, 100.0, f.balance("p1", "coins"), 1e-9)
	assert.Len(t, f.logs(economy.LogFilter{LogTypes: []economy.LogType{economy.LogTransaction}}), 200)
}
