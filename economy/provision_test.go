package economy_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/currency-engine/economy"
	"github.com/warp/currency-engine/economy/store"
)

func TestRegisterPlayer_OpensAccountPerCurrency(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")
	f.currency("gems")

	// WHEN: a player registers into a two-currency catalog
	res, err := f.engine.RegisterPlayer(f.ctx, economy.Player{ID: "p1", Name: "Player One"}).Wait()
	require.NoError(t, err)

	// THEN: one account per currency is opened
	require.True(t, res.OK)
	assert.Equal(t, 2, res.Accounts)

	accounts, err := f.engine.Accounts(f.ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	// Registering again only fills gaps
	res, err = f.engine.RegisterPlayer(f.ctx, economy.Player{ID: "p1", Name: "Renamed"}).Wait()
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Zero(t, res.Accounts)

	stored, err := f.store.FindPlayer(f.ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Renamed", stored.Name)
}

func TestRegisterPlayer_BlankID(t *testing.T) {
	f := newFixture(t)

	// WHEN/THEN: a player without an ID is rejected
	res, err := f.engine.RegisterPlayer(f.ctx, economy.Player{}).Wait()
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, economy.ErrInvalidPlayer)
}

func TestRemovePlayer(t *testing.T) {
	f := newFixture(t)
	cur := f.currency("coins")
	f.currency("gems")
	f.player("p1")
	f.player("p2")

	// WHEN: p1 is removed
	res, err := f.engine.RemovePlayer(f.ctx, "p1", "support").Wait()
	require.NoError(t, err)

	// THEN: both of p1's accounts go and p2 is untouched
	require.True(t, res.OK)
	assert.Equal(t, 2, res.Accounts)

	accounts, err := f.store.FindAccountsByCurrency(f.ctx, cur.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, economy.PlayerID("p2"), accounts[0].PlayerID)

	// WHEN/THEN: removing again finds nothing
	res, err = f.engine.RemovePlayer(f.ctx, "p1", "support").Wait()
	require.NoError(t, err)
	assert.Equal(t, economy.KindNotFound, res.Kind)
}

func TestProvisionAccounts_FillsGaps(t *testing.T) {
	f := newFixture(t)
	cur := f.currency("coins")

	// GIVEN: players written straight to the store have no accounts yet
	for _, id := range []economy.PlayerID{"x", "y", "z"} {
		_, err := f.store.SavePlayer(f.ctx, economy.Player{ID: id})
		require.NoError(t, err)
	}

	// WHEN: accounts are provisioned twice
	n, err := f.engine.ProvisionAccounts(f.ctx, "coins").Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// THEN: only the first run opens anything
	n, err = f.engine.ProvisionAccounts(f.ctx, "coins").Wait()
	require.NoError(t, err)
	assert.Zero(t, n)

	accounts, err := f.store.FindAccountsByCurrency(f.ctx, cur.ID)
	require.NoError(t, err)
	assert.Len(t, accounts, 3)

	_, err = f.engine.ProvisionAccounts(f.ctx, "unknown").Wait()
	assert.ErrorIs(t, err, economy.ErrCurrencyNotFound)
}

func TestRepairAccounts(t *testing.T) {
	// GIVEN: a player that never went through registration
	f := newFixture(t, economy.WithProvisionBatch(1))
	f.currency("coins")
	f.currency("gems")
	_, err := f.store.SavePlayer(f.ctx, economy.Player{ID: "late"})
	require.NoError(t, err)

	// WHEN: the repair job runs
	n, err := f.engine.RepairAccounts(f.ctx).Wait()

	// THEN: it opens the missing account in each currency
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// WHEN/THEN: a store failure surfaces as an error
	f.store.Fail("ListPlayers", errors.New("timeout"))
	_, err = f.engine.RepairAccounts(f.ctx).Wait()
	assert.Error(t, err)
}

func TestCreateCurrency_ProvisioningFailureStillCreates(t *testing.T) {
	f := newFixture(t)
	// GIVEN: account creation is failing
	f.player("p1")
	f.store.Fail("CreateAccounts", errors.New("pool exhausted"))

	// WHEN: a currency is created
	res, err := f.engine.CreateCurrency(f.ctx, economy.Currency{Identifier: "coins"}, "admin").Wait()
	require.NoError(t, err)

	// THEN: the currency exists without accounts
	assert.True(t, res.OK)
	assert.Zero(t, res.Accounts)

	// The repair job catches up once the store recovers
	f.store.Fail("CreateAccounts", nil)
	n, err := f.engine.RepairAccounts(f.ctx).Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRefreshCurrencies_PicksUpExternalChanges(t *testing.T) {
	f := newFixture(t)
	f.currency("coins")

	// GIVEN: a currency created behind the engine's back
	_, err := f.store.CreateCurrency(f.ctx, economy.Currency{Identifier: "shards"})
	require.NoError(t, err)
	assert.False(t, f.engine.HasCurrency("shards"))

	// WHEN: the registry is refreshed
	require.NoError(t, f.engine.RefreshCurrencies(f.ctx))

	// THEN: the engine knows it
	assert.True(t, f.engine.HasCurrency("shards"))
	assert.Len(t, f.engine.Currencies(), 2)
}

// reloadHookStore runs afterReload once, right after the second FindAccount
// following arm (for a transaction, the reload under the account lock).
type reloadHookStore struct {
	*store.TxMemory
	mu          sync.Mutex
	finds       int
	afterReload func()
}

func (s *reloadHookStore) FindAccount(ctx context.Context, p economy.PlayerID, c economy.CurrencyID) (*economy.Account, error) {
	acct, err := s.TxMemory.FindAccount(ctx, p, c)
	s.mu.Lock()
	s.finds++
	fn := s.afterReload
	if s.finds != 2 {
		fn = nil
	}
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return acct, err
}

func (s *reloadHookStore) arm(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds = 0
	s.afterReload = fn
}

func TestRemovePlayer_DuringTransactionDoesNotResurrectAccount(t *testing.T) {
	ctx := context.Background()
	st := &reloadHookStore{TxMemory: store.NewTxMemory()}
	engine := economy.NewEngine(st, economy.WithExecutor(economy.SyncExecutor{}))
	t.Cleanup(engine.Close)

	res, err := engine.CreateCurrency(ctx, economy.Currency{Identifier: "coins"}, "admin").Wait()
	require.NoError(t, err)
	require.True(t, res.OK)
	res, err = engine.RegisterPlayer(ctx, economy.Player{ID: "p1"}).Wait()
	require.NoError(t, err)
	require.True(t, res.OK)

	// GIVEN: the player row and accounts vanish between reload and save
	st.arm(func() { require.NoError(t, st.TxMemory.DeletePlayer(ctx, "p1")) })

	// WHEN: a deposit is in flight
	tx, err := engine.Deposit(ctx, economy.TransactionRequest{Player: "p1", Currency: "coins", Amount: 5}).Wait()
	require.NoError(t, err)

	// THEN: the save fails instead of recreating the account
	assert.False(t, tx.Succeeded())
	assert.Equal(t, economy.KindNotFound, tx.Kind)
	accounts, err := st.ListAccountsByPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestRemovePlayer_ConcurrentWithDeposits(t *testing.T) {
	ctx := context.Background()
	pool := economy.NewPool(8)
	st := store.NewTxMemory()
	engine := economy.NewEngine(st, economy.WithExecutor(pool))
	t.Cleanup(func() {
		pool.Close()
		engine.Close()
	})

	for _, id := range []string{"coins", "gems"} {
		res, err := engine.CreateCurrency(ctx, economy.Currency{Identifier: id}, "admin").Wait()
		require.NoError(t, err)
		require.True(t, res.OK)
	}
	// GIVEN: a player holding two currencies
	res, err := engine.RegisterPlayer(ctx, economy.Player{ID: "p1"}).Wait()
	require.NoError(t, err)
	require.True(t, res.OK)

	// WHEN: deposits race with the removal
	var futures []*economy.Future[economy.TransactionResult]
	for i := 0; i < 40; i++ {
		cur := "coins"
		if i%2 == 1 {
			cur = "gems"
		}
		futures = append(futures, engine.Deposit(ctx, economy.TransactionRequest{Player: "p1", Currency: cur, Amount: 1}))
		if i == 20 {
			removed, err := engine.RemovePlayer(ctx, "p1", "support").Wait()
			require.NoError(t, err)
			require.True(t, removed.OK)
		}
	}
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}

	// THEN: the removed player owns nothing
	accounts, err := st.ListAccountsByPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, accounts)
	found, err := st.FindPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, found)
}
