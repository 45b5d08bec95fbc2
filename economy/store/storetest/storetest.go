// Package storetest holds the behaviour every economy.TxStore must share.
// Each store package runs it from its own tests:
//
//	storetest.Run(t, func(t *testing.T) economy.TxStore { return store.NewTxMemory() })
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/currency-engine/economy"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) economy.TxStore

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s economy.TxStore)
	}{
		{"Currencies", testCurrencies},
		{"Accounts", testAccounts},
		{"CreateAccounts", testCreateAccounts},
		{"Players", testPlayers},
		{"AuditLog", testAuditLog},
		{"WithTxRollback", testWithTxRollback},
		{"WithTxCommit", testWithTxCommit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func mustCurrency(t *testing.T, s economy.Store, identifier string) economy.Currency {
	t.Helper()
	c, err := s.CreateCurrency(context.Background(), economy.Currency{
		Identifier: identifier,
		Symbol:     "$",
		CreatedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return c
}

func mustPlayer(t *testing.T, s economy.Store, id economy.PlayerID) {
	t.Helper()
	_, err := s.SavePlayer(context.Background(), economy.Player{ID: id, Name: string(id)})
	require.NoError(t, err)
}

// mustAccount opens the account and sets its balance.
func mustAccount(t *testing.T, s economy.Store, player economy.PlayerID, currency economy.CurrencyID, balance float64) economy.Account {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateAccounts(ctx, []economy.Account{{PlayerID: player, CurrencyID: currency}})
	require.NoError(t, err)
	acct, err := s.FindAccount(ctx, player, currency)
	require.NoError(t, err)
	require.NotNil(t, acct)
	acct.Balance = balance
	saved, err := s.SaveAccount(ctx, *acct)
	require.NoError(t, err)
	return saved
}

func testCurrencies(t *testing.T, s economy.TxStore) {
	ctx := context.Background()

	coins := mustCurrency(t, s, "coins")
	assert.NotZero(t, coins.ID)

	found, err := s.FindCurrency(ctx, "COINS")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, coins.ID, found.ID)
	assert.Equal(t, "$", found.Symbol)

	missing, err := s.FindCurrency(ctx, "gems")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.CreateCurrency(ctx, economy.Currency{Identifier: "coins"})
	assert.ErrorIs(t, err, economy.ErrDuplicateIdentifier)

	gems := mustCurrency(t, s, "gems")
	gems.Identifier = "coins"
	assert.ErrorIs(t, s.UpdateCurrency(ctx, gems), economy.ErrDuplicateIdentifier)

	gems.Identifier = "crystals"
	gems.Icon = "crystal.png"
	require.NoError(t, s.UpdateCurrency(ctx, gems))
	renamed, err := s.FindCurrency(ctx, "crystals")
	require.NoError(t, err)
	require.NotNil(t, renamed)
	assert.Equal(t, "crystal.png", renamed.Icon)

	assert.ErrorIs(t, s.UpdateCurrency(ctx, economy.Currency{ID: 9999, Identifier: "x"}), economy.ErrCurrencyNotFound)

	all, err := s.ListCurrencies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteCurrency(ctx, coins.ID))
	assert.ErrorIs(t, s.DeleteCurrency(ctx, coins.ID), economy.ErrCurrencyNotFound)
}

func testAccounts(t *testing.T, s economy.TxStore) {
	ctx := context.Background()
	coins := mustCurrency(t, s, "coins")
	mustPlayer(t, s, "p1")

	acct, err := s.FindAccount(ctx, "p1", coins.ID)
	require.NoError(t, err)
	assert.Nil(t, acct)

	// Saving never opens an account
	_, err = s.SaveAccount(ctx, economy.Account{PlayerID: "p1", CurrencyID: coins.ID, Balance: 12.25})
	assert.ErrorIs(t, err, economy.ErrAccountNotFound)
	acct, err = s.FindAccount(ctx, "p1", coins.ID)
	require.NoError(t, err)
	assert.Nil(t, acct)

	saved := mustAccount(t, s, "p1", coins.ID, 12.25)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, 12.25, saved.Balance)

	saved.Balance = 0.1 + 0.2
	_, err = s.SaveAccount(ctx, saved)
	require.NoError(t, err)

	acct, err = s.FindAccount(ctx, "p1", coins.ID)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.InDelta(t, 0.3, acct.Balance, 1e-9)
	assert.Equal(t, saved.ID, acct.ID)

	_, err = s.SaveAccount(ctx, economy.Account{PlayerID: "p1", CurrencyID: 9999})
	assert.ErrorIs(t, err, economy.ErrAccountNotFound)

	byPlayer, err := s.ListAccountsByPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, byPlayer, 1)

	n, err := s.DeleteAccountsByCurrency(ctx, coins.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	byCurrency, err := s.FindAccountsByCurrency(ctx, coins.ID)
	require.NoError(t, err)
	assert.Empty(t, byCurrency)

	// A stale save after the delete does not bring the row back
	_, err = s.SaveAccount(ctx, saved)
	assert.ErrorIs(t, err, economy.ErrAccountNotFound)
	acct, err = s.FindAccount(ctx, "p1", coins.ID)
	require.NoError(t, err)
	assert.Nil(t, acct)
}

func testCreateAccounts(t *testing.T, s economy.TxStore) {
	ctx := context.Background()
	coins := mustCurrency(t, s, "coins")
	for _, p := range []economy.PlayerID{"a", "b", "c"} {
		mustPlayer(t, s, p)
	}
	mustAccount(t, s, "a", coins.ID, 5)

	n, err := s.CreateAccounts(ctx, []economy.Account{
		{PlayerID: "a", CurrencyID: coins.ID},
		{PlayerID: "b", CurrencyID: coins.ID},
		{PlayerID: "c", CurrencyID: coins.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, err := s.FindAccount(ctx, "a", coins.ID)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 5.0, a.Balance, "existing accounts keep their balance")

	n, err = s.CreateAccounts(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.CreateAccounts(ctx, []economy.Account{{PlayerID: "a", CurrencyID: 9999}})
	assert.ErrorIs(t, err, economy.ErrCurrencyNotFound)

	// Deleting the currency takes its accounts with it
	require.NoError(t, s.DeleteCurrency(ctx, coins.ID))
	left, err := s.ListAccountsByPlayer(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func testPlayers(t *testing.T, s economy.TxStore) {
	ctx := context.Background()
	coins := mustCurrency(t, s, "coins")

	created, err := s.SavePlayer(ctx, economy.Player{ID: "p2", Name: "two"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.SavePlayer(ctx, economy.Player{ID: "p2", Name: "deux"})
	require.NoError(t, err)
	assert.False(t, created)

	p, err := s.FindPlayer(ctx, "p2")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "deux", p.Name)

	p, err = s.FindPlayer(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)

	mustPlayer(t, s, "p3")
	mustPlayer(t, s, "p1")

	page, err := s.ListPlayers(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, economy.PlayerID("p1"), page[0].ID)
	assert.Equal(t, economy.PlayerID("p2"), page[1].ID)

	page, err = s.ListPlayers(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, economy.PlayerID("p3"), page[0].ID)

	page, err = s.ListPlayers(ctx, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, page)

	mustAccount(t, s, "p2", coins.ID, 1)
	require.NoError(t, s.DeletePlayer(ctx, "p2"))
	acct, err := s.FindAccount(ctx, "p2", coins.ID)
	require.NoError(t, err)
	assert.Nil(t, acct)

	assert.ErrorIs(t, s.DeletePlayer(ctx, "p2"), economy.ErrPlayerNotFound)
}

func testAuditLog(t *testing.T, s economy.TxStore) {
	ctx := context.Background()
	coins := mustCurrency(t, s, "coins")
	gems := mustCurrency(t, s, "gems")
	p1 := economy.PlayerID("p1")
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	old, next, amount := 10.0, 15.0, 5.0
	first, err := s.AppendLog(ctx, economy.LogEntry{
		Timestamp:     base,
		LogType:       economy.LogTransaction,
		LogLevel:      economy.LevelInfo,
		OperationType: economy.OpDeposit,
		PlayerID:      &p1,
		CurrencyID:    &coins.ID,
		OldBalance:    &old,
		NewBalance:    &next,
		Amount:        &amount,
		Success:       true,
		Metadata:      map[string]string{"transaction_id": "tx-1"},
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	_, err = s.AppendLog(ctx, economy.LogEntry{
		Timestamp:    base.Add(time.Second),
		LogType:      economy.LogManagement,
		LogLevel:     economy.LevelWarning,
		CurrencyID:   &gems.ID,
		Success:      false,
		ErrorMessage: "cancelled",
		Initiator:    "admin",
		Details:      "delete_currency",
	})
	require.NoError(t, err)

	missing := economy.CurrencyID(9999)
	_, err = s.AppendLog(ctx, economy.LogEntry{Timestamp: base, LogType: economy.LogSystem, CurrencyID: &missing})
	assert.ErrorIs(t, err, economy.ErrCurrencyNotFound)

	all, err := s.QueryLogs(ctx, economy.LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, economy.LogManagement, all[0].LogType, "newest first")
	assert.Equal(t, "cancelled", all[0].ErrorMessage)

	tx := all[1]
	require.NotNil(t, tx.PlayerID)
	assert.Equal(t, p1, *tx.PlayerID)
	require.NotNil(t, tx.OldBalance)
	assert.Equal(t, 10.0, *tx.OldBalance)
	assert.Equal(t, "tx-1", tx.Metadata["transaction_id"])
	assert.True(t, tx.Timestamp.Equal(base))

	byPlayer, err := s.QueryLogs(ctx, economy.LogFilter{PlayerID: &p1})
	require.NoError(t, err)
	assert.Len(t, byPlayer, 1)

	byType, err := s.QueryLogs(ctx, economy.LogFilter{LogTypes: []economy.LogType{economy.LogManagement, economy.LogError}})
	require.NoError(t, err)
	assert.Len(t, byType, 1)

	since := base.Add(500 * time.Millisecond)
	recent, err := s.QueryLogs(ctx, economy.LogFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	limited, err := s.QueryLogs(ctx, economy.LogFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := s.ScrubCurrencyLogs(ctx, coins.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	byCurrency, err := s.QueryLogs(ctx, economy.LogFilter{CurrencyID: &coins.ID})
	require.NoError(t, err)
	assert.Empty(t, byCurrency)

	all, err = s.QueryLogs(ctx, economy.LogFilter{PlayerID: &p1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Nil(t, all[0].CurrencyID)
	assert.True(t, all[0].Success, "outcome fields survive the scrub")
}

func testWithTxRollback(t *testing.T, s economy.TxStore) {
	ctx := context.Background()
	coins := mustCurrency(t, s, "coins")
	mustPlayer(t, s, "p1")
	mustAccount(t, s, "p1", coins.ID, 3)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx economy.Store) error {
		if _, err := tx.DeleteAccountsByCurrency(ctx, coins.ID); err != nil {
			return err
		}
		if err := tx.DeleteCurrency(ctx, coins.ID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	found, err := s.FindCurrency(ctx, "coins")
	require.NoError(t, err)
	assert.NotNil(t, found)
	acct, err := s.FindAccount(ctx, "p1", coins.ID)
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, 3.0, acct.Balance)
}

func testWithTxCommit(t *testing.T, s economy.TxStore) {
	ctx := context.Background()
	coins := mustCurrency(t, s, "coins")
	mustPlayer(t, s, "p1")
	mustAccount(t, s, "p1", coins.ID, 3)

	err := s.WithTx(ctx, func(tx economy.Store) error {
		n, err := tx.DeleteAccountsByCurrency(ctx, coins.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		if _, err := tx.ScrubCurrencyLogs(ctx, coins.ID); err != nil {
			return err
		}
		return tx.DeleteCurrency(ctx, coins.ID)
	})
	require.NoError(t, err)

	found, err := s.FindCurrency(ctx, "coins")
	require.NoError(t, err)
	assert.Nil(t, found)
}
