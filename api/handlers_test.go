/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Currency lifecycle over HTTP (create, duplicate, edit, delete)
- Deposit/withdraw status mapping
- Audit log query filters
- Health check
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/currency-engine/economy"
	"github.com/warp/currency-engine/economy/store"
)

type testServer struct {
	t      *testing.T
	engine *economy.Engine
	store  *store.TxMemory
	router http.Handler
}

func newTestServer(t *testing.T, health Pinger) *testServer {
	t.Helper()
	st := store.NewTxMemory()
	engine := economy.NewEngine(st, economy.WithExecutor(economy.SyncExecutor{}))
	t.Cleanup(engine.Close)

	return &testServer{
		t:      t,
		engine: engine,
		store:  st,
		router: NewRouter(NewHandler(engine, health), []string{"*"}, nil),
	}
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates the coins currency and a player holding the given balance.
func (s *testServer) seed(player string, balance float64) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/currencies", CreateCurrencyRequest{Identifier: "coins", Symbol: "C"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/players", RegisterPlayerRequest{ID: player, Name: player})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	if balance > 0 {
		rec = s.do(http.MethodPost, "/api/players/"+player+"/deposit", TransactionRequestDTO{Currency: "coins", Amount: balance})
		require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

// =============================================================================
// CURRENCIES
// =============================================================================

func TestCreateCurrency_ThenDuplicate(t *testing.T) {
	s := newTestServer(t, nil)

	// GIVEN: a fresh server
	// WHEN: a currency is created
	rec := s.do(http.MethodPost, "/api/currencies", CreateCurrencyRequest{Identifier: "Gems", Symbol: "G"}, actorHeader, "ops")

	// THEN: it is stored with a normalized identifier
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decodeBody[ManagementResultDTO](t, rec)
	assert.True(t, res.OK)
	require.NotNil(t, res.Currency)
	assert.Equal(t, "gems", res.Currency.Identifier)
	assert.NotZero(t, res.Currency.ID)

	// AND: creating it again conflicts
	rec = s.do(http.MethodPost, "/api/currencies", CreateCurrencyRequest{Identifier: "GEMS"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	dup := decodeBody[ManagementResultDTO](t, rec)
	assert.False(t, dup.OK)
	assert.Equal(t, string(economy.KindIntegrity), dup.Kind)

	// AND: the list shows one currency
	list := decodeBody[[]CurrencyDTO](t, s.do(http.MethodGet, "/api/currencies", nil))
	assert.Len(t, list, 1)
}

func TestCreateCurrency_BlankIdentifier(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/currencies", CreateCurrencyRequest{Identifier: "   "})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(economy.KindValidation), decodeBody[ManagementResultDTO](t, rec).Kind)
}

func TestEditCurrency_Rename(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed("p1", 0)

	name := "gold"
	rec := s.do(http.MethodPatch, "/api/currencies/coins", EditCurrencyRequest{Identifier: &name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/currencies/coins", nil).Code)
	got := decodeBody[CurrencyDTO](t, s.do(http.MethodGet, "/api/currencies/gold", nil))
	assert.Equal(t, "gold", got.Identifier)
	assert.Equal(t, "C", got.Symbol)
}

func TestDeleteCurrency_RemovesAccounts(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed("p1", 25)

	// WHEN: the currency is deleted
	rec := s.do(http.MethodDelete, "/api/currencies/coins", nil, actorHeader, "admin")

	// THEN: the delete reports the accounts it removed
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[ManagementResultDTO](t, rec)
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.Accounts)

	// AND: the player no longer has accounts or a balance
	accounts := decodeBody[[]AccountDTO](t, s.do(http.MethodGet, "/api/players/p1/accounts", nil))
	assert.Empty(t, accounts)
	bal := decodeBody[BalanceDTO](t, s.do(http.MethodGet, "/api/players/p1/balances/coins", nil))
	assert.Equal(t, 0.0, bal.Balance)

	// AND: a second delete is a not-found
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/currencies/coins", nil).Code)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithdraw_StatusMapping(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed("p1", 50)

	tests := []struct {
		name   string
		path   string
		body   TransactionRequestDTO
		status int
		kind   economy.ErrorKind
	}{
		{"withdraw within balance", "/api/players/p1/withdraw", TransactionRequestDTO{Currency: "coins", Amount: 10}, http.StatusOK, economy.KindNone},
		{"withdraw too much", "/api/players/p1/withdraw", TransactionRequestDTO{Currency: "coins", Amount: 100}, http.StatusUnprocessableEntity, economy.KindInsufficientFunds},
		{"negative amount", "/api/players/p1/deposit", TransactionRequestDTO{Currency: "coins", Amount: -5}, http.StatusBadRequest, economy.KindValidation},
		{"unknown currency", "/api/players/p1/deposit", TransactionRequestDTO{Currency: "tokens", Amount: 5}, http.StatusNotFound, economy.KindNotFound},
		{"unknown player", "/api/players/ghost/deposit", TransactionRequestDTO{Currency: "coins", Amount: 5}, http.StatusNotFound, economy.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.kind), decodeBody[TransactionResultDTO](t, rec).Kind)
		})
	}

	// Only the first withdrawal changed the balance
	bal := decodeBody[BalanceDTO](t, s.do(http.MethodGet, "/api/players/p1/balances/coins", nil))
	assert.Equal(t, 40.0, bal.Balance)
}

func TestDeposit_StoreFailureIsRetryable(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed("p1", 0)
	s.store.Fail("SaveAccount", errors.New("disk unavailable"))

	rec := s.do(http.MethodPost, "/api/players/p1/deposit", TransactionRequestDTO{Currency: "coins", Amount: 5})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	res := decodeBody[TransactionResultDTO](t, rec)
	assert.Equal(t, "failure", res.Status)
	assert.True(t, res.Retryable)
}

func TestTransact_InvalidBody(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/players/p1/deposit", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PLAYERS
// =============================================================================

func TestRemovePlayer(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed("p1", 10)

	rec := s.do(http.MethodDelete, "/api/players/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeBody[ManagementResultDTO](t, rec).Accounts)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/players/p1", nil).Code)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestListLogs_Filters(t *testing.T) {
	s := newTestServer(t, nil)
	s.seed("p1", 50)
	s.do(http.MethodPost, "/api/players/p1/withdraw", TransactionRequestDTO{Currency: "coins", Amount: 80})
	require.NoError(t, s.engine.Settle(context.Background()))

	// Transactions for p1: one deposit, one failed withdrawal, newest first
	logs := decodeBody[[]LogEntryDTO](t, s.do(http.MethodGet, "/api/logs?player=p1&type=transaction", nil))
	require.Len(t, logs, 2)
	assert.Equal(t, "withdraw", logs[0].Operation)
	assert.False(t, logs[0].Success)
	assert.NotEmpty(t, logs[0].Error)
	assert.Equal(t, "deposit", logs[1].Operation)
	assert.True(t, logs[1].Success)

	// Management entries carry the actor
	mgmt := decodeBody[[]LogEntryDTO](t, s.do(http.MethodGet, "/api/logs?type=management&limit=1", nil))
	require.Len(t, mgmt, 1)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/logs?limit=zero", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/logs?currency=nope", nil).Code)
}

// =============================================================================
// HEALTH
// =============================================================================

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthz(t *testing.T) {
	healthy := newTestServer(t, pingFunc(func(context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, healthy.do(http.MethodGet, "/healthz", nil).Code)

	down := newTestServer(t, pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	rec := down.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store unreachable", decodeBody[ErrorResponse](t, rec).Error)
}
