package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/currency-engine/economy"
	"github.com/warp/currency-engine/economy/store"
)

func newScenarioServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewTxMemory()
	engine := economy.NewEngine(st, economy.WithExecutor(economy.SyncExecutor{}))
	t.Cleanup(engine.Close)

	h := NewHandler(engine, nil)
	h.Scenarios = true
	return &testServer{t: t, engine: engine, store: st, router: NewRouter(h, []string{"*"}, nil)}
}

func (s *testServer) balanceOf(player, currency string) float64 {
	s.t.Helper()
	bal, err := s.engine.GetBalance(context.Background(), economy.PlayerID(player), currency).Wait()
	require.NoError(s.t, err)
	return bal
}

func TestScenarios_DisabledByDefault(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/api/scenarios", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenarios_ListAndCurrent(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", trimNewline(rec))

	rec = s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "starter-economy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "starter-economy", decodeBody[ScenarioDTO](t, rec).ID)
}

func TestScenarios_StarterEconomy(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "starter-economy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 100.0, s.balanceOf("alice", "coins"))
	assert.Equal(t, 5.0, s.balanceOf("alice", "gems"))
	assert.Equal(t, 220.0, s.balanceOf("bob", "coins"))
	assert.Zero(t, s.balanceOf("carol", "gems"))
}

func TestScenarios_ShopDayLogsRefusals(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "shop-day"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 380.0, s.balanceOf("whale", "gems"))
	assert.Equal(t, 25.0, s.balanceOf("casual", "coins"))

	require.NoError(t, s.engine.Settle(context.Background()))
	rec = s.do(http.MethodGet, "/api/logs?type=transaction", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	refused := 0
	for _, e := range decodeBody[[]LogEntryDTO](t, rec) {
		if !e.Success {
			refused++
		}
	}
	assert.Equal(t, 2, refused)
}

func TestScenarios_ContestedWallet(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "contested-wallet"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Zero(t, s.balanceOf("racer", "coins"))
}

func TestScenarios_ReloadReplacesCurrencies(t *testing.T) {
	s := newScenarioServer(t)

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "shop-day"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, s.engine.HasCurrency("tickets"))

	rec = s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "starter-economy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, s.engine.HasCurrency("tickets"))
	assert.Len(t, s.engine.Currencies(), 2)

	// Balances from the previous load went away with the deleted currencies
	assert.Zero(t, s.balanceOf("whale", "gems"))
}

func TestScenarios_Unknown(t *testing.T) {
	s := newScenarioServer(t)
	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func trimNewline(rec *httptest.ResponseRecorder) string {
	b := rec.Body.String()
	for len(b) > 0 && b[len(b)-1] == '\n' {
		b = b[:len(b)-1]
	}
	return b
}
