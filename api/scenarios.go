/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the engine with realistic
	data for demos and manual testing. Each scenario seeds a currency
	catalog, registers players and runs transactions that show one
	behaviour of the engine.

AVAILABLE SCENARIOS:

	starter-economy:  Coins and gems, three players with opening balances
	shop-day:         Purchases against a premium balance, including refusals
	contested-wallet: One wallet drained by many concurrent withdrawals

HOW SCENARIOS WORK:
 1. Delete every registered currency (cascades to accounts)
 2. Seed the scenario catalog via factory
 3. Register players (opens their accounts)
 4. Run deposits and withdrawals through the engine

Everything goes through the engine, so observers and the audit log see
the scenario exactly as they would see real traffic. Players from an
earlier load are kept; only their accounts go away with the currencies.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "shop-day"}

NOTE:

	Loading deletes all currencies. Only enable in development/demo
	environments (ECONOMY_DEMO_SCENARIOS).

SEE ALSO:
  - factory/presets.go: Catalog JSON definitions
  - server.go: Routes are mounted only when Handler.Scenarios is set
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/warp/currency-engine/economy"
	"github.com/warp/currency-engine/factory"
	"golang.org/x/sync/errgroup"
)

const scenarioActor = "scenario"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "starter-economy",
		Name:        "Starter Economy",
		Description: "Coins and gems with three players holding opening balances",
	},
	{
		ID:          "shop-day",
		Name:        "Shop Day",
		Description: "Premium purchases, one refused for insufficient funds",
	},
	{
		ID:          "contested-wallet",
		Name:        "Contested Wallet",
		Description: "100 concurrent withdrawals of 1 coin against a 50 coin wallet",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the engine and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "starter-economy":
		load = h.loadStarterEconomyScenario
	case "shop-day":
		load = h.loadShopDayScenario
	case "contested-wallet":
		load = h.loadContestedWalletScenario
	default:
		writeError(w, http.StatusBadRequest, "unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	h.currentScenario = ""
	if err := h.resetCurrencies(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "failed to reset currencies", err)
		return
	}
	if err := load(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.logger.WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "loaded",
		"scenario":   req.ScenarioID,
		"currencies": len(h.Engine.Currencies()),
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStarterEconomyScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx, factory.StarterCatalogJSON()); err != nil {
		return err
	}
	if err := h.registerPlayers(ctx, "alice", "bob", "carol"); err != nil {
		return err
	}

	// carol starts empty
	steps := []scenarioStep{
		{economy.OpDeposit, "alice", "coins", 100, "welcome bonus"},
		{economy.OpDeposit, "alice", "gems", 5, "welcome bonus"},
		{economy.OpDeposit, "bob", "coins", 250, "welcome bonus"},
		{economy.OpWithdraw, "bob", "coins", 30, "potion"},
	}
	return h.runSteps(ctx, steps)
}

func (h *Handler) loadShopDayScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx, factory.ShopCatalogJSON()); err != nil {
		return err
	}
	if err := h.registerPlayers(ctx, "whale", "casual"); err != nil {
		return err
	}

	// The last two withdrawals are refused and show up as errors in the log
	steps := []scenarioStep{
		{economy.OpDeposit, "whale", "gems", 500, "gem pack"},
		{economy.OpWithdraw, "whale", "gems", 120, "legendary bundle"},
		{economy.OpDeposit, "whale", "tickets", 3, "event reward"},
		{economy.OpDeposit, "casual", "coins", 40, "daily login"},
		{economy.OpWithdraw, "casual", "coins", 15, "skin"},
		{economy.OpWithdraw, "whale", "gems", 1000, "mega bundle"},
		{economy.OpWithdraw, "casual", "tickets", 1, "raffle"},
	}
	return h.runSteps(ctx, steps)
}

func (h *Handler) loadContestedWalletScenario(ctx context.Context) error {
	if err := h.seedCatalog(ctx, factory.StarterCatalogJSON()); err != nil {
		return err
	}
	if err := h.registerPlayers(ctx, "racer"); err != nil {
		return err
	}
	if err := h.runSteps(ctx, []scenarioStep{{economy.OpDeposit, "racer", "coins", 50, "seed"}}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 100; i++ {
		step := scenarioStep{economy.OpWithdraw, "racer", "coins", 1, fmt.Sprintf("race %d", i)}
		g.Go(func() error { return h.runStep(gctx, step) })
	}
	return g.Wait()
}

// =============================================================================
// HELPERS
// =============================================================================

type scenarioStep struct {
	op       economy.OperationType
	player   economy.PlayerID
	currency string
	amount   float64
	reason   string
}

func (h *Handler) resetCurrencies(ctx context.Context) error {
	for _, c := range h.Engine.Currencies() {
		res, err := h.Engine.DeleteCurrency(ctx, c.Identifier, scenarioActor).Wait()
		if err != nil {
			return err
		}
		if !res.OK && res.Kind != economy.KindNotFound {
			return fmt.Errorf("delete %q: %s", c.Identifier, res.Message)
		}
	}
	return nil
}

func (h *Handler) seedCatalog(ctx context.Context, catalog string) error {
	currencies, err := factory.NewCurrencyFactory().ParseCatalog(catalog)
	if err != nil {
		return err
	}
	_, err = factory.Seed(ctx, h.Engine, currencies, scenarioActor)
	return err
}

func (h *Handler) registerPlayers(ctx context.Context, ids ...economy.PlayerID) error {
	for _, id := range ids {
		res, err := h.Engine.RegisterPlayer(ctx, economy.Player{ID: id, Name: string(id)}).Wait()
		if err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("register %q: %s", id, res.Message)
		}
	}
	return nil
}

func (h *Handler) runSteps(ctx context.Context, steps []scenarioStep) error {
	for _, s := range steps {
		if err := h.runStep(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// runStep applies one transaction. Refusals for insufficient funds are part
// of the demo; anything else aborts the load.
func (h *Handler) runStep(ctx context.Context, s scenarioStep) error {
	op := h.Engine.Deposit
	if s.op == economy.OpWithdraw {
		op = h.Engine.Withdraw
	}
	res, err := op(ctx, economy.TransactionRequest{
		Player:    s.player,
		Currency:  s.currency,
		Amount:    s.amount,
		Reason:    s.reason,
		Initiator: scenarioActor,
	}).Wait()
	if err != nil {
		return err
	}
	if !res.Succeeded() && res.Kind != economy.KindInsufficientFunds {
		return fmt.Errorf("%s %v %s for %q: %s", s.op, s.amount, s.currency, s.player, res.Message)
	}
	log.WithFields(log.Fields{
		"player":   s.player,
		"currency": s.currency,
		"status":   res.Status,
	}).Debug("scenario step")
	return nil
}
