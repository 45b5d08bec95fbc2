/*
handlers.go - HTTP API handlers for the currency engine

PURPOSE:
  Exposes the economy engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every mutation to economy.Engine.

ENDPOINTS:
  Currencies:
    GET    /api/currencies                     List registered currencies
    POST   /api/currencies                     Create currency
    GET    /api/currencies/{identifier}        Get currency
    PATCH  /api/currencies/{identifier}        Edit currency
    DELETE /api/currencies/{identifier}        Delete currency and its accounts

  Players:
    POST   /api/players                        Register player (opens accounts)
    DELETE /api/players/{id}                   Remove player and accounts
    GET    /api/players/{id}/accounts          List accounts
    GET    /api/players/{id}/balances/{currency} Get one balance
    POST   /api/players/{id}/deposit           Deposit
    POST   /api/players/{id}/withdraw          Withdraw

  Audit:
    GET    /api/logs?player=&currency=&type=&limit=

  Demo (when Handler.Scenarios is set):
    GET    /api/scenarios                      List scenarios
    GET    /api/scenarios/current              Last loaded scenario
    POST   /api/scenarios/load                 Reset and load a scenario

  Ops:
    GET    /healthz
    GET    /metrics

ACTOR:
  Management endpoints record the X-Actor header as the initiator.
  Without it the actor is "api".

ERROR HANDLING:
  The engine reports failures inside its result values. Handlers map the
  result's ErrorKind onto an HTTP status and still return the result body:
  - 400: validation
  - 404: not_found
  - 409: integrity, cancelled
  - 422: insufficient_funds
  - 503: infrastructure (retryable)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Background jobs
  - scenarios.go: Demo data loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/warp/currency-engine/economy"
)

const (
	actorHeader  = "X-Actor"
	defaultActor = "api"

	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *economy.Engine

	// Health is optional; without it /healthz only reports the process is up.
	Health Pinger

	// Scenarios mounts the demo scenario routes. Never enable in production.
	Scenarios bool

	mu              sync.Mutex // serializes scenario loads
	currentScenario string

	logger *log.Entry
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *economy.Engine, health Pinger) *Handler {
	return &Handler{
		Engine: engine,
		Health: health,
		logger: log.WithField("component", "api"),
	}
}

// =============================================================================
// CURRENCY HANDLERS
// =============================================================================

func (h *Handler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies := h.Engine.Currencies()
	dtos := make([]CurrencyDTO, 0, len(currencies))
	for _, c := range currencies {
		dtos = append(dtos, toCurrencyDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCurrency(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.Engine.Currency(chi.URLParam(r, "identifier"))
	if !ok {
		writeError(w, http.StatusNotFound, "currency not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCurrencyDTO(cur))
}

func (h *Handler) CreateCurrency(w http.ResponseWriter, r *http.Request) {
	var req CreateCurrencyRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Engine.CreateCurrency(r.Context(), economy.Currency{
		Identifier: req.Identifier,
		Symbol:     req.Symbol,
		Prefix:     req.Prefix,
		Suffix:     req.Suffix,
		Icon:       req.Icon,
	}, actor(r)).Await(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request abandoned", err)
		return
	}
	writeManagement(w, http.StatusCreated, res)
}

func (h *Handler) EditCurrency(w http.ResponseWriter, r *http.Request) {
	var req EditCurrencyRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Engine.EditCurrency(r.Context(), chi.URLParam(r, "identifier"), req.patch(), actor(r)).Await(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request abandoned", err)
		return
	}
	writeManagement(w, http.StatusOK, res)
}

func (h *Handler) DeleteCurrency(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.DeleteCurrency(r.Context(), chi.URLParam(r, "identifier"), actor(r)).Await(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request abandoned", err)
		return
	}
	writeManagement(w, http.StatusOK, res)
}

// =============================================================================
// PLAYER HANDLERS
// =============================================================================

func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req RegisterPlayerRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Engine.RegisterPlayer(r.Context(), economy.Player{
		ID:   economy.PlayerID(strings.TrimSpace(req.ID)),
		Name: req.Name,
	}).Await(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request abandoned", err)
		return
	}
	writeManagement(w, http.StatusCreated, res)
}

func (h *Handler) RemovePlayer(w http.ResponseWriter, r *http.Request) {
	id := economy.PlayerID(chi.URLParam(r, "id"))
	res, err := h.Engine.RemovePlayer(r.Context(), id, actor(r)).Await(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request abandoned", err)
		return
	}
	writeManagement(w, http.StatusOK, res)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	id := economy.PlayerID(chi.URLParam(r, "id"))
	accounts, err := h.Engine.Accounts(r.Context(), id)
	if err != nil {
		h.logger.WithError(err).WithField("player", id).Error("list accounts failed")
		writeError(w, http.StatusServiceUnavailable, "failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, 0, len(accounts))
	for _, a := range accounts {
		dto := AccountDTO{CurrencyID: int64(a.CurrencyID), Balance: a.Balance}
		if cur, ok := h.Engine.Registry().ByID(a.CurrencyID); ok {
			dto.Currency = cur.Identifier
		}
		if !a.UpdatedAt.IsZero() {
			dto.UpdatedAt = a.UpdatedAt.Format(time.RFC3339)
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "id")
	currency := chi.URLParam(r, "currency")

	balance, err := h.Engine.GetBalance(r.Context(), economy.PlayerID(player), currency).Await(r.Context())
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"player": player, "currency": currency}).Error("balance lookup failed")
		writeError(w, http.StatusServiceUnavailable, "failed to read balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Player: player, Currency: currency, Balance: balance})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.transact(w, r, h.Engine.Deposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transact(w, r, h.Engine.Withdraw)
}

type transactFunc func(context.Context, economy.TransactionRequest) *economy.Future[economy.TransactionResult]

func (h *Handler) transact(w http.ResponseWriter, r *http.Request, op transactFunc) {
	var req TransactionRequestDTO
	if !decode(w, r, &req) {
		return
	}

	res, err := op(r.Context(), economy.TransactionRequest{
		Player:    economy.PlayerID(chi.URLParam(r, "id")),
		Currency:  req.Currency,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Initiator: req.Initiator,
	}).Await(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "request abandoned", err)
		return
	}
	writeJSON(w, statusFor(res.Kind, http.StatusOK), toTransactionResultDTO(res))
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := economy.LogFilter{Limit: defaultLogLimit}

	if p := q.Get("player"); p != "" {
		id := economy.PlayerID(p)
		filter.PlayerID = &id
	}
	if c := q.Get("currency"); c != "" {
		cur, ok := h.Engine.Currency(c)
		if !ok {
			writeError(w, http.StatusNotFound, "currency not found", nil)
			return
		}
		filter.CurrencyID = &cur.ID
	}
	if t := q.Get("type"); t != "" {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.LogTypes = append(filter.LogTypes, economy.LogType(part))
			}
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		filter.Limit = min(n, maxLogLimit)
	}

	entries, err := h.Engine.Logs(r.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("log query failed")
		writeError(w, http.StatusServiceUnavailable, "failed to query logs", err)
		return
	}

	dtos := make([]LogEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLogEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"currencies": h.Engine.Registry().Len(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(actorHeader)); a != "" {
		return a
	}
	return defaultActor
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// statusFor maps a result kind onto an HTTP status. ok is used on success.
func statusFor(kind economy.ErrorKind, ok int) int {
	switch kind {
	case economy.KindNone:
		return ok
	case economy.KindValidation:
		return http.StatusBadRequest
	case economy.KindNotFound:
		return http.StatusNotFound
	case economy.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case economy.KindCancelled, economy.KindIntegrity:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func writeManagement(w http.ResponseWriter, ok int, res economy.ManagementResult) {
	status := ok
	if !res.OK {
		status = statusFor(res.Kind, ok)
		if res.Kind == economy.KindNone {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, toManagementResultDTO(res))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Code = "abandoned"
		}
	}
	writeJSON(w, status, resp)
}
