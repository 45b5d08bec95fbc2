/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model (float pointers, typed IDs, wrapped errors) from the
  external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Currency:     CurrencyDTO, CreateCurrencyRequest, EditCurrencyRequest
  Player:       PlayerDTO, RegisterPlayerRequest, AccountDTO, BalanceDTO
  Transactions: TransactionRequestDTO, TransactionResultDTO
  Management:   ManagementResultDTO
  Audit:        LogEntryDTO
  Demo:         ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - economy/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/currency-engine/economy"
)

// =============================================================================
// CURRENCIES
// =============================================================================

type CurrencyDTO struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Symbol     string `json:"symbol,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
	Suffix     string `json:"suffix,omitempty"`
	Icon       string `json:"icon,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

type CreateCurrencyRequest struct {
	Identifier string `json:"identifier"`
	Symbol     string `json:"symbol"`
	Prefix     string `json:"prefix"`
	Suffix     string `json:"suffix"`
	Icon       string `json:"icon"`
}

// EditCurrencyRequest only changes the fields that are present.
type EditCurrencyRequest struct {
	Identifier *string `json:"identifier"`
	Symbol     *string `json:"symbol"`
	Prefix     *string `json:"prefix"`
	Suffix     *string `json:"suffix"`
	Icon       *string `json:"icon"`
}

func (r EditCurrencyRequest) patch() economy.CurrencyPatch {
	return economy.CurrencyPatch{
		Identifier: r.Identifier,
		Symbol:     r.Symbol,
		Prefix:     r.Prefix,
		Suffix:     r.Suffix,
		Icon:       r.Icon,
	}
}

// =============================================================================
// PLAYERS AND ACCOUNTS
// =============================================================================

type PlayerDTO struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type RegisterPlayerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AccountDTO struct {
	Currency   string  `json:"currency"`
	CurrencyID int64   `json:"currency_id"`
	Balance    float64 `json:"balance"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

type BalanceDTO struct {
	Player   string  `json:"player"`
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionRequestDTO struct {
	Currency  string  `json:"currency"`
	Amount    float64 `json:"amount"`
	Reason    string  `json:"reason"`
	Initiator string  `json:"initiator"`
}

type TransactionResultDTO struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Operation string  `json:"operation"`
	Player    string  `json:"player"`
	Currency  string  `json:"currency"`
	Amount    float64 `json:"amount"`
	Balance   float64 `json:"balance"`
	Message   string  `json:"message"`
	Kind      string  `json:"kind,omitempty"`
	Retryable bool    `json:"retryable,omitempty"`
}

// =============================================================================
// MANAGEMENT
// =============================================================================

type ManagementResultDTO struct {
	OK       bool         `json:"ok"`
	Currency *CurrencyDTO `json:"currency,omitempty"`
	Player   *PlayerDTO   `json:"player,omitempty"`
	Accounts int          `json:"accounts"`
	Message  string       `json:"message"`
	Kind     string       `json:"kind,omitempty"`
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type LogEntryDTO struct {
	ID         int64             `json:"id"`
	Timestamp  string            `json:"timestamp"`
	Type       string            `json:"type"`
	Level      string            `json:"level"`
	Operation  string            `json:"operation,omitempty"`
	Player     *string           `json:"player,omitempty"`
	CurrencyID *int64            `json:"currency_id,omitempty"`
	OldBalance *float64          `json:"old_balance,omitempty"`
	NewBalance *float64          `json:"new_balance,omitempty"`
	Amount     *float64          `json:"amount,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Initiator  string            `json:"initiator,omitempty"`
	Details    string            `json:"details,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCurrencyDTO(c economy.Currency) CurrencyDTO {
	dto := CurrencyDTO{
		ID:         int64(c.ID),
		Identifier: c.Identifier,
		Symbol:     c.Symbol,
		Prefix:     c.Prefix,
		Suffix:     c.Suffix,
		Icon:       c.Icon,
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toTransactionResultDTO(r economy.TransactionResult) TransactionResultDTO {
	return TransactionResultDTO{
		ID:        r.ID,
		Status:    string(r.Status),
		Operation: string(r.Operation),
		Player:    string(r.Player),
		Currency:  r.Currency,
		Amount:    r.Amount,
		Balance:   r.Balance,
		Message:   r.Message,
		Kind:      string(r.Kind),
		Retryable: r.Retryable(),
	}
}

func toManagementResultDTO(r economy.ManagementResult) ManagementResultDTO {
	dto := ManagementResultDTO{
		OK:       r.OK,
		Accounts: r.Accounts,
		Message:  r.Message,
		Kind:     string(r.Kind),
	}
	if r.Currency != nil {
		c := toCurrencyDTO(*r.Currency)
		dto.Currency = &c
	}
	if r.Player != nil {
		dto.Player = &PlayerDTO{ID: string(r.Player.ID), Name: r.Player.Name}
	}
	return dto
}

func toLogEntryDTO(e economy.LogEntry) LogEntryDTO {
	dto := LogEntryDTO{
		ID:         e.ID,
		Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
		Type:       string(e.LogType),
		Level:      string(e.LogLevel),
		Operation:  string(e.OperationType),
		OldBalance: e.OldBalance,
		NewBalance: e.NewBalance,
		Amount:     e.Amount,
		Success:    e.Success,
		Error:      e.ErrorMessage,
		Initiator:  e.Initiator,
		Details:    e.Details,
		Metadata:   e.Metadata,
	}
	if e.PlayerID != nil {
		p := string(*e.PlayerID)
		dto.Player = &p
	}
	if e.CurrencyID != nil {
		id := int64(*e.CurrencyID)
		dto.CurrencyID = &id
	}
	return dto
}
