/*
Package economy provides the multi-currency balance engine for the game server.

PURPOSE:
  This package owns every balance mutation in the system. Game logic, admin
  tooling and the HTTP API all go through the Engine to deposit, withdraw
  or query balances, and to create or delete currencies. Every attempted
  operation leaves exactly one audit record behind, whatever its outcome.

KEY CONCEPTS IN THIS FILE (types.go):
  - Currency: A named in-game currency (coins, gems, tokens...)
  - Player: A game player that can own accounts
  - Account: The balance of one player in one currency
  - LogEntry: An immutable audit record of one attempted operation
  - TransactionResult: What callers get back from Deposit/Withdraw

DESIGN PRINCIPLES:
  1. Single mutator: only the Engine writes Account.Balance
  2. Reported, not thrown: business failures live in the result value
  3. Log everything: success, failure and cancellation are all audited
  4. Owned state: the currency cache is an injected Registry, not a global

USAGE:
  engine := economy.NewEngine(store)
  res, _ := engine.Deposit(ctx, economy.TransactionRequest{
      Player:   "player-1",
      Currency: "coins",
      Amount:   100,
  }).Wait()

SEE ALSO:
  - engine.go: Engine construction and options
  - transact.go: Deposit/Withdraw algorithm
  - store.go: Persistence collaborator interfaces
*/
package economy

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PlayerID string
type CurrencyID int64

// =============================================================================
// CURRENCY - A named in-game currency
// =============================================================================

// Currency is identified by a numeric ID assigned on persist and a unique,
// mutable Identifier. Symbol, Prefix, Suffix and Icon are display hints only.
type Currency struct {
	ID         CurrencyID
	Identifier string
	Symbol     string
	Prefix     string
	Suffix     string
	Icon       string
	CreatedAt  time.Time
}

// CurrencyPatch carries the mutable fields of a currency edit.
// Nil fields are left untouched.
type CurrencyPatch struct {
	Identifier *string
	Symbol     *string
	Prefix     *string
	Suffix     *string
	Icon       *string
}

func (p CurrencyPatch) apply(c Currency) Currency {
	if p.Identifier != nil {
		c.Identifier = normalizeIdentifier(*p.Identifier)
	}
	if p.Symbol != nil {
		c.Symbol = *p.Symbol
	}
	if p.Prefix != nil {
		c.Prefix = *p.Prefix
	}
	if p.Suffix != nil {
		c.Suffix = *p.Suffix
	}
	if p.Icon != nil {
		c.Icon = *p.Icon
	}
	return c
}

// =============================================================================
// PLAYER / ACCOUNT
// =============================================================================

type Player struct {
	ID        PlayerID
	Name      string
	CreatedAt time.Time
}

// Account is the balance of one player in one currency.
// At most one Account exists per (PlayerID, CurrencyID) pair.
type Account struct {
	ID         int64
	PlayerID   PlayerID
	CurrencyID CurrencyID
	Balance    float64
	UpdatedAt  time.Time
}

// =============================================================================
// AUDIT LOG ENTRY
// =============================================================================

type LogType string

const (
	LogTransaction LogType = "transaction"
	LogManagement  LogType = "management"
	LogSystem      LogType = "system"
	LogError       LogType = "error"
	LogAudit       LogType = "audit"
	LogDebug       LogType = "debug"
)

type LogLevel string

const (
	LevelInfo     LogLevel = "info"
	LevelWarning  LogLevel = "warning"
	LevelError    LogLevel = "error"
	LevelDebug    LogLevel = "debug"
	LevelCritical LogLevel = "critical"
)

type OperationType string

const (
	OpDeposit  OperationType = "deposit"
	OpWithdraw OperationType = "withdraw"
)

// LogEntry is an immutable audit record of one attempted operation.
//
// INVARIANTS:
//   - ErrorMessage is set iff Success is false.
//   - Written once, never updated. The only exception is CurrencyID, which
//     is nulled when the referenced currency is deleted.
//   - OperationType is empty for non-transactional entries.
type LogEntry struct {
	ID            int64
	Timestamp     time.Time
	LogType       LogType
	LogLevel      LogLevel
	OperationType OperationType
	PlayerID      *PlayerID
	CurrencyID    *CurrencyID
	OldBalance    *float64
	NewBalance    *float64
	Amount        *float64
	Success       bool
	ErrorMessage  string
	Initiator     string
	Details       string
	Metadata      map[string]string
}

// LogFilter selects audit entries. Zero fields match everything.
type LogFilter struct {
	PlayerID   *PlayerID
	CurrencyID *CurrencyID
	LogTypes   []LogType
	Since      *time.Time
	Limit      int
}

// =============================================================================
// RESULTS
// =============================================================================

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// TransactionRequest describes one deposit or withdrawal.
type TransactionRequest struct {
	Player    PlayerID
	Currency  string // currency identifier
	Amount    float64
	Reason    string
	Initiator string // who triggered it, when distinct from the owner
}

// TransactionResult is what Deposit and Withdraw resolve to. Failures are
// reported here, never returned as an error.
type TransactionResult struct {
	ID        string
	Status    Status
	Operation OperationType
	Player    PlayerID
	Currency  string
	Amount    float64 // amount applied (0 on failure)
	Balance   float64 // resulting balance; unchanged balance on failure
	Message   string
	Kind      ErrorKind
	Err       error
}

func (r TransactionResult) Succeeded() bool { return r.Status == StatusSuccess }

// Retryable reports whether the failure came from infrastructure rather
// than from a business rule.
func (r TransactionResult) Retryable() bool { return r.Kind == KindInfrastructure }

// ManagementResult is what currency and player administration resolves to.
// OK mirrors the boolean contract of create/delete.
type ManagementResult struct {
	OK       bool
	Currency *Currency
	Player   *Player
	Accounts int // accounts created or removed by the action
	Message  string
	Kind     ErrorKind
	Err      error
}

func ptr[T any](v T) *T { return &v }
