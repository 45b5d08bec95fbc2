/*
errors.go - Centralized error types for the economy engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations wrap these errors so the engine can classify
  failures with errors.Is.

ERROR CATEGORIES:
  1. Validation errors - bad amount, blank identifier
  2. Not found errors - missing account, currency or player
  3. Business errors - insufficient funds, observer cancellation
  4. Integrity errors - duplicate currency identifier
  5. Infrastructure errors - anything else (store down, closed executor)

RESULT KINDS:
  The engine never returns these to callers as errors. Instead every
  TransactionResult/ManagementResult carries an ErrorKind so callers can
  tell "retry later" from "give up" without string matching.

SEE ALSO:
  - types.go: TransactionResult, ManagementResult
  - store.go: Stores return these sentinels
*/
package economy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an amount is zero, negative, NaN or infinite.
	ErrInvalidAmount = errors.New("amount must be a positive finite number")

	// ErrInvalidIdentifier is returned for a blank currency identifier.
	ErrInvalidIdentifier = errors.New("currency identifier must not be blank")

	// ErrInvalidPlayer is returned for a blank player ID.
	ErrInvalidPlayer = errors.New("player id must not be blank")

	// ErrAccountNotFound is returned when no account exists for (player, currency).
	ErrAccountNotFound = errors.New("account not found")

	// ErrCurrencyNotFound is returned when a currency identifier or ID is unknown.
	ErrCurrencyNotFound = errors.New("currency not found")

	// ErrPlayerNotFound is returned when a player record is unknown.
	ErrPlayerNotFound = errors.New("player not found")

	// ErrInsufficientFunds is returned when a withdrawal exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrCancelled is returned when a pre-mutation observer vetoed the action.
	ErrCancelled = errors.New("cancelled by observer")

	// ErrDuplicateIdentifier is returned when a currency identifier is taken.
	ErrDuplicateIdentifier = errors.New("currency identifier already exists")

	// ErrExecutorClosed is returned when work is submitted to a closed Pool.
	ErrExecutorClosed = errors.New("executor closed")

	// ErrDispatcherClosed is returned when a hook is fired after Close.
	ErrDispatcherClosed = errors.New("hook dispatcher closed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	Player    PlayerID
	Currency  string
	Available float64
	Requested float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %.2f, requested %.2f",
		e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// CancelledError carries the reason supplied by the observer that vetoed.
type CancelledError struct {
	Observer string
	Reason   string
}

func (e *CancelledError) Error() string {
	return e.Reason
}

func (e *CancelledError) Unwrap() error {
	return ErrCancelled
}

// =============================================================================
// ERROR KINDS
// =============================================================================

type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindValidation        ErrorKind = "validation"
	KindNotFound          ErrorKind = "not_found"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindCancelled         ErrorKind = "cancelled"
	KindIntegrity         ErrorKind = "integrity"
	KindInfrastructure    ErrorKind = "infrastructure"
)

// KindOf classifies an error. Unknown errors are infrastructure errors.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidIdentifier),
		errors.Is(err, ErrInvalidPlayer):
		return KindValidation
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrCurrencyNotFound),
		errors.Is(err, ErrPlayerNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrDuplicateIdentifier):
		return KindIntegrity
	default:
		return KindInfrastructure
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindInfrastructure
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindInsufficientFunds, KindIntegrity, KindCancelled:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
