/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  Defines the boundary between the engine and the backing store. The
  engine consumes these interfaces; it never reimplements persistence.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  AccountStore:  (player, currency) -> balance records
  CurrencyStore: currency definitions
  PlayerStore:   player records, paged listing for bulk provisioning
  AuditLog:      append-only LogEntry storage
  Store:         all of the above
  TxStore:       Store plus atomic multi-table writes

CONVENTIONS:
  - Find* methods return (nil, nil) when the record does not exist.
    Absence is a normal state, not an error.
  - Write methods wrap the sentinels from errors.go (ErrDuplicateIdentifier,
    ErrCurrencyNotFound...) so the engine can classify failures.
  - AppendLog fails with ErrCurrencyNotFound when the entry references a
    currency that no longer exists.

APPEND-ONLY AUDIT LOG:
  AuditLog has no Update and no Delete. ScrubCurrencyLogs only nulls the
  currency reference so history survives currency deletion.

IMPLEMENTATIONS:
  - economy/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - audit.go: Writer that drives AuditLog
  - currency.go: Delete cascade using TxStore
*/
package economy

import "context"

// =============================================================================
// ACCOUNT STORE
// =============================================================================

type AccountStore interface {
	// FindAccount returns the account or nil if none exists.
	FindAccount(ctx context.Context, playerID PlayerID, currencyID CurrencyID) (*Account, error)

	// SaveAccount updates the balance of an existing account and returns the
	// stored copy. It never creates one: ErrAccountNotFound when the row is
	// gone, e.g. because the player or currency was deleted meanwhile.
	SaveAccount(ctx context.Context, account Account) (Account, error)

	// CreateAccounts inserts zero or more accounts, skipping pairs that exist.
	// Returns the number of accounts actually created.
	CreateAccounts(ctx context.Context, accounts []Account) (int, error)

	FindAccountsByCurrency(ctx context.Context, currencyID CurrencyID) ([]Account, error)
	ListAccountsByPlayer(ctx context.Context, playerID PlayerID) ([]Account, error)

	// DeleteAccountsByCurrency removes every account of a currency.
	DeleteAccountsByCurrency(ctx context.Context, currencyID CurrencyID) (int, error)
}

// =============================================================================
// CURRENCY STORE
// =============================================================================

type CurrencyStore interface {
	// FindCurrency looks a currency up by identifier (case-insensitive).
	FindCurrency(ctx context.Context, identifier string) (*Currency, error)
	ListCurrencies(ctx context.Context) ([]Currency, error)

	// CreateCurrency assigns the ID. Fails with ErrDuplicateIdentifier.
	CreateCurrency(ctx context.Context, currency Currency) (Currency, error)
	UpdateCurrency(ctx context.Context, currency Currency) error
	DeleteCurrency(ctx context.Context, id CurrencyID) error
}

// =============================================================================
// PLAYER STORE
// =============================================================================

type PlayerStore interface {
	// SavePlayer inserts or updates a player. Returns true if it was created.
	SavePlayer(ctx context.Context, player Player) (bool, error)
	FindPlayer(ctx context.Context, id PlayerID) (*Player, error)

	// ListPlayers pages through players in a stable order.
	ListPlayers(ctx context.Context, offset, limit int) ([]Player, error)

	// DeletePlayer removes the player and every account it owns.
	DeletePlayer(ctx context.Context, id PlayerID) error
}

// =============================================================================
// AUDIT LOG - Append-only
// =============================================================================

type AuditLog interface {
	// AppendLog persists an entry and returns it with its assigned ID.
	AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error)

	// QueryLogs returns matching entries, newest first.
	QueryLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error)

	// ScrubCurrencyLogs nulls the currency reference of every entry that
	// points at currencyID. Returns the number of entries touched.
	ScrubCurrencyLogs(ctx context.Context, currencyID CurrencyID) (int, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	AccountStore
	CurrencyStore
	PlayerStore
	AuditLog
}

// TxStore wraps Store with transaction support.
// Use this when several writes must land together (currency deletion cascade).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
