/*
Package sqlite provides a SQLite-backed implementation of economy.Store.

PURPOSE:
  Implements every persistence interface the engine consumes (accounts,
  currencies, players, audit log) plus TxStore for the currency deletion
  cascade. In production the same patterns apply to PostgreSQL - see
  store/postgres.

KEY TABLES:
  currencies: Currency definitions, identifier unique (case-insensitive)
  players:    Player records, paged by id for bulk provisioning
  accounts:   One row per (player, currency), balance as decimal text
  audit_log:  Append-only LogEntry rows

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on audit_log except nulling currency_id
  - No DELETE statements on audit_log
  - currency_id references currencies ON DELETE SET NULL, so history
    survives a currency even if the explicit scrub was skipped

BALANCES:
  Stored as decimal strings (shopspring/decimal) rather than REAL so
  values round-trip exactly.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction and hands fn a view bound to the *sql.Tx.

USAGE:
  store, err := sqlite.New("./data/economy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := economy.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - economy/store.go: Interface definitions
  - economy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/currency-engine/economy"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements economy.TxStore using SQLite.
type Store struct {
	db *sql.DB
	q  querier
	mu *sync.RWMutex // nil inside a transaction view
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dbPath, ":memory:") {
		// Every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, q: db, mu: &sync.RWMutex{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) rlock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS currencies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identifier TEXT NOT NULL UNIQUE COLLATE NOCASE,
		symbol TEXT NOT NULL DEFAULT '',
		prefix TEXT NOT NULL DEFAULT '',
		suffix TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id TEXT NOT NULL,
		currency_id INTEGER NOT NULL REFERENCES currencies(id) ON DELETE CASCADE,
		balance TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		UNIQUE(player_id, currency_id)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_currency
		ON accounts(currency_id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		log_type TEXT NOT NULL,
		log_level TEXT NOT NULL,
		operation_type TEXT,
		player_id TEXT,
		currency_id INTEGER REFERENCES currencies(id) ON DELETE SET NULL,
		old_balance REAL,
		new_balance REAL,
		amount REAL,
		success INTEGER NOT NULL,
		error_message TEXT,
		initiator TEXT,
		details TEXT,
		metadata_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_player
		ON audit_log(player_id) WHERE player_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_audit_log_currency
		ON audit_log(currency_id) WHERE currency_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp
		ON audit_log(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

const accountColumns = "id, player_id, currency_id, balance, updated_at"

func (s *Store) FindAccount(ctx context.Context, playerID economy.PlayerID, currencyID economy.CurrencyID) (*economy.Account, error) {
	defer s.rlock()()

	row := s.q.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE player_id = ? AND currency_id = ?",
		playerID, currencyID,
	)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &a, nil
}

func (s *Store) SaveAccount(ctx context.Context, account economy.Account) (economy.Account, error) {
	defer s.lock()()

	query := `
		UPDATE accounts SET balance = ?, updated_at = ?
		WHERE player_id = ? AND currency_id = ?
	`
	res, err := s.q.ExecContext(ctx, query,
		decimal.NewFromFloat(account.Balance).String(),
		formatTime(account.UpdatedAt),
		account.PlayerID,
		account.CurrencyID,
	)
	if err != nil {
		return economy.Account{}, fmt.Errorf("failed to save account: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return economy.Account{}, fmt.Errorf("failed to save account: %w", err)
	} else if n == 0 {
		return economy.Account{}, economy.ErrAccountNotFound
	}

	err = s.q.QueryRowContext(ctx,
		"SELECT id FROM accounts WHERE player_id = ? AND currency_id = ?",
		account.PlayerID, account.CurrencyID,
	).Scan(&account.ID)
	if err != nil {
		return economy.Account{}, fmt.Errorf("failed to read account id: %w", err)
	}
	return account, nil
}

// CreateAccounts inserts the batch atomically, skipping existing pairs.
func (s *Store) CreateAccounts(ctx context.Context, accounts []economy.Account) (int, error) {
	if len(accounts) == 0 {
		return 0, nil
	}
	defer s.lock()()

	created := 0
	err := s.atomically(ctx, func(q querier) error {
		for _, a := range accounts {
			res, err := q.ExecContext(ctx,
				"INSERT OR IGNORE INTO accounts (player_id, currency_id, balance, updated_at) VALUES (?, ?, ?, ?)",
				a.PlayerID, a.CurrencyID, decimal.NewFromFloat(a.Balance).String(), formatTime(a.UpdatedAt),
			)
			if err != nil {
				if isForeignKeyError(err) {
					return economy.ErrCurrencyNotFound
				}
				return fmt.Errorf("failed to create account: %w", err)
			}
			n, _ := res.RowsAffected()
			created += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *Store) FindAccountsByCurrency(ctx context.Context, currencyID economy.CurrencyID) ([]economy.Account, error) {
	defer s.rlock()()
	return s.queryAccounts(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE currency_id = ? ORDER BY id", currencyID)
}

func (s *Store) ListAccountsByPlayer(ctx context.Context, playerID economy.PlayerID) ([]economy.Account, error) {
	defer s.rlock()()
	return s.queryAccounts(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE player_id = ? ORDER BY id", playerID)
}

func (s *Store) DeleteAccountsByCurrency(ctx context.Context, currencyID economy.CurrencyID) (int, error) {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, "DELETE FROM accounts WHERE currency_id = ?", currencyID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete accounts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]economy.Account, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []economy.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (economy.Account, error) {
	var (
		a         economy.Account
		balance   string
		updatedAt string
	)
	if err := row.Scan(&a.ID, &a.PlayerID, &a.CurrencyID, &balance, &updatedAt); err != nil {
		return a, err
	}
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return a, fmt.Errorf("invalid balance %q: %w", balance, err)
	}
	a.Balance, _ = d.Float64()
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// CURRENCY STORE
// =============================================================================

const currencyColumns = "id, identifier, symbol, prefix, suffix, icon, created_at"

func (s *Store) FindCurrency(ctx context.Context, identifier string) (*economy.Currency, error) {
	defer s.rlock()()

	row := s.q.QueryRowContext(ctx,
		"SELECT "+currencyColumns+" FROM currencies WHERE identifier = ?",
		strings.TrimSpace(identifier),
	)
	c, err := scanCurrency(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find currency: %w", err)
	}
	return &c, nil
}

func (s *Store) ListCurrencies(ctx context.Context) ([]economy.Currency, error) {
	defer s.rlock()()

	rows, err := s.q.QueryContext(ctx, "SELECT "+currencyColumns+" FROM currencies ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	defer rows.Close()

	var currencies []economy.Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}

func (s *Store) CreateCurrency(ctx context.Context, c economy.Currency) (economy.Currency, error) {
	defer s.lock()()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx,
		"INSERT INTO currencies (identifier, symbol, prefix, suffix, icon, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		c.Identifier, c.Symbol, c.Prefix, c.Suffix, c.Icon, formatTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.Currency{}, economy.ErrDuplicateIdentifier
		}
		return economy.Currency{}, fmt.Errorf("failed to create currency: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return economy.Currency{}, fmt.Errorf("failed to read currency id: %w", err)
	}
	c.ID = economy.CurrencyID(id)
	return c, nil
}

func (s *Store) UpdateCurrency(ctx context.Context, c economy.Currency) error {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx,
		"UPDATE currencies SET identifier = ?, symbol = ?, prefix = ?, suffix = ?, icon = ? WHERE id = ?",
		c.Identifier, c.Symbol, c.Prefix, c.Suffix, c.Icon, c.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return economy.ErrDuplicateIdentifier
		}
		return fmt.Errorf("failed to update currency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return economy.ErrCurrencyNotFound
	}
	return nil
}

func (s *Store) DeleteCurrency(ctx context.Context, id economy.CurrencyID) error {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, "DELETE FROM currencies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete currency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return economy.ErrCurrencyNotFound
	}
	return nil
}

func scanCurrency(row scanner) (economy.Currency, error) {
	var (
		c         economy.Currency
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.Identifier, &c.Symbol, &c.Prefix, &c.Suffix, &c.Icon, &createdAt); err != nil {
		return c, err
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// =============================================================================
// PLAYER STORE
// =============================================================================

func (s *Store) SavePlayer(ctx context.Context, p economy.Player) (bool, error) {
	defer s.lock()()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx,
		"INSERT OR IGNORE INTO players (id, name, created_at) VALUES (?, ?, ?)",
		p.ID, p.Name, formatTime(p.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save player: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	_, err = s.q.ExecContext(ctx, "UPDATE players SET name = ? WHERE id = ?", p.Name, p.ID)
	if err != nil {
		return false, fmt.Errorf("failed to update player: %w", err)
	}
	return false, nil
}

func (s *Store) FindPlayer(ctx context.Context, id economy.PlayerID) (*economy.Player, error) {
	defer s.rlock()()

	var (
		p         economy.Player
		createdAt string
	)
	err := s.q.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM players WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find player: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *Store) ListPlayers(ctx context.Context, offset, limit int) ([]economy.Player, error) {
	defer s.rlock()()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.q.QueryContext(ctx,
		"SELECT id, name, created_at FROM players ORDER BY id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []economy.Player
	for rows.Next() {
		var (
			p         economy.Player
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		players = append(players, p)
	}
	return players, rows.Err()
}

// DeletePlayer removes the player and its accounts in one transaction.
func (s *Store) DeletePlayer(ctx context.Context, id economy.PlayerID) error {
	defer s.lock()()

	return s.atomically(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM accounts WHERE player_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete player accounts: %w", err)
		}
		res, err := q.ExecContext(ctx, "DELETE FROM players WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete player: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return economy.ErrPlayerNotFound
		}
		return nil
	})
}

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

const logColumns = `id, timestamp, log_type, log_level, operation_type, player_id, currency_id,
	old_balance, new_balance, amount, success, error_message, initiator, details, metadata_json`

func (s *Store) AppendLog(ctx context.Context, entry economy.LogEntry) (economy.LogEntry, error) {
	defer s.lock()()

	var metadataJSON sql.NullString
	if len(entry.Metadata) > 0 {
		b, _ := json.Marshal(entry.Metadata)
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO audit_log
		(timestamp, log_type, log_level, operation_type, player_id, currency_id,
		 old_balance, new_balance, amount, success, error_message, initiator, details, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.q.ExecContext(ctx, query,
		formatTime(entry.Timestamp),
		entry.LogType,
		entry.LogLevel,
		nullString(string(entry.OperationType)),
		nullPlayer(entry.PlayerID),
		nullCurrency(entry.CurrencyID),
		nullFloat(entry.OldBalance),
		nullFloat(entry.NewBalance),
		nullFloat(entry.Amount),
		entry.Success,
		nullString(entry.ErrorMessage),
		nullString(entry.Initiator),
		nullString(entry.Details),
		metadataJSON,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return economy.LogEntry{}, economy.ErrCurrencyNotFound
		}
		return economy.LogEntry{}, fmt.Errorf("failed to append log: %w", err)
	}
	entry.ID, _ = res.LastInsertId()
	return entry, nil
}

// QueryLogs returns matching entries, newest first.
func (s *Store) QueryLogs(ctx context.Context, filter economy.LogFilter) ([]economy.LogEntry, error) {
	defer s.rlock()()

	var (
		where []string
		args  []any
	)
	if filter.PlayerID != nil {
		where = append(where, "player_id = ?")
		args = append(args, *filter.PlayerID)
	}
	if filter.CurrencyID != nil {
		where = append(where, "currency_id = ?")
		args = append(args, *filter.CurrencyID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if len(filter.LogTypes) > 0 {
		marks := make([]string, len(filter.LogTypes))
		for i, t := range filter.LogTypes {
			marks[i] = "?"
			args = append(args, t)
		}
		where = append(where, "log_type IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + logColumns + " FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []economy.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) ScrubCurrencyLogs(ctx context.Context, currencyID economy.CurrencyID) (int, error) {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx, "UPDATE audit_log SET currency_id = NULL WHERE currency_id = ?", currencyID)
	if err != nil {
		return 0, fmt.Errorf("failed to scrub logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanLogEntry(rows *sql.Rows) (economy.LogEntry, error) {
	var (
		e             economy.LogEntry
		timestamp     string
		operationType sql.NullString
		playerID      sql.NullString
		currencyID    sql.NullInt64
		oldBalance    sql.NullFloat64
		newBalance    sql.NullFloat64
		amount        sql.NullFloat64
		errorMessage  sql.NullString
		initiator     sql.NullString
		details       sql.NullString
		metadataJSON  sql.NullString
	)
	err := rows.Scan(
		&e.ID, &timestamp, &e.LogType, &e.LogLevel, &operationType, &playerID, &currencyID,
		&oldBalance, &newBalance, &amount, &e.Success, &errorMessage, &initiator, &details, &metadataJSON,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan log entry: %w", err)
	}

	e.Timestamp = parseTime(timestamp)
	e.OperationType = economy.OperationType(operationType.String)
	if playerID.Valid {
		p := economy.PlayerID(playerID.String)
		e.PlayerID = &p
	}
	if currencyID.Valid {
		c := economy.CurrencyID(currencyID.Int64)
		e.CurrencyID = &c
	}
	if oldBalance.Valid {
		e.OldBalance = &oldBalance.Float64
	}
	if newBalance.Valid {
		e.NewBalance = &newBalance.Float64
	}
	if amount.Valid {
		e.Amount = &amount.Float64
	}
	e.ErrorMessage = errorMessage.String
	e.Initiator = initiator.String
	e.Details = details.String
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
	}
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE (economy.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store economy.Store) error) error {
	if s.mu == nil {
		// Already inside a transaction: join it
		return fn(s)
	}
	defer s.lock()()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &Store{db: s.db, q: sqlTx}
	if err := fn(view); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// atomically runs fn in a transaction unless the store already is one.
// Callers hold the store lock.
func (s *Store) atomically(ctx context.Context, fn func(q querier) error) error {
	if s.mu == nil {
		return fn(s.q)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Helper functions

// timeLayout is fixed width so TEXT comparison orders timestamps correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullPlayer(p *economy.PlayerID) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}

func nullCurrency(c *economy.CurrencyID) sql.NullInt64 {
	if c == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*c), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

var _ economy.TxStore = (*Store)(nil)
