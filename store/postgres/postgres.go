/*
Package postgres provides a PostgreSQL-backed implementation of economy.Store.

PURPOSE:
  Same contract as store/sqlite, for deployments running several server
  instances against one database. Uses a pgxpool connection pool so many
  engine workers can query concurrently.

DIFFERENCES FROM SQLITE:
  - No process-level mutex: PostgreSQL handles concurrency
  - balance is NUMERIC(38, 8), passed as decimal text
  - identifier uniqueness is a unique index on lower(identifier)
  - CreateAccounts is one INSERT ... SELECT FROM unnest(...)

USAGE:
  pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
  store, err := postgres.New(ctx, pool)

SEE ALSO:
  - store/sqlite/sqlite.go: Single-node implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/warp/currency-engine/economy"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements economy.TxStore on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool // nil inside a transaction view
	db   dbtx
}

// NewPool opens a connection pool and checks the database is reachable.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	log.WithField("max_conns", cfg.MaxConns).Info("connected to PostgreSQL")
	return pool, nil
}

// New migrates the schema and returns a store over pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool, db: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks the database connection. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS currencies (
		id BIGSERIAL PRIMARY KEY,
		identifier TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		prefix TEXT NOT NULL DEFAULT '',
		suffix TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_currencies_identifier
		ON currencies (lower(identifier));

	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		player_id TEXT NOT NULL,
		currency_id BIGINT NOT NULL REFERENCES currencies(id) ON DELETE CASCADE,
		balance NUMERIC(38, 8) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (player_id, currency_id)
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_currency ON accounts (currency_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		log_type TEXT NOT NULL,
		log_level TEXT NOT NULL,
		operation_type TEXT,
		player_id TEXT,
		currency_id BIGINT REFERENCES currencies(id) ON DELETE SET NULL,
		old_balance DOUBLE PRECISION,
		new_balance DOUBLE PRECISION,
		amount DOUBLE PRECISION,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		initiator TEXT,
		details TEXT,
		metadata JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_player ON audit_log (player_id);
	CREATE INDEX IF NOT EXISTS idx_audit_log_currency ON audit_log (currency_id);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = "id, player_id, currency_id, balance::float8, updated_at"

func (s *Store) FindAccount(ctx context.Context, playerID economy.PlayerID, currencyID economy.CurrencyID) (*economy.Account, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE player_id = $1 AND currency_id = $2",
		string(playerID), int64(currencyID),
	)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &a, nil
}

func (s *Store) SaveAccount(ctx context.Context, a economy.Account) (economy.Account, error) {
	err := s.db.QueryRow(ctx, `
		UPDATE accounts SET balance = $3::numeric, updated_at = $4
		WHERE player_id = $1 AND currency_id = $2
		RETURNING id
	`, string(a.PlayerID), int64(a.CurrencyID), formatBalance(a.Balance), timestamp(a.UpdatedAt)).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return economy.Account{}, economy.ErrAccountNotFound
	}
	if err != nil {
		return economy.Account{}, fmt.Errorf("failed to save account: %w", err)
	}
	return a, nil
}

func (s *Store) CreateAccounts(ctx context.Context, accounts []economy.Account) (int, error) {
	if len(accounts) == 0 {
		return 0, nil
	}
	players := make([]string, len(accounts))
	currencies := make([]int64, len(accounts))
	balances := make([]string, len(accounts))
	updated := make([]time.Time, len(accounts))
	for i, a := range accounts {
		players[i] = string(a.PlayerID)
		currencies[i] = int64(a.CurrencyID)
		balances[i] = formatBalance(a.Balance)
		updated[i] = timestamp(a.UpdatedAt)
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO accounts (player_id, currency_id, balance, updated_at)
		SELECT p, c, b::numeric, u
		FROM unnest($1::text[], $2::bigint[], $3::text[], $4::timestamptz[]) AS t(p, c, b, u)
		ON CONFLICT (player_id, currency_id) DO NOTHING
	`, players, currencies, balances, updated)
	if err != nil {
		if isForeignKeyError(err) {
			return 0, economy.ErrCurrencyNotFound
		}
		return 0, fmt.Errorf("failed to create accounts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) FindAccountsByCurrency(ctx context.Context, currencyID economy.CurrencyID) ([]economy.Account, error) {
	return s.queryAccounts(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE currency_id = $1 ORDER BY id", int64(currencyID))
}

func (s *Store) ListAccountsByPlayer(ctx context.Context, playerID economy.PlayerID) ([]economy.Account, error) {
	return s.queryAccounts(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE player_id = $1 ORDER BY id", string(playerID))
}

func (s *Store) DeleteAccountsByCurrency(ctx context.Context, currencyID economy.CurrencyID) (int, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM accounts WHERE currency_id = $1", int64(currencyID))
	if err != nil {
		return 0, fmt.Errorf("failed to delete accounts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]economy.Account, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []economy.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (economy.Account, error) {
	var (
		a        economy.Account
		player   string
		currency int64
	)
	err := row.Scan(&a.ID, &player, &currency, &a.Balance, &a.UpdatedAt)
	a.PlayerID = economy.PlayerID(player)
	a.CurrencyID = economy.CurrencyID(currency)
	return a, err
}

// =============================================================================
// CURRENCIES
// =============================================================================

const currencyColumns = "id, identifier, symbol, prefix, suffix, icon, created_at"

func (s *Store) FindCurrency(ctx context.Context, identifier string) (*economy.Currency, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+currencyColumns+" FROM currencies WHERE lower(identifier) = lower($1)",
		strings.TrimSpace(identifier),
	)
	c, err := scanCurrency(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find currency: %w", err)
	}
	return &c, nil
}

func (s *Store) ListCurrencies(ctx context.Context) ([]economy.Currency, error) {
	rows, err := s.db.Query(ctx, "SELECT "+currencyColumns+" FROM currencies ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	defer rows.Close()

	var out []economy.Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCurrency(ctx context.Context, c economy.Currency) (economy.Currency, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO currencies (identifier, symbol, prefix, suffix, icon, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, c.Identifier, c.Symbol, c.Prefix, c.Suffix, c.Icon, timestamp(c.CreatedAt)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return economy.Currency{}, economy.ErrDuplicateIdentifier
		}
		return economy.Currency{}, fmt.Errorf("failed to create currency: %w", err)
	}
	c.ID = economy.CurrencyID(id)
	c.CreatedAt = timestamp(c.CreatedAt)
	return c, nil
}

func (s *Store) UpdateCurrency(ctx context.Context, c economy.Currency) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE currencies SET identifier = $1, symbol = $2, prefix = $3, suffix = $4, icon = $5 WHERE id = $6",
		c.Identifier, c.Symbol, c.Prefix, c.Suffix, c.Icon, int64(c.ID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return economy.ErrDuplicateIdentifier
		}
		return fmt.Errorf("failed to update currency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return economy.ErrCurrencyNotFound
	}
	return nil
}

func (s *Store) DeleteCurrency(ctx context.Context, id economy.CurrencyID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM currencies WHERE id = $1", int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete currency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return economy.ErrCurrencyNotFound
	}
	return nil
}

func scanCurrency(row pgx.Row) (economy.Currency, error) {
	var (
		c  economy.Currency
		id int64
	)
	err := row.Scan(&id, &c.Identifier, &c.Symbol, &c.Prefix, &c.Suffix, &c.Icon, &c.CreatedAt)
	c.ID = economy.CurrencyID(id)
	return c, err
}

// =============================================================================
// PLAYERS
// =============================================================================

func (s *Store) SavePlayer(ctx context.Context, p economy.Player) (bool, error) {
	// xmax = 0 only for freshly inserted rows
	var inserted bool
	err := s.db.QueryRow(ctx, `
		INSERT INTO players (id, name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
		RETURNING (xmax = 0)
	`, string(p.ID), p.Name, timestamp(p.CreatedAt)).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to save player: %w", err)
	}
	return inserted, nil
}

func (s *Store) FindPlayer(ctx context.Context, id economy.PlayerID) (*economy.Player, error) {
	var (
		p      economy.Player
		player string
	)
	err := s.db.QueryRow(ctx,
		"SELECT id, name, created_at FROM players WHERE id = $1", string(id),
	).Scan(&player, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find player: %w", err)
	}
	p.ID = economy.PlayerID(player)
	return &p, nil
}

func (s *Store) ListPlayers(ctx context.Context, offset, limit int) ([]economy.Player, error) {
	query := "SELECT id, name, created_at FROM players ORDER BY id OFFSET $1"
	args := []any{offset}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var out []economy.Player
	for rows.Next() {
		var (
			p      economy.Player
			player string
		)
		if err := rows.Scan(&player, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		p.ID = economy.PlayerID(player)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DeletePlayer(ctx context.Context, id economy.PlayerID) error {
	return s.WithTx(ctx, func(tx economy.Store) error {
		view := tx.(*Store)
		if _, err := view.db.Exec(ctx, "DELETE FROM accounts WHERE player_id = $1", string(id)); err != nil {
			return fmt.Errorf("failed to delete player accounts: %w", err)
		}
		tag, err := view.db.Exec(ctx, "DELETE FROM players WHERE id = $1", string(id))
		if err != nil {
			return fmt.Errorf("failed to delete player: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return economy.ErrPlayerNotFound
		}
		return nil
	})
}

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

const logColumns = `id, timestamp, log_type, log_level, operation_type, player_id, currency_id,
	old_balance, new_balance, amount, success, error_message, initiator, details, metadata`

func (s *Store) AppendLog(ctx context.Context, e economy.LogEntry) (economy.LogEntry, error) {
	var currencyID *int64
	if e.CurrencyID != nil {
		v := int64(*e.CurrencyID)
		currencyID = &v
	}
	var playerID *string
	if e.PlayerID != nil {
		v := string(*e.PlayerID)
		playerID = &v
	}
	var metadata map[string]string
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO audit_log
		(timestamp, log_type, log_level, operation_type, player_id, currency_id,
		 old_balance, new_balance, amount, success, error_message, initiator, details, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`,
		timestamp(e.Timestamp), string(e.LogType), string(e.LogLevel), nullable(string(e.OperationType)),
		playerID, currencyID, e.OldBalance, e.NewBalance, e.Amount, e.Success,
		nullable(e.ErrorMessage), nullable(e.Initiator), nullable(e.Details), metadata,
	).Scan(&e.ID)
	if err != nil {
		if isForeignKeyError(err) {
			return economy.LogEntry{}, economy.ErrCurrencyNotFound
		}
		return economy.LogEntry{}, fmt.Errorf("failed to append log: %w", err)
	}
	return e, nil
}

func (s *Store) QueryLogs(ctx context.Context, f economy.LogFilter) ([]economy.LogEntry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.PlayerID != nil {
		where = append(where, "player_id = "+arg(string(*f.PlayerID)))
	}
	if f.CurrencyID != nil {
		where = append(where, "currency_id = "+arg(int64(*f.CurrencyID)))
	}
	if f.Since != nil {
		where = append(where, "timestamp >= "+arg(*f.Since))
	}
	if len(f.LogTypes) > 0 {
		types := make([]string, len(f.LogTypes))
		for i, t := range f.LogTypes {
			types[i] = string(t)
		}
		where = append(where, "log_type = ANY("+arg(types)+")")
	}

	query := "SELECT " + logColumns + " FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var out []economy.LogEntry
	for rows.Next() {
		var (
			e                          economy.LogEntry
			logType, logLevel          string
			opType, player             *string
			currency                   *int64
			errMsg, initiator, details *string
		)
		err := rows.Scan(&e.ID, &e.Timestamp, &logType, &logLevel, &opType, &player, &currency,
			&e.OldBalance, &e.NewBalance, &e.Amount, &e.Success, &errMsg, &initiator, &details, &e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.LogType = economy.LogType(logType)
		e.LogLevel = economy.LogLevel(logLevel)
		e.OperationType = economy.OperationType(deref(opType))
		if player != nil {
			p := economy.PlayerID(*player)
			e.PlayerID = &p
		}
		if currency != nil {
			c := economy.CurrencyID(*currency)
			e.CurrencyID = &c
		}
		e.ErrorMessage = deref(errMsg)
		e.Initiator = deref(initiator)
		e.Details = deref(details)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ScrubCurrencyLogs(ctx context.Context, currencyID economy.CurrencyID) (int, error) {
	tag, err := s.db.Exec(ctx, "UPDATE audit_log SET currency_id = NULL WHERE currency_id = $1", int64(currencyID))
	if err != nil {
		return 0, fmt.Errorf("failed to scrub logs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside a database transaction. Nested calls join the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(economy.Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Store{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func formatBalance(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool { return pgCode(err) == "23505" }
func isForeignKeyError(err error) bool { return pgCode(err) == "23503" }

var _ economy.TxStore = (*Store)(nil)
