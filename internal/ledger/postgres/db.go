// Package postgres provides the PostgreSQL ledger backend for
// installations that centralize the ledger of several gateway hosts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/ledger"
)

func init() {
	ledger.Register("postgres", func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ledger.Backend, error) {
		return Open(ctx, cfg, logger)
	})
}

// DB wraps a pgx connection pool.
type DB struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Open creates a new PostgreSQL ledger backend and applies pending
// migrations.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		pool:   pool,
		logger: logger.With().Str("ledger", "postgres").Logger(),
	}

	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	db.logger.Debug().
		Str("host", cfg.Database.Host).
		Str("database", cfg.Database.Database).
		Msg("connected to PostgreSQL ledger")
	return db, nil
}

// Stores returns the store set of this backend.
func (db *DB) Stores() *ledger.Stores {
	return &ledger.Stores{
		Principals:   &principalStore{db: db},
		Repositories: &repositoryStore{db: db},
		Logs:         &logStore{db: db},
		Locks:        &lockStore{db: db},
		Tx:           db,
	}
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the connection pool.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// querier is the common subset of *pgxpool.Pool and pgx.Tx used by the
// stores.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// conn returns the transaction carried by ctx, or the pool.
func (db *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db.pool
}

// WithTx executes fn within a transaction. Store methods called with the
// context passed to fn join the transaction.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS principals (
    id              BIGSERIAL PRIMARY KEY,
    name            TEXT NOT NULL UNIQUE,
    email           TEXT NOT NULL UNIQUE,
    quota_bytes     BIGINT NOT NULL,
    max_repo_count  INTEGER NOT NULL,
    ssh_key         TEXT,
    pending_ssh_key TEXT,
    lock_holder     INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL,
    last_login_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS repositories (
    id                   BIGSERIAL PRIMARY KEY,
    principal_id         BIGINT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
    name                 TEXT NOT NULL,
    quota_bytes          BIGINT NOT NULL,
    last_session_success BOOLEAN NOT NULL DEFAULT TRUE,
    append_ssh_key       TEXT,
    rw_ssh_key           TEXT,
    lock_holder          INTEGER NOT NULL DEFAULT 0,
    created_at           TIMESTAMPTZ NOT NULL,
    UNIQUE (principal_id, name)
);

CREATE TABLE IF NOT EXISTS log_entries (
    id            BIGSERIAL PRIMARY KEY,
    principal_id  BIGINT,
    repository_id BIGINT,
    operation     INTEGER NOT NULL,
    data          TEXT NOT NULL,
    acknowledged  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_log_entries_repo_op ON log_entries(repository_id, operation, id);
CREATE INDEX IF NOT EXISTS idx_log_entries_principal ON log_entries(principal_id, id);
`

// migrate applies the schema. All statements are idempotent.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// isUniqueViolation checks if an error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isNoRows checks if an error indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Ensure DB implements the backend interfaces.
var (
	_ ledger.Backend   = (*DB)(nil)
	_ ledger.TxManager = (*DB)(nil)
)
