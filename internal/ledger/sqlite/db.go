// Package sqlite provides the embedded SQLite ledger backend.
// It uses modernc.org/sqlite, a pure Go SQLite implementation that doesn't
// require CGO, keeping the gateway a single cross-platform binary.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	ledger.Register("sqlite", func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ledger.Backend, error) {
		return Open(ctx, cfg, logger)
	})
}

// DB wraps a sql.DB connection for SQLite.
type DB struct {
	db     *sql.DB
	logger zerolog.Logger
	path   string
}

// Open creates a new SQLite ledger backend and applies pending migrations.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*DB, error) {
	path := cfg.DatabasePath()
	connStr := fmt.Sprintf(
		"%s?_journal_mode=%s&_busy_timeout=%d&_synchronous=%s&_foreign_keys=ON",
		path,
		cfg.Database.JournalMode,
		cfg.Database.BusyTimeout,
		cfg.Database.SynchronousMode,
	)

	sqlDB, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite works best with a single writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	db := &DB{
		db:     sqlDB,
		logger: logger.With().Str("ledger", "sqlite").Logger(),
		path:   path,
	}

	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db.logger.Debug().Str("path", path).Msg("connected to SQLite ledger")
	return db, nil
}

// Stores returns the store set of this backend.
func (db *DB) Stores() *ledger.Stores {
	return &ledger.Stores{
		Principals:   NewPrincipalStore(db),
		Repositories: NewRepositoryStore(db),
		Logs:         NewLogStore(db),
		Locks:        NewLockStore(db),
		Tx:           db,
	}
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// querier is the common subset of *sql.DB and *sql.Tx used by the stores.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// conn returns the transaction carried by ctx, or the plain connection.
func (db *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db.db
}

// WithTx executes fn within a transaction. Store methods called with the
// context passed to fn join the transaction. If the function returns an
// error the transaction is rolled back, otherwise it is committed.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		// Already inside a transaction; join it.
		return fn(ctx)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// migrate applies embedded schema migrations.
func (db *DB) migrate(ctx context.Context) error {
	_, err := db.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err = db.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	if currentVersion < 1 {
		migration, err := migrationsFS.ReadFile("migrations/000001_init.up.sql")
		if err != nil {
			return fmt.Errorf("failed to read embedded migration: %w", err)
		}
		if _, err := db.db.ExecContext(ctx, string(migration)); err != nil {
			return fmt.Errorf("failed to apply migration 1: %w", err)
		}
		if _, err := db.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (1)`); err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		db.logger.Info().Int("version", 1).Msg("applied migration")
	}

	return nil
}

// Ensure DB implements the backend interfaces.
var (
	_ ledger.Backend   = (*DB)(nil)
	_ ledger.TxManager = (*DB)(nil)
)
