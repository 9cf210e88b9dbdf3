package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// logStore implements ledger.LogStore for SQLite.
type logStore struct {
	db *DB
}

// NewLogStore creates a new SQLite log store.
func NewLogStore(db *DB) ledger.LogStore {
	return &logStore{db: db}
}

const logColumns = `id, principal_id, repository_id, operation, data, acknowledged, created_at`

// Append writes a new log entry.
func (s *logStore) Append(ctx context.Context, e *domain.LogEntry) error {
	query := `
		INSERT INTO log_entries (principal_id, repository_id, operation, data, acknowledged, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.conn(ctx).ExecContext(ctx, query,
		idPtrToDB(e.PrincipalID),
		idPtrToDB(e.RepositoryID),
		int(e.Operation),
		e.Data,
		boolToInt(e.Acknowledged),
		timeToDB(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	e.ID = id

	return nil
}

// List returns entries matching the filter, oldest first.
func (s *logStore) List(ctx context.Context, f ledger.LogFilter) ([]*domain.LogEntry, error) {
	var conds []string
	var args []any

	if f.AdminOnly {
		conds = append(conds, "principal_id IS NULL AND repository_id IS NULL")
	}
	if f.PrincipalID != nil {
		conds = append(conds, "principal_id = ?")
		args = append(args, *f.PrincipalID)
	}
	if f.RepositoryID != nil {
		conds = append(conds, "repository_id = ?")
		args = append(args, *f.RepositoryID)
	}
	if f.Operation != nil {
		conds = append(conds, "operation = ?")
		args = append(args, int(*f.Operation))
	}

	query := `SELECT ` + logColumns + ` FROM log_entries`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating log entries: %w", err)
	}
	return entries, nil
}

// LastForRepository returns the most recent entry for a (repository,
// operation) pair, or nil if none exists.
func (s *logStore) LastForRepository(ctx context.Context, repositoryID int64, op domain.Operation) (*domain.LogEntry, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx,
		`SELECT `+logColumns+` FROM log_entries
		 WHERE repository_id = ? AND operation = ?
		 ORDER BY id DESC LIMIT 1`,
		repositoryID, int(op))
	if err != nil {
		return nil, fmt.Errorf("failed to query last log entry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanLogEntry(rows)
}

// Acknowledge sets the acknowledged flag on the given entries.
func (s *logStore) Acknowledge(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.conn(ctx).ExecContext(ctx,
		`UPDATE log_entries SET acknowledged = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to acknowledge log entries: %w", err)
	}
	return nil
}

// PruneAcknowledged deletes acknowledged entries created before the cutoff,
// keeping the most recent keepOp entry of every repository regardless of
// age: staleness detection depends on it.
func (s *logStore) PruneAcknowledged(ctx context.Context, cutoff time.Time, keepOp domain.Operation) (int64, error) {
	result, err := s.db.conn(ctx).ExecContext(ctx, `
		DELETE FROM log_entries
		WHERE acknowledged = 1
		  AND created_at < ?
		  AND id NOT IN (
			SELECT MAX(id) FROM log_entries
			WHERE operation = ? AND repository_id IS NOT NULL
			GROUP BY repository_id
		  )
	`, timeToDB(cutoff), int(keepOp))
	if err != nil {
		return 0, fmt.Errorf("failed to prune log entries: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}

func scanLogEntry(row rowScanner) (*domain.LogEntry, error) {
	e := &domain.LogEntry{}
	var principalID, repositoryID sql.NullInt64
	var operation, acknowledged int
	var createdAt string

	err := row.Scan(
		&e.ID,
		&principalID,
		&repositoryID,
		&operation,
		&e.Data,
		&acknowledged,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan log entry: %w", err)
	}

	e.PrincipalID = idPtrFromDB(principalID)
	e.RepositoryID = idPtrFromDB(repositoryID)
	if e.Operation, err = domain.OperationFromInt(operation); err != nil {
		return nil, fmt.Errorf("log entry %d: %w", e.ID, err)
	}
	e.Acknowledged = acknowledged != 0
	if e.CreatedAt, err = timeFromDB(createdAt); err != nil {
		return nil, fmt.Errorf("log entry %d: %w", e.ID, err)
	}

	return e, nil
}

// Ensure logStore implements ledger.LogStore.
var _ ledger.LogStore = (*logStore)(nil)
