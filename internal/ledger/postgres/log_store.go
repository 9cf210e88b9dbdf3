package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// logStore implements ledger.LogStore for PostgreSQL.
type logStore struct {
	db *DB
}

const logColumns = `id, principal_id, repository_id, operation, data, acknowledged, created_at`

// Append writes a new log entry.
func (s *logStore) Append(ctx context.Context, e *domain.LogEntry) error {
	query := `
		INSERT INTO log_entries (principal_id, repository_id, operation, data, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := s.db.conn(ctx).QueryRow(ctx, query,
		e.PrincipalID,
		e.RepositoryID,
		int(e.Operation),
		e.Data,
		e.Acknowledged,
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

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
		args = append(args, *f.PrincipalID)
		conds = append(conds, fmt.Sprintf("principal_id = $%d", len(args)))
	}
	if f.RepositoryID != nil {
		args = append(args, *f.RepositoryID)
		conds = append(conds, fmt.Sprintf("repository_id = $%d", len(args)))
	}
	if f.Operation != nil {
		args = append(args, int(*f.Operation))
		conds = append(conds, fmt.Sprintf("operation = $%d", len(args)))
	}

	query := `SELECT ` + logColumns + ` FROM log_entries`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.db.conn(ctx).Query(ctx, query, args...)
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
	rows, err := s.db.conn(ctx).Query(ctx,
		`SELECT `+logColumns+` FROM log_entries
		 WHERE repository_id = $1 AND operation = $2
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

	_, err := s.db.conn(ctx).Exec(ctx,
		`UPDATE log_entries SET acknowledged = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to acknowledge log entries: %w", err)
	}
	return nil
}

// PruneAcknowledged deletes acknowledged entries created before the cutoff,
// keeping the most recent keepOp entry of every repository regardless of
// age: staleness detection depends on it.
func (s *logStore) PruneAcknowledged(ctx context.Context, cutoff time.Time, keepOp domain.Operation) (int64, error) {
	tag, err := s.db.conn(ctx).Exec(ctx, `
		DELETE FROM log_entries
		WHERE acknowledged = TRUE
		  AND created_at < $1
		  AND id NOT IN (
			SELECT MAX(id) FROM log_entries
			WHERE operation = $2 AND repository_id IS NOT NULL
			GROUP BY repository_id
		  )
	`, cutoff, int(keepOp))
	if err != nil {
		return 0, fmt.Errorf("failed to prune log entries: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanLogEntry(row rowScanner) (*domain.LogEntry, error) {
	e := &domain.LogEntry{}
	var operation int

	err := row.Scan(
		&e.ID,
		&e.PrincipalID,
		&e.RepositoryID,
		&operation,
		&e.Data,
		&e.Acknowledged,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan log entry: %w", err)
	}

	if e.Operation, err = domain.OperationFromInt(operation); err != nil {
		return nil, fmt.Errorf("log entry %d: %w", e.ID, err)
	}

	return e, nil
}

// Ensure logStore implements ledger.LogStore.
var _ ledger.LogStore = (*logStore)(nil)
