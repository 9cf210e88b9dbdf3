package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// repositoryStore implements ledger.RepositoryStore for SQLite.
type repositoryStore struct {
	db *DB
}

// NewRepositoryStore creates a new SQLite repository store.
func NewRepositoryStore(db *DB) ledger.RepositoryStore {
	return &repositoryStore{db: db}
}

const repositoryColumns = `id, principal_id, name, quota_bytes, last_session_success, append_ssh_key, rw_ssh_key, lock_holder, created_at`

// Create creates a new repository.
func (s *repositoryStore) Create(ctx context.Context, r *domain.Repository) error {
	query := `
		INSERT INTO repositories (principal_id, name, quota_bytes, last_session_success, append_ssh_key, rw_ssh_key, lock_holder, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`

	result, err := s.db.conn(ctx).ExecContext(ctx, query,
		r.PrincipalID,
		r.Name,
		r.QuotaBytes,
		boolToInt(r.LastSessionSuccess),
		keyToDB(r.AppendKey),
		keyToDB(r.ReadWriteKey),
		timeToDB(r.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrRepositoryExists, r.Name)
		}
		return fmt.Errorf("failed to create repository: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	r.ID = id

	return nil
}

// GetByID retrieves a repository by ID.
func (s *repositoryStore) GetByID(ctx context.Context, id int64) (*domain.Repository, error) {
	row := s.db.conn(ctx).QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id)
	return scanRepository(row)
}

// GetByName retrieves a repository by owning principal and name.
func (s *repositoryStore) GetByName(ctx context.Context, principalID int64, name string) (*domain.Repository, error) {
	row := s.db.conn(ctx).QueryRowContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE principal_id = ? AND name = ?`,
		principalID, name)
	return scanRepository(row)
}

// ListByPrincipal returns all repositories of a principal ordered by name.
func (s *repositoryStore) ListByPrincipal(ctx context.Context, principalID int64) ([]*domain.Repository, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE principal_id = ? ORDER BY name`,
		principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*domain.Repository
	for rows.Next() {
		r, err := scanRepositoryRow(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repositories: %w", err)
	}
	return repos, nil
}

// CountByPrincipal returns the number of repositories of a principal.
func (s *repositoryStore) CountByPrincipal(ctx context.Context, principalID int64) (int, error) {
	var count int
	err := s.db.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM repositories WHERE principal_id = ?`, principalID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count repositories: %w", err)
	}
	return count, nil
}

// Update updates an existing repository. The lock holder column belongs to
// the lock store and is deliberately left out.
func (s *repositoryStore) Update(ctx context.Context, r *domain.Repository) error {
	query := `
		UPDATE repositories
		SET quota_bytes = ?, last_session_success = ?, append_ssh_key = ?, rw_ssh_key = ?
		WHERE id = ?
	`

	result, err := s.db.conn(ctx).ExecContext(ctx, query,
		r.QuotaBytes,
		boolToInt(r.LastSessionSuccess),
		keyToDB(r.AppendKey),
		keyToDB(r.ReadWriteKey),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrRepositoryNotFound
	}
	return nil
}

// Delete deletes a repository by ID.
func (s *repositoryStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.conn(ctx).ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrRepositoryNotFound
	}
	return nil
}

func scanRepository(row *sql.Row) (*domain.Repository, error) {
	r, err := scanRepositoryRow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrRepositoryNotFound
		}
		return nil, err
	}
	return r, nil
}

func scanRepositoryRow(row rowScanner) (*domain.Repository, error) {
	r := &domain.Repository{}
	var appendKey, rwKey sql.NullString
	var lastSuccess int
	var createdAt string

	err := row.Scan(
		&r.ID,
		&r.PrincipalID,
		&r.Name,
		&r.QuotaBytes,
		&lastSuccess,
		&appendKey,
		&rwKey,
		&r.LockHolder,
		&createdAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}

	r.LastSessionSuccess = lastSuccess != 0
	if r.AppendKey, err = keyFromDB(appendKey); err != nil {
		return nil, fmt.Errorf("repository %d: %w", r.ID, err)
	}
	if r.ReadWriteKey, err = keyFromDB(rwKey); err != nil {
		return nil, fmt.Errorf("repository %d: %w", r.ID, err)
	}
	if r.CreatedAt, err = timeFromDB(createdAt); err != nil {
		return nil, fmt.Errorf("repository %d: %w", r.ID, err)
	}

	return r, nil
}

// Ensure repositoryStore implements ledger.RepositoryStore.
var _ ledger.RepositoryStore = (*repositoryStore)(nil)
