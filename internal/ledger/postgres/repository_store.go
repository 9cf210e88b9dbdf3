package postgres

import (
	"context"
	"fmt"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// repositoryStore implements ledger.RepositoryStore for PostgreSQL.
type repositoryStore struct {
	db *DB
}

const repositoryColumns = `id, principal_id, name, quota_bytes, last_session_success, append_ssh_key, rw_ssh_key, lock_holder, created_at`

// Create creates a new repository.
func (s *repositoryStore) Create(ctx context.Context, r *domain.Repository) error {
	query := `
		INSERT INTO repositories (principal_id, name, quota_bytes, last_session_success, append_ssh_key, rw_ssh_key, lock_holder, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING id
	`

	err := s.db.conn(ctx).QueryRow(ctx, query,
		r.PrincipalID,
		r.Name,
		r.QuotaBytes,
		r.LastSessionSuccess,
		keyToDB(r.AppendKey),
		keyToDB(r.ReadWriteKey),
		r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrRepositoryExists, r.Name)
		}
		return fmt.Errorf("failed to create repository: %w", err)
	}

	return nil
}

// GetByID retrieves a repository by ID.
func (s *repositoryStore) GetByID(ctx context.Context, id int64) (*domain.Repository, error) {
	row := s.db.conn(ctx).QueryRow(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE id = $1`, id)
	return scanRepository(row)
}

// GetByName retrieves a repository by owning principal and name.
func (s *repositoryStore) GetByName(ctx context.Context, principalID int64, name string) (*domain.Repository, error) {
	row := s.db.conn(ctx).QueryRow(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE principal_id = $1 AND name = $2`,
		principalID, name)
	return scanRepository(row)
}

// ListByPrincipal returns all repositories of a principal ordered by name.
func (s *repositoryStore) ListByPrincipal(ctx context.Context, principalID int64) ([]*domain.Repository, error) {
	rows, err := s.db.conn(ctx).Query(ctx,
		`SELECT `+repositoryColumns+` FROM repositories WHERE principal_id = $1 ORDER BY name`,
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
	err := s.db.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM repositories WHERE principal_id = $1`, principalID).Scan(&count)
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
		SET quota_bytes = $1, last_session_success = $2, append_ssh_key = $3, rw_ssh_key = $4
		WHERE id = $5
	`

	tag, err := s.db.conn(ctx).Exec(ctx, query,
		r.QuotaBytes,
		r.LastSessionSuccess,
		keyToDB(r.AppendKey),
		keyToDB(r.ReadWriteKey),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update repository: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrRepositoryNotFound
	}
	return nil
}

// Delete deletes a repository by ID.
func (s *repositoryStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.conn(ctx).Exec(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRepositoryNotFound
	}
	return nil
}

func scanRepository(row rowScanner) (*domain.Repository, error) {
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
	var appendKey, rwKey *string

	err := row.Scan(
		&r.ID,
		&r.PrincipalID,
		&r.Name,
		&r.QuotaBytes,
		&r.LastSessionSuccess,
		&appendKey,
		&rwKey,
		&r.LockHolder,
		&r.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}

	if r.AppendKey, err = keyFromDB(appendKey); err != nil {
		return nil, fmt.Errorf("repository %d: %w", r.ID, err)
	}
	if r.ReadWriteKey, err = keyFromDB(rwKey); err != nil {
		return nil, fmt.Errorf("repository %d: %w", r.ID, err)
	}

	return r, nil
}

// Ensure repositoryStore implements ledger.RepositoryStore.
var _ ledger.RepositoryStore = (*repositoryStore)(nil)
