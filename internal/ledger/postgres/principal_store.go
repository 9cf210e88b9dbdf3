package postgres

import (
	"context"
	"fmt"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// principalStore implements ledger.PrincipalStore for PostgreSQL.
type principalStore struct {
	db *DB
}

const principalColumns = `id, name, email, quota_bytes, max_repo_count, ssh_key, pending_ssh_key, lock_holder, created_at, last_login_at`

// Create creates a new principal.
func (s *principalStore) Create(ctx context.Context, p *domain.Principal) error {
	query := `
		INSERT INTO principals (name, email, quota_bytes, max_repo_count, ssh_key, pending_ssh_key, lock_holder, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		RETURNING id
	`

	err := s.db.conn(ctx).QueryRow(ctx, query,
		p.Name,
		p.Email,
		p.QuotaBytes,
		p.MaxRepoCount,
		keyToDB(p.Key),
		keyToDB(p.PendingKey),
		p.CreatedAt,
		p.LastLoginAt,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: name or email already taken", domain.ErrPrincipalExists)
		}
		return fmt.Errorf("failed to create principal: %w", err)
	}

	return nil
}

// GetByID retrieves a principal by ID.
func (s *principalStore) GetByID(ctx context.Context, id int64) (*domain.Principal, error) {
	row := s.db.conn(ctx).QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

// GetByName retrieves a principal by name.
func (s *principalStore) GetByName(ctx context.Context, name string) (*domain.Principal, error) {
	row := s.db.conn(ctx).QueryRow(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE name = $1`, name)
	return scanPrincipal(row)
}

// Update updates an existing principal. The lock holder column belongs to
// the lock store and is deliberately left out.
func (s *principalStore) Update(ctx context.Context, p *domain.Principal) error {
	query := `
		UPDATE principals
		SET email = $1, quota_bytes = $2, max_repo_count = $3, ssh_key = $4, pending_ssh_key = $5, last_login_at = $6
		WHERE id = $7
	`

	tag, err := s.db.conn(ctx).Exec(ctx, query,
		p.Email,
		p.QuotaBytes,
		p.MaxRepoCount,
		keyToDB(p.Key),
		keyToDB(p.PendingKey),
		p.LastLoginAt,
		p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email already taken", domain.ErrPrincipalExists)
		}
		return fmt.Errorf("failed to update principal: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrPrincipalNotFound
	}
	return nil
}

// Delete deletes a principal by ID.
func (s *principalStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.conn(ctx).Exec(ctx, `DELETE FROM principals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPrincipalNotFound
	}
	return nil
}

// List returns all principals ordered by name.
func (s *principalStore) List(ctx context.Context) ([]*domain.Principal, error) {
	rows, err := s.db.conn(ctx).Query(ctx,
		`SELECT `+principalColumns+` FROM principals ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var principals []*domain.Principal
	for rows.Next() {
		p, err := scanPrincipalRow(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating principals: %w", err)
	}
	return principals, nil
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*domain.Principal, error) {
	p, err := scanPrincipalRow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrPrincipalNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPrincipalRow(row rowScanner) (*domain.Principal, error) {
	p := &domain.Principal{}
	var key, pendingKey *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.QuotaBytes,
		&p.MaxRepoCount,
		&key,
		&pendingKey,
		&p.LockHolder,
		&p.CreatedAt,
		&p.LastLoginAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan principal: %w", err)
	}

	if p.Key, err = keyFromDB(key); err != nil {
		return nil, fmt.Errorf("principal %d: %w", p.ID, err)
	}
	if p.PendingKey, err = keyFromDB(pendingKey); err != nil {
		return nil, fmt.Errorf("principal %d: %w", p.ID, err)
	}

	return p, nil
}

// Ensure principalStore implements ledger.PrincipalStore.
var _ ledger.PrincipalStore = (*principalStore)(nil)
