package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// principalStore implements ledger.PrincipalStore for SQLite.
type principalStore struct {
	db *DB
}

// NewPrincipalStore creates a new SQLite principal store.
func NewPrincipalStore(db *DB) ledger.PrincipalStore {
	return &principalStore{db: db}
}

const principalColumns = `id, name, email, quota_bytes, max_repo_count, ssh_key, pending_ssh_key, lock_holder, created_at, last_login_at`

// Create creates a new principal.
func (s *principalStore) Create(ctx context.Context, p *domain.Principal) error {
	query := `
		INSERT INTO principals (name, email, quota_bytes, max_repo_count, ssh_key, pending_ssh_key, lock_holder, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`

	result, err := s.db.conn(ctx).ExecContext(ctx, query,
		p.Name,
		p.Email,
		p.QuotaBytes,
		p.MaxRepoCount,
		keyToDB(p.Key),
		keyToDB(p.PendingKey),
		timeToDB(p.CreatedAt),
		timePtrToDB(p.LastLoginAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: name or email already taken", domain.ErrPrincipalExists)
		}
		return fmt.Errorf("failed to create principal: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	p.ID = id

	return nil
}

// GetByID retrieves a principal by ID.
func (s *principalStore) GetByID(ctx context.Context, id int64) (*domain.Principal, error) {
	row := s.db.conn(ctx).QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
	return scanPrincipal(row)
}

// GetByName retrieves a principal by name.
func (s *principalStore) GetByName(ctx context.Context, name string) (*domain.Principal, error) {
	row := s.db.conn(ctx).QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE name = ?`, name)
	return scanPrincipal(row)
}

// Update updates an existing principal. The lock holder column belongs to
// the lock store and is deliberately left out.
func (s *principalStore) Update(ctx context.Context, p *domain.Principal) error {
	query := `
		UPDATE principals
		SET email = ?, quota_bytes = ?, max_repo_count = ?, ssh_key = ?, pending_ssh_key = ?, last_login_at = ?
		WHERE id = ?
	`

	result, err := s.db.conn(ctx).ExecContext(ctx, query,
		p.Email,
		p.QuotaBytes,
		p.MaxRepoCount,
		keyToDB(p.Key),
		keyToDB(p.PendingKey),
		timePtrToDB(p.LastLoginAt),
		p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email already taken", domain.ErrPrincipalExists)
		}
		return fmt.Errorf("failed to update principal: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrPrincipalNotFound
	}
	return nil
}

// Delete deletes a principal by ID.
func (s *principalStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.conn(ctx).ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete principal: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrPrincipalNotFound
	}
	return nil
}

// List returns all principals ordered by name.
func (s *principalStore) List(ctx context.Context) ([]*domain.Principal, error) {
	rows, err := s.db.conn(ctx).QueryContext(ctx,
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

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row *sql.Row) (*domain.Principal, error) {
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
	var key, pendingKey, lastLogin sql.NullString
	var createdAt string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.QuotaBytes,
		&p.MaxRepoCount,
		&key,
		&pendingKey,
		&p.LockHolder,
		&createdAt,
		&lastLogin,
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
	if p.CreatedAt, err = timeFromDB(createdAt); err != nil {
		return nil, fmt.Errorf("principal %d: %w", p.ID, err)
	}
	if p.LastLoginAt, err = timePtrFromDB(lastLogin); err != nil {
		return nil, fmt.Errorf("principal %d: %w", p.ID, err)
	}

	return p, nil
}

// Ensure principalStore implements ledger.PrincipalStore.
var _ ledger.PrincipalStore = (*principalStore)(nil)
