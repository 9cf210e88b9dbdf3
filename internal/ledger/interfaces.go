// Package ledger defines data access interfaces for the BorgVault ledger.
// These interfaces abstract database operations, allowing different backends
// (SQLite for embedded single-host deployments, PostgreSQL for centralized
// ones) while keeping the business logic clean.
package ledger

import (
	"context"
	"time"

	"github.com/borgvault/borgvault/internal/domain"
)

// =============================================================================
// Principal Store
// =============================================================================

// PrincipalStore defines the interface for principal data access.
type PrincipalStore interface {
	// Create creates a new principal and fills in its ID.
	Create(ctx context.Context, p *domain.Principal) error

	// GetByID retrieves a principal by ID.
	GetByID(ctx context.Context, id int64) (*domain.Principal, error)

	// GetByName retrieves a principal by name.
	GetByName(ctx context.Context, name string) (*domain.Principal, error)

	// Update updates an existing principal (email, quota, keys, timestamps).
	// The lock holder column is owned by LockStore and not touched here.
	Update(ctx context.Context, p *domain.Principal) error

	// Delete deletes a principal by ID.
	Delete(ctx context.Context, id int64) error

	// List returns all principals ordered by name.
	List(ctx context.Context) ([]*domain.Principal, error)
}

// =============================================================================
// Repository Store
// =============================================================================

// RepositoryStore defines the interface for repository data access.
type RepositoryStore interface {
	// Create creates a new repository and fills in its ID.
	Create(ctx context.Context, r *domain.Repository) error

	// GetByID retrieves a repository by ID.
	GetByID(ctx context.Context, id int64) (*domain.Repository, error)

	// GetByName retrieves a repository by owning principal and name.
	GetByName(ctx context.Context, principalID int64, name string) (*domain.Repository, error)

	// ListByPrincipal returns all repositories of a principal ordered by
	// name.
	ListByPrincipal(ctx context.Context, principalID int64) ([]*domain.Repository, error)

	// CountByPrincipal returns the number of repositories of a principal.
	CountByPrincipal(ctx context.Context, principalID int64) (int, error)

	// Update updates an existing repository (quota, keys, session flag).
	// The lock holder column is owned by LockStore and not touched here.
	Update(ctx context.Context, r *domain.Repository) error

	// Delete deletes a repository by ID.
	Delete(ctx context.Context, id int64) error
}

// =============================================================================
// Log Store
// =============================================================================

// LogFilter selects log entries. Zero value selects everything.
type LogFilter struct {
	// PrincipalID limits to entries scoped to this principal (directly or
	// through one of its repositories).
	PrincipalID *int64

	// RepositoryID limits to entries scoped to this repository.
	RepositoryID *int64

	// Operation limits to one operation kind.
	Operation *domain.Operation

	// AdminOnly limits to unscoped (administrative) entries.
	AdminOnly bool
}

// LogStore defines the interface for the append-only audit log.
type LogStore interface {
	// Append writes a new log entry and fills in its ID.
	Append(ctx context.Context, e *domain.LogEntry) error

	// List returns entries matching the filter, oldest first.
	List(ctx context.Context, f LogFilter) ([]*domain.LogEntry, error)

	// LastForRepository returns the most recent entry for a (repository,
	// operation) pair, or nil if none exists.
	LastForRepository(ctx context.Context, repositoryID int64, op domain.Operation) (*domain.LogEntry, error)

	// Acknowledge sets the acknowledged flag on the given entries.
	Acknowledge(ctx context.Context, ids []int64) error

	// PruneAcknowledged deletes acknowledged entries created before the
	// cutoff, keeping the most recent keepOp entry of every repository
	// regardless of age. Returns the number of deleted entries.
	PruneAcknowledged(ctx context.Context, cutoff time.Time, keepOp domain.Operation) (int64, error)
}

// =============================================================================
// Lock Store
// =============================================================================

// LockEntity names a lockable entity kind.
type LockEntity string

const (
	// LockPrincipal addresses the lock column of a principal row.
	LockPrincipal LockEntity = "principal"

	// LockRepository addresses the lock column of a repository row.
	LockRepository LockEntity = "repository"
)

// LockStore exposes the holder column of lockable entities. TryClaim and
// Release are single-statement compare-and-swap operations; they are the
// only writers of the holder column.
type LockStore interface {
	// Holder returns the pid currently recorded as lock holder, 0 if free.
	Holder(ctx context.Context, entity LockEntity, id int64) (int, error)

	// TryClaim atomically sets the holder to pid if it currently equals
	// expected. Returns false if the row was held by someone else (or does
	// not exist).
	TryClaim(ctx context.Context, entity LockEntity, id int64, pid, expected int) (bool, error)

	// Release atomically sets the holder back to 0 if it equals pid.
	Release(ctx context.Context, entity LockEntity, id int64, pid int) error
}

// =============================================================================
// Transactions
// =============================================================================

// TxManager executes a function within a single-writer transaction. Store
// methods called with the context passed to fn join that transaction.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Stores bundles all store instances of one backend.
type Stores struct {
	Principals   PrincipalStore
	Repositories RepositoryStore
	Logs         LogStore
	Locks        LockStore
	Tx           TxManager
}
