// Package quota enforces the two-level quota hierarchy: repository quotas
// never sum past their owner's quota, and a repository quota never drops
// below the bytes already stored. All mutations run under the owner's lock
// so concurrent changes to sibling repositories cannot oversubscribe the
// principal.
package quota

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/audit"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
	"github.com/borgvault/borgvault/internal/lock"
	"github.com/borgvault/borgvault/internal/storage"
)

// Manager validates and applies quota changes.
type Manager struct {
	principals   ledger.PrincipalStore
	repositories ledger.RepositoryStore
	tx           ledger.TxManager
	locks        *lock.Manager
	tree         *storage.Tree
	trail        *audit.Trail
	logger       zerolog.Logger
}

// NewManager creates a quota manager.
func NewManager(stores *ledger.Stores, locks *lock.Manager, tree *storage.Tree, trail *audit.Trail, logger zerolog.Logger) *Manager {
	return &Manager{
		principals:   stores.Principals,
		repositories: stores.Repositories,
		tx:           stores.Tx,
		locks:        locks,
		tree:         tree,
		trail:        trail,
		logger:       logger.With().Str("component", "quota").Logger(),
	}
}

// Allocated sums the quotas of the given repositories.
func Allocated(repos []*domain.Repository) int64 {
	var sum int64
	for _, r := range repos {
		sum += r.QuotaBytes
	}
	return sum
}

// SetRepositoryQuota changes the quota of one repository. The owner's lock
// is taken before the repository's so sibling changes serialize on the
// principal; rejections name the exact boundary value that would have been
// accepted.
func (m *Manager) SetRepositoryQuota(ctx context.Context, principal *domain.Principal, repo *domain.Repository, proposed int64) error {
	if proposed <= 0 {
		return &domain.QuotaViolationError{Proposed: proposed, Reason: "quota must be positive"}
	}

	return m.locks.WithLock(ctx, ledger.LockPrincipal, principal.ID, "principal "+principal.Name,
		func(ctx context.Context) error {
			return m.locks.WithLock(ctx, ledger.LockRepository, repo.ID, "repository "+repo.Name,
				func(ctx context.Context) error {
					return m.setRepositoryQuotaLocked(ctx, principal, repo, proposed)
				})
		})
}

func (m *Manager) setRepositoryQuotaLocked(ctx context.Context, principal *domain.Principal, repo *domain.Repository, proposed int64) error {
	previous := repo.QuotaBytes
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		siblings, err := m.repositories.ListByPrincipal(ctx, principal.ID)
		if err != nil {
			return err
		}

		// The cap is checked before the usage floor; a proposal violating
		// both reports the maximum.
		allocatedOthers := Allocated(siblings)
		for _, s := range siblings {
			if s.ID == repo.ID {
				allocatedOthers -= s.QuotaBytes
			}
		}
		if max := principal.QuotaBytes - allocatedOthers; proposed > max {
			return domain.NewQuotaTooLarge(proposed, max)
		}

		used, err := m.tree.Usage(m.tree.RepositoryPath(principal.Name, repo.Name))
		if err != nil {
			return err
		}
		if proposed < used {
			return domain.NewQuotaTooSmall(proposed, used)
		}

		repo.QuotaBytes = proposed
		if err := m.repositories.Update(ctx, repo); err != nil {
			return err
		}
		return m.trail.Repository(ctx, repo, domain.OpQuotaChange,
			fmt.Sprintf("repository %s quota %d -> %d bytes", repo.Name, previous, proposed))
	})
	if err != nil {
		repo.QuotaBytes = previous
		return err
	}

	// Stamp the engine-enforced quota; takes effect with the next session.
	if err := m.tree.SetStorageQuota(m.tree.RepositoryPath(principal.Name, repo.Name), proposed); err != nil {
		m.logger.Error().Err(err).Str("repository", repo.Name).Msg("failed to stamp storage quota")
	}
	return nil
}

// SetPrincipalQuota changes the quota of a principal. The proposal may not
// drop below the quota already allocated to the principal's repositories.
func (m *Manager) SetPrincipalQuota(ctx context.Context, principal *domain.Principal, proposed int64) error {
	if proposed <= 0 {
		return &domain.QuotaViolationError{Proposed: proposed, Reason: "quota must be positive"}
	}

	return m.locks.WithLock(ctx, ledger.LockPrincipal, principal.ID, "principal "+principal.Name,
		func(ctx context.Context) error {
			previous := principal.QuotaBytes
			err := m.tx.WithTx(ctx, func(ctx context.Context) error {
				repos, err := m.repositories.ListByPrincipal(ctx, principal.ID)
				if err != nil {
					return err
				}
				if allocated := Allocated(repos); proposed < allocated {
					return NewQuotaBelowAllocation(proposed, allocated)
				}

				principal.QuotaBytes = proposed
				if err := m.principals.Update(ctx, principal); err != nil {
					return err
				}
				return m.trail.Principal(ctx, principal.ID, domain.OpQuotaChange,
					fmt.Sprintf("principal %s quota %d -> %d bytes", principal.Name, previous, proposed))
			})
			if err != nil {
				principal.QuotaBytes = previous
			}
			return err
		})
}

// NewQuotaBelowAllocation reports a principal quota proposal smaller than
// the sum already handed out to repositories.
func NewQuotaBelowAllocation(proposed, allocated int64) *domain.QuotaViolationError {
	return &domain.QuotaViolationError{
		Proposed:     proposed,
		MinPermitted: allocated,
		Reason:       "proposed quota is below the allocated repository quotas",
	}
}

// Remaining returns how many bytes of the principal quota are not yet
// allocated to repositories.
func (m *Manager) Remaining(ctx context.Context, principal *domain.Principal) (int64, error) {
	repos, err := m.repositories.ListByPrincipal(ctx, principal.ID)
	if err != nil {
		return 0, err
	}
	return principal.QuotaBytes - Allocated(repos), nil
}
