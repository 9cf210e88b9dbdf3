// Package service orchestrates principal and repository lifecycle: ledger
// rows, storage directories, audit entries and the authorized keys artifact
// always change together here.
package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/audit"
	"github.com/borgvault/borgvault/internal/authkeys"
	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
	"github.com/borgvault/borgvault/internal/lock"
	"github.com/borgvault/borgvault/internal/quota"
	"github.com/borgvault/borgvault/internal/storage"
)

// Service bundles the lifecycle operations shared by the shell and the
// admin commands.
type Service struct {
	cfg      *config.Config
	stores   *ledger.Stores
	locks    *lock.Manager
	tree     *storage.Tree
	trail    *audit.Trail
	quota    *quota.Manager
	artifact *authkeys.Generator
	logger   zerolog.Logger
}

// New creates a Service.
func New(cfg *config.Config, stores *ledger.Stores, locks *lock.Manager, tree *storage.Tree, trail *audit.Trail, quotas *quota.Manager, artifact *authkeys.Generator, logger zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		stores:   stores,
		locks:    locks,
		tree:     tree,
		trail:    trail,
		quota:    quotas,
		artifact: artifact,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// Quota exposes the quota manager for quota changes.
func (s *Service) Quota() *quota.Manager { return s.quota }

// Trail exposes the audit trail for queries.
func (s *Service) Trail() *audit.Trail { return s.trail }

// RegenerateArtifact rewrites the authorized keys artifact from the ledger.
func (s *Service) RegenerateArtifact(ctx context.Context) error {
	return s.artifact.Write(ctx)
}

// CreatePrincipal creates a principal with its storage directory. Zero
// quota or repository count fall back to the configured defaults.
func (s *Service) CreatePrincipal(ctx context.Context, name, email string, quotaBytes int64, maxRepos int) (*domain.Principal, error) {
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	if quotaBytes <= 0 {
		quotaBytes = s.cfg.Service.DefaultPrincipalQuota
	}
	if maxRepos <= 0 {
		maxRepos = s.cfg.Service.MaxRepoCount
	}

	principal := domain.NewPrincipal(name, email, quotaBytes, maxRepos)

	if err := s.tree.CreatePrincipalDir(name); err != nil {
		return nil, err
	}
	err := s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.stores.Principals.Create(ctx, principal); err != nil {
			return err
		}
		return s.trail.Principal(ctx, principal.ID, domain.OpCreatePrincipal,
			fmt.Sprintf("created principal %s <%s>, quota %d bytes", name, email, quotaBytes))
	})
	if err != nil {
		if dirErr := s.tree.DeletePrincipalDir(name); dirErr != nil {
			s.logger.Error().Err(dirErr).Str("principal", name).Msg("failed to roll back principal directory")
		}
		return nil, err
	}
	return principal, nil
}

// DeletePrincipal removes a principal, its repositories and all stored
// data. The audit trail keeps the entries; they outlive the entity.
func (s *Service) DeletePrincipal(ctx context.Context, principal *domain.Principal) error {
	// Reverse creation order: storage first, then log entry and row. A crash
	// in between leaves a row without a directory, which the startup
	// consistency check reports.
	err := s.locks.WithLock(ctx, ledger.LockPrincipal, principal.ID, "principal "+principal.Name,
		func(ctx context.Context) error {
			if err := s.tree.DeletePrincipalDir(principal.Name); err != nil {
				return err
			}
			return s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
				if err := s.trail.Principal(ctx, principal.ID, domain.OpDeletePrincipal,
					"deleted principal "+principal.Name); err != nil {
					return err
				}
				return s.stores.Principals.Delete(ctx, principal.ID)
			})
		})
	if err != nil {
		return err
	}
	return s.artifact.Write(ctx)
}

// CreateRepository creates a repository under the principal's lock. The
// count limit and the quota hierarchy are checked against the locked state,
// so two concurrent creations cannot oversubscribe either.
func (s *Service) CreateRepository(ctx context.Context, principal *domain.Principal, name string, quotaBytes int64) (*domain.Repository, error) {
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}
	if quotaBytes <= 0 {
		quotaBytes = s.cfg.Service.DefaultRepoQuota
	}

	var repo *domain.Repository
	err := s.locks.WithLock(ctx, ledger.LockPrincipal, principal.ID, "principal "+principal.Name,
		func(ctx context.Context) error {
			count, err := s.stores.Repositories.CountByPrincipal(ctx, principal.ID)
			if err != nil {
				return err
			}
			if count >= principal.MaxRepoCount {
				return fmt.Errorf("%w: limit is %d", domain.ErrTooManyRepositories, principal.MaxRepoCount)
			}

			remaining, err := s.quota.Remaining(ctx, principal)
			if err != nil {
				return err
			}
			if quotaBytes > remaining {
				return domain.NewQuotaTooLarge(quotaBytes, remaining)
			}

			repo = domain.NewRepository(principal.ID, name, quotaBytes)
			if err := s.tree.CreateRepositoryDir(principal.Name, name); err != nil {
				return err
			}
			err = s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
				if err := s.stores.Repositories.Create(ctx, repo); err != nil {
					return err
				}
				return s.trail.Repository(ctx, repo, domain.OpCreateRepository,
					fmt.Sprintf("created repository %s, quota %d bytes", name, quotaBytes))
			})
			if err != nil {
				if dirErr := s.tree.DeleteRepositoryDir(principal.Name, name); dirErr != nil {
					s.logger.Error().Err(dirErr).Str("repository", name).Msg("failed to roll back repository directory")
				}
				return err
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// DeleteRepository removes a repository and its stored data in reverse
// creation order: directory first, then log entry and row.
func (s *Service) DeleteRepository(ctx context.Context, principal *domain.Principal, repo *domain.Repository) error {
	err := s.locks.WithLock(ctx, ledger.LockPrincipal, principal.ID, "principal "+principal.Name,
		func(ctx context.Context) error {
			return s.locks.WithLock(ctx, ledger.LockRepository, repo.ID, "repository "+repo.Name,
				func(ctx context.Context) error {
					if err := s.tree.DeleteRepositoryDir(principal.Name, repo.Name); err != nil {
						return err
					}
					return s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
						if err := s.trail.Repository(ctx, repo, domain.OpDeleteRepository,
							"deleted repository "+repo.Name); err != nil {
							return err
						}
						return s.stores.Repositories.Delete(ctx, repo.ID)
					})
				})
		})
	if err != nil {
		return err
	}
	return s.artifact.Write(ctx)
}

// SetPrincipalKey installs a new management key. The previous key stays
// valid as the pending key until the principal proves the new one works by
// logging in with it.
func (s *Service) SetPrincipalKey(ctx context.Context, principal *domain.Principal, keyLine string) error {
	key, err := domain.ParseSSHKey(keyLine)
	if err != nil {
		return err
	}
	if key.Equal(principal.Key) {
		return fmt.Errorf("%w: this key is already installed", domain.ErrKeysIdentical)
	}

	previous := principal.Key
	principal.Key = key
	if previous != nil {
		principal.PendingKey = previous
	}

	err = s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.stores.Principals.Update(ctx, principal); err != nil {
			return err
		}
		return s.trail.Principal(ctx, principal.ID, domain.OpPrincipalKeySet,
			fmt.Sprintf("installed management key %q (%s)", key.Comment(), key.Fingerprint()))
	})
	if err != nil {
		return err
	}
	return s.artifact.Write(ctx)
}

// RepositoryKeyKind selects which repository key slot to change.
type RepositoryKeyKind int

const (
	// KeyAppend is the append-only serve key slot.
	KeyAppend RepositoryKeyKind = iota

	// KeyReadWrite is the full-access serve key slot.
	KeyReadWrite
)

// SetRepositoryKey installs a serve key into one slot. An empty line clears
// the slot. The two slots must never carry the same key material; the tier
// distinction would be meaningless.
func (s *Service) SetRepositoryKey(ctx context.Context, repo *domain.Repository, kind RepositoryKeyKind, keyLine string) error {
	var key *domain.SSHKey
	if keyLine != "" {
		parsed, err := domain.ParseSSHKey(keyLine)
		if err != nil {
			return err
		}
		key = parsed
	}

	switch kind {
	case KeyAppend:
		if key != nil && key.Equal(repo.ReadWriteKey) {
			return domain.ErrKeysIdentical
		}
		repo.AppendKey = key
	case KeyReadWrite:
		if key != nil && key.Equal(repo.AppendKey) {
			return domain.ErrKeysIdentical
		}
		repo.ReadWriteKey = key
	}

	data := "cleared serve key"
	if key != nil {
		data = fmt.Sprintf("installed serve key %q (%s)", key.Comment(), key.Fingerprint())
	}

	err := s.stores.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.stores.Repositories.Update(ctx, repo); err != nil {
			return err
		}
		return s.trail.Repository(ctx, repo, domain.OpRepositoryKeySet, data)
	})
	if err != nil {
		return err
	}
	return s.artifact.Write(ctx)
}
