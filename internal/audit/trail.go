// Package audit records and queries the append-only trail of gateway
// events. Every lifecycle change, serve session outcome and maintenance pass
// ends up here; the trail outlives the entities it describes.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// Trail writes and reads audit log entries.
type Trail struct {
	logs   ledger.LogStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewTrail creates a Trail on top of the given log store.
func NewTrail(logs ledger.LogStore, logger zerolog.Logger) *Trail {
	return &Trail{
		logs:   logs,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Admin records an entry scoped to no entity.
func (t *Trail) Admin(ctx context.Context, op domain.Operation, data string) error {
	return t.append(ctx, &domain.LogEntry{Operation: op, Data: data})
}

// Principal records an entry scoped to a principal.
func (t *Trail) Principal(ctx context.Context, principalID int64, op domain.Operation, data string) error {
	return t.append(ctx, &domain.LogEntry{
		PrincipalID: &principalID,
		Operation:   op,
		Data:        data,
	})
}

// Repository records an entry scoped to a repository. The owning principal
// is recorded too so principal-scoped queries see repository events.
func (t *Trail) Repository(ctx context.Context, r *domain.Repository, op domain.Operation, data string) error {
	principalID := r.PrincipalID
	repositoryID := r.ID
	return t.append(ctx, &domain.LogEntry{
		PrincipalID:  &principalID,
		RepositoryID: &repositoryID,
		Operation:    op,
		Data:         data,
	})
}

func (t *Trail) append(ctx context.Context, e *domain.LogEntry) error {
	e.CreatedAt = t.now()
	if err := t.logs.Append(ctx, e); err != nil {
		return err
	}
	t.logger.Info().
		Str("operation", e.Operation.String()).
		Str("data", e.Data).
		Msg("audit entry recorded")
	return nil
}

// Entries returns trail entries matching the filter, oldest first.
func (t *Trail) Entries(ctx context.Context, f ledger.LogFilter) ([]*domain.LogEntry, error) {
	return t.logs.List(ctx, f)
}

// Acknowledge marks the given entries as seen.
func (t *Trail) Acknowledge(ctx context.Context, ids []int64) error {
	return t.logs.Acknowledge(ctx, ids)
}

// LastRepositoryEntry returns the most recent entry of the given operation
// for a repository, or nil if none exists.
func (t *Trail) LastRepositoryEntry(ctx context.Context, repositoryID int64, op domain.Operation) (*domain.LogEntry, error) {
	return t.logs.LastForRepository(ctx, repositoryID, op)
}

// StaleRepositories filters repos down to those without a successful
// mutating serve session within the window. Repositories younger than the
// window are never stale; their owner has not had a chance to back up yet.
func (t *Trail) StaleRepositories(ctx context.Context, repos []*domain.Repository, window time.Duration) ([]*domain.Repository, error) {
	cutoff := t.now().Add(-window)

	var stale []*domain.Repository
	for _, r := range repos {
		if !r.CreatedAt.Before(cutoff) {
			continue
		}
		last, err := t.logs.LastForRepository(ctx, r.ID, domain.OpServeModifySuccess)
		if err != nil {
			return nil, err
		}
		if last == nil || last.CreatedAt.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	return stale, nil
}

// Prune deletes acknowledged entries older than the retention window and
// records the pass itself. The most recent successful mutating serve of
// every repository is always kept.
func (t *Trail) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := t.now().Add(-retention)
	deleted, err := t.logs.PruneAcknowledged(ctx, cutoff, domain.OpServeModifySuccess)
	if err != nil {
		return 0, err
	}
	t.logger.Info().Int64("deleted", deleted).Msg("pruned acknowledged audit entries")
	return deleted, nil
}
