// Package lock implements advisory entity locks on top of the ledger's
// holder columns. A lock names the pid of its holder; a holder that is no
// longer alive forfeits the lock immediately, so crashed sessions never
// wedge an entity until an operator intervenes.
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// Manager acquires and releases entity locks for the current process.
type Manager struct {
	store        ledger.LockStore
	logger       zerolog.Logger
	pollInterval time.Duration
	timeout      time.Duration

	// pid and alive are swappable for tests.
	pid   func() int
	alive func(pid int) bool
}

// NewManager creates a lock manager bound to the calling process.
func NewManager(store ledger.LockStore, cfg config.LockConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		store:        store,
		logger:       logger.With().Str("component", "lock").Logger(),
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		pid:          os.Getpid,
		alive:        processAlive,
	}
}

// Guard represents a held lock. Release is idempotent; releasing a
// recursively acquired guard is a no-op so the outermost acquisition stays
// in control of the holder column.
type Guard struct {
	manager   *Manager
	entity    ledger.LockEntity
	id        int64
	recursive bool
	released  bool
}

// Release frees the lock. Safe to call more than once.
func (g *Guard) Release(ctx context.Context) error {
	if g.released || g.recursive {
		g.released = true
		return nil
	}
	g.released = true
	return g.manager.store.Release(ctx, g.entity, g.id, g.manager.pid())
}

// Acquire claims the lock on the given entity row, polling until the
// configured timeout. A lock held by this same process is granted again as
// a recursive guard. A lock whose holder is no longer alive is reclaimed
// without waiting. label names the entity in errors and logs, e.g.
// "repository fotos".
func (m *Manager) Acquire(ctx context.Context, entity ledger.LockEntity, id int64, label string) (*Guard, error) {
	pid := m.pid()
	deadline := time.Now().Add(m.timeout)
	started := time.Now()

	var lastHolder int
	for {
		holder, err := m.store.Holder(ctx, entity, id)
		if err != nil {
			return nil, err
		}
		lastHolder = holder

		switch {
		case holder == pid:
			return &Guard{manager: m, entity: entity, id: id, recursive: true}, nil

		case holder == 0:
			claimed, err := m.store.TryClaim(ctx, entity, id, pid, 0)
			if err != nil {
				return nil, err
			}
			if claimed {
				return &Guard{manager: m, entity: entity, id: id}, nil
			}
			// Lost the race; re-read the holder.

		case !m.alive(holder):
			m.logger.Warn().
				Str("entity", label).
				Int("holder", holder).
				Msg("reclaiming lock of dead process")
			claimed, err := m.store.TryClaim(ctx, entity, id, pid, holder)
			if err != nil {
				return nil, err
			}
			if claimed {
				return &Guard{manager: m, entity: entity, id: id}, nil
			}

		default:
			if time.Now().Add(m.pollInterval).After(deadline) {
				return nil, &domain.LockTimeoutError{
					Entity: label,
					Holder: lastHolder,
					Waited: time.Since(started).Round(time.Second),
				}
			}
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("lock acquisition canceled: %w", ctx.Err())
			case <-time.After(m.pollInterval):
			}
		}
	}
}

// WithLock runs fn while holding the entity lock and releases it afterwards.
func (m *Manager) WithLock(ctx context.Context, entity ledger.LockEntity, id int64, label string, fn func(ctx context.Context) error) error {
	guard, err := m.Acquire(ctx, entity, id, label)
	if err != nil {
		return err
	}
	defer func() {
		if err := guard.Release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Error().Err(err).Str("entity", label).Msg("failed to release lock")
		}
	}()
	return fn(ctx)
}
