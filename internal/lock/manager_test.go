package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// fakeLockStore keeps holder values in memory with CAS semantics.
type fakeLockStore struct {
	mu      sync.Mutex
	holders map[string]int
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{holders: map[string]int{}}
}

func lockKey(entity ledger.LockEntity, id int64) string {
	return string(entity) + "/" + string(rune('0'+id))
}

func (s *fakeLockStore) Holder(_ context.Context, entity ledger.LockEntity, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holders[lockKey(entity, id)], nil
}

func (s *fakeLockStore) TryClaim(_ context.Context, entity ledger.LockEntity, id int64, pid, expected int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := lockKey(entity, id)
	if s.holders[key] != expected {
		return false, nil
	}
	s.holders[key] = pid
	return true, nil
}

func (s *fakeLockStore) Release(_ context.Context, entity ledger.LockEntity, id int64, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := lockKey(entity, id)
	if s.holders[key] == pid {
		s.holders[key] = 0
	}
	return nil
}

func newTestManager(store ledger.LockStore, pid int, alive func(int) bool) *Manager {
	m := NewManager(store, config.LockConfig{
		Timeout:      200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, zerolog.Nop())
	m.pid = func() int { return pid }
	if alive != nil {
		m.alive = alive
	}
	return m
}

func TestAcquireFreeLock(t *testing.T) {
	store := newFakeLockStore()
	m := newTestManager(store, 100, nil)

	guard, err := m.Acquire(context.Background(), ledger.LockRepository, 1, "repository fotos")
	require.NoError(t, err)

	holder, err := store.Holder(context.Background(), ledger.LockRepository, 1)
	require.NoError(t, err)
	require.Equal(t, 100, holder)

	require.NoError(t, guard.Release(context.Background()))

	holder, err = store.Holder(context.Background(), ledger.LockRepository, 1)
	require.NoError(t, err)
	require.Equal(t, 0, holder)
}

func TestAcquireRecursive(t *testing.T) {
	store := newFakeLockStore()
	m := newTestManager(store, 100, nil)
	ctx := context.Background()

	outer, err := m.Acquire(ctx, ledger.LockPrincipal, 1, "principal alice")
	require.NoError(t, err)

	inner, err := m.Acquire(ctx, ledger.LockPrincipal, 1, "principal alice")
	require.NoError(t, err)
	require.True(t, inner.recursive)

	// Releasing the inner guard must leave the lock held.
	require.NoError(t, inner.Release(ctx))
	holder, err := store.Holder(ctx, ledger.LockPrincipal, 1)
	require.NoError(t, err)
	require.Equal(t, 100, holder)

	require.NoError(t, outer.Release(ctx))
	holder, err = store.Holder(ctx, ledger.LockPrincipal, 1)
	require.NoError(t, err)
	require.Equal(t, 0, holder)
}

func TestAcquireReclaimsDeadHolder(t *testing.T) {
	store := newFakeLockStore()
	require.NoError(t, storeSet(store, ledger.LockRepository, 1, 666))

	m := newTestManager(store, 100, func(pid int) bool { return pid != 666 })

	start := time.Now()
	guard, err := m.Acquire(context.Background(), ledger.LockRepository, 1, "repository fotos")
	require.NoError(t, err)
	require.Less(t, time.Since(start), 50*time.Millisecond, "dead holder must be reclaimed without polling")

	holder, err := store.Holder(context.Background(), ledger.LockRepository, 1)
	require.NoError(t, err)
	require.Equal(t, 100, holder)
	require.NoError(t, guard.Release(context.Background()))
}

func TestAcquireTimesOutOnLiveHolder(t *testing.T) {
	store := newFakeLockStore()
	require.NoError(t, storeSet(store, ledger.LockRepository, 1, 666))

	m := newTestManager(store, 100, func(int) bool { return true })

	_, err := m.Acquire(context.Background(), ledger.LockRepository, 1, "repository fotos")
	require.ErrorIs(t, err, domain.ErrLockTimeout)

	var timeoutErr *domain.LockTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, 666, timeoutErr.Holder)
	require.Equal(t, "repository fotos", timeoutErr.Entity)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	store := newFakeLockStore()
	require.NoError(t, storeSet(store, ledger.LockRepository, 1, 666))

	m := newTestManager(store, 100, func(int) bool { return true })

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = store.Release(context.Background(), ledger.LockRepository, 1, 666)
	}()

	guard, err := m.Acquire(context.Background(), ledger.LockRepository, 1, "repository fotos")
	require.NoError(t, err)
	require.NoError(t, guard.Release(context.Background()))
}

func TestReleaseIdempotent(t *testing.T) {
	store := newFakeLockStore()
	m := newTestManager(store, 100, nil)
	ctx := context.Background()

	guard, err := m.Acquire(ctx, ledger.LockRepository, 1, "repository fotos")
	require.NoError(t, err)
	require.NoError(t, guard.Release(ctx))
	require.NoError(t, guard.Release(ctx))
}

func TestWithLockReleasesOnError(t *testing.T) {
	store := newFakeLockStore()
	m := newTestManager(store, 100, nil)
	ctx := context.Background()

	err := m.WithLock(ctx, ledger.LockRepository, 1, "repository fotos", func(ctx context.Context) error {
		return domain.ErrRepositoryNotFound
	})
	require.ErrorIs(t, err, domain.ErrRepositoryNotFound)

	holder, err := store.Holder(ctx, ledger.LockRepository, 1)
	require.NoError(t, err)
	require.Equal(t, 0, holder)
}

func storeSet(s *fakeLockStore, entity ledger.LockEntity, id int64, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders[lockKey(entity, id)] = pid
	return nil
}
