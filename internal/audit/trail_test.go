package audit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// fakeLogStore keeps entries in memory.
type fakeLogStore struct {
	entries []*domain.LogEntry
	nextID  int64
}

func (s *fakeLogStore) Append(_ context.Context, e *domain.LogEntry) error {
	s.nextID++
	e.ID = s.nextID
	copied := *e
	s.entries = append(s.entries, &copied)
	return nil
}

func (s *fakeLogStore) List(_ context.Context, f ledger.LogFilter) ([]*domain.LogEntry, error) {
	var out []*domain.LogEntry
	for _, e := range s.entries {
		if f.AdminOnly && (e.PrincipalID != nil || e.RepositoryID != nil) {
			continue
		}
		if f.PrincipalID != nil && (e.PrincipalID == nil || *e.PrincipalID != *f.PrincipalID) {
			continue
		}
		if f.RepositoryID != nil && (e.RepositoryID == nil || *e.RepositoryID != *f.RepositoryID) {
			continue
		}
		if f.Operation != nil && e.Operation != *f.Operation {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeLogStore) LastForRepository(_ context.Context, repositoryID int64, op domain.Operation) (*domain.LogEntry, error) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.RepositoryID != nil && *e.RepositoryID == repositoryID && e.Operation == op {
			return e, nil
		}
	}
	return nil, nil
}

func (s *fakeLogStore) Acknowledge(_ context.Context, ids []int64) error {
	marked := map[int64]bool{}
	for _, id := range ids {
		marked[id] = true
	}
	for _, e := range s.entries {
		if marked[e.ID] {
			e.Acknowledged = true
		}
	}
	return nil
}

func (s *fakeLogStore) PruneAcknowledged(_ context.Context, cutoff time.Time, keepOp domain.Operation) (int64, error) {
	keep := map[int64]bool{}
	lastPerRepo := map[int64]int64{}
	for _, e := range s.entries {
		if e.Operation == keepOp && e.RepositoryID != nil {
			lastPerRepo[*e.RepositoryID] = e.ID
		}
	}
	for _, id := range lastPerRepo {
		keep[id] = true
	}

	var kept []*domain.LogEntry
	var deleted int64
	for _, e := range s.entries {
		if e.Acknowledged && e.CreatedAt.Before(cutoff) && !keep[e.ID] {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

var _ ledger.LogStore = (*fakeLogStore)(nil)

func newTestTrail(store *fakeLogStore, now time.Time) *Trail {
	trail := NewTrail(store, zerolog.Nop())
	trail.now = func() time.Time { return now }
	return trail
}

func TestRepositoryEntryCarriesBothScopes(t *testing.T) {
	store := &fakeLogStore{}
	trail := newTestTrail(store, time.Now().UTC())
	ctx := context.Background()

	repo := &domain.Repository{ID: 7, PrincipalID: 3, Name: "fotos"}
	require.NoError(t, trail.Repository(ctx, repo, domain.OpServeSuccess, "session done"))

	principalID := int64(3)
	entries, err := trail.Entries(ctx, ledger.LogFilter{PrincipalID: &principalID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(7), *entries[0].RepositoryID)
}

func TestAdminEntriesUnscoped(t *testing.T) {
	store := &fakeLogStore{}
	trail := newTestTrail(store, time.Now().UTC())
	ctx := context.Background()

	require.NoError(t, trail.Admin(ctx, domain.OpMaintenance, "retention pass"))
	require.NoError(t, trail.Principal(ctx, 1, domain.OpCreatePrincipal, "created alice"))

	entries, err := trail.Entries(ctx, ledger.LogFilter{AdminOnly: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.OpMaintenance, entries[0].Operation)
}

func TestStaleRepositories(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	window := 48 * time.Hour
	store := &fakeLogStore{}
	trail := newTestTrail(store, now)
	ctx := context.Background()

	fresh := &domain.Repository{ID: 1, PrincipalID: 1, Name: "fresh", CreatedAt: now.Add(-72 * time.Hour)}
	stale := &domain.Repository{ID: 2, PrincipalID: 1, Name: "stale", CreatedAt: now.Add(-72 * time.Hour)}
	silent := &domain.Repository{ID: 3, PrincipalID: 1, Name: "silent", CreatedAt: now.Add(-72 * time.Hour)}
	young := &domain.Repository{ID: 4, PrincipalID: 1, Name: "young", CreatedAt: now.Add(-1 * time.Hour)}

	// Recent backup on fresh, an old one on stale, none on silent.
	trail.now = func() time.Time { return now.Add(-2 * time.Hour) }
	require.NoError(t, trail.Repository(ctx, fresh, domain.OpServeModifySuccess, "backup"))
	trail.now = func() time.Time { return now.Add(-80 * time.Hour) }
	require.NoError(t, trail.Repository(ctx, stale, domain.OpServeModifySuccess, "backup"))
	trail.now = func() time.Time { return now }

	got, err := trail.StaleRepositories(ctx, []*domain.Repository{fresh, stale, silent, young}, window)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "stale", got[0].Name)
	require.Equal(t, "silent", got[1].Name)
}

func TestPruneKeepsLastBackupEntry(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store := &fakeLogStore{}
	trail := newTestTrail(store, now.Add(-100*24*time.Hour))
	ctx := context.Background()

	repo := &domain.Repository{ID: 1, PrincipalID: 1, Name: "fotos"}
	require.NoError(t, trail.Repository(ctx, repo, domain.OpServeBegin, "session start"))
	require.NoError(t, trail.Repository(ctx, repo, domain.OpServeModifySuccess, "backup"))
	require.NoError(t, trail.Acknowledge(ctx, []int64{1, 2}))

	trail.now = func() time.Time { return now }
	deleted, err := trail.Prune(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	last, err := trail.LastRepositoryEntry(ctx, 1, domain.OpServeModifySuccess)
	require.NoError(t, err)
	require.NotNil(t, last, "staleness detection needs the last backup entry")
}
