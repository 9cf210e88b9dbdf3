// Package ledgertest provides an in-memory ledger backend for tests.
// It honors the same contracts as the real backends: CAS lock claims,
// name-ordered listings and filter semantics of the log store.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

// Store is an in-memory ledger.
type Store struct {
	mu         sync.Mutex
	principals map[int64]*domain.Principal
	repos      map[int64]*domain.Repository
	entries    []*domain.LogEntry
	holders    map[string]int
	nextID     map[string]int64
}

// New creates an empty in-memory ledger.
func New() *Store {
	return &Store{
		principals: map[int64]*domain.Principal{},
		repos:      map[int64]*domain.Repository{},
		holders:    map[string]int{},
		nextID:     map[string]int64{},
	}
}

// Stores returns the store set of this backend.
func (s *Store) Stores() *ledger.Stores {
	return &ledger.Stores{
		Principals:   &principalStore{s},
		Repositories: &repositoryStore{s},
		Logs:         &logStore{s},
		Locks:        &lockStore{s},
		Tx:           &txManager{},
	}
}

// SetHolder force-sets a lock holder, bypassing CAS semantics.
func (s *Store) SetHolder(entity ledger.LockEntity, id int64, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders[lockKey(entity, id)] = pid
}

func (s *Store) allocate(kind string) int64 {
	s.nextID[kind]++
	return s.nextID[kind]
}

func lockKey(entity ledger.LockEntity, id int64) string {
	return fmt.Sprintf("%s/%d", entity, id)
}

type principalStore struct{ s *Store }

func (p *principalStore) Create(_ context.Context, principal *domain.Principal) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for _, existing := range p.s.principals {
		if existing.Name == principal.Name || existing.Email == principal.Email {
			return fmt.Errorf("%w: name or email already taken", domain.ErrPrincipalExists)
		}
	}
	principal.ID = p.s.allocate("principal")
	p.s.principals[principal.ID] = principal
	return nil
}

func (p *principalStore) GetByID(_ context.Context, id int64) (*domain.Principal, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	principal, ok := p.s.principals[id]
	if !ok {
		return nil, domain.ErrPrincipalNotFound
	}
	return principal, nil
}

func (p *principalStore) GetByName(_ context.Context, name string) (*domain.Principal, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	for _, principal := range p.s.principals {
		if principal.Name == name {
			return principal, nil
		}
	}
	return nil, domain.ErrPrincipalNotFound
}

func (p *principalStore) Update(_ context.Context, principal *domain.Principal) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.principals[principal.ID]; !ok {
		return domain.ErrPrincipalNotFound
	}
	p.s.principals[principal.ID] = principal
	return nil
}

func (p *principalStore) Delete(_ context.Context, id int64) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.principals[id]; !ok {
		return domain.ErrPrincipalNotFound
	}
	delete(p.s.principals, id)
	for rid, r := range p.s.repos {
		if r.PrincipalID == id {
			delete(p.s.repos, rid)
		}
	}
	return nil
}

func (p *principalStore) List(_ context.Context) ([]*domain.Principal, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	out := make([]*domain.Principal, 0, len(p.s.principals))
	for _, principal := range p.s.principals {
		out = append(out, principal)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type repositoryStore struct{ s *Store }

func (r *repositoryStore) Create(_ context.Context, repo *domain.Repository) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.repos {
		if existing.PrincipalID == repo.PrincipalID && existing.Name == repo.Name {
			return fmt.Errorf("%w: %s", domain.ErrRepositoryExists, repo.Name)
		}
	}
	repo.ID = r.s.allocate("repository")
	r.s.repos[repo.ID] = repo
	return nil
}

func (r *repositoryStore) GetByID(_ context.Context, id int64) (*domain.Repository, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	repo, ok := r.s.repos[id]
	if !ok {
		return nil, domain.ErrRepositoryNotFound
	}
	return repo, nil
}

func (r *repositoryStore) GetByName(_ context.Context, principalID int64, name string) (*domain.Repository, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, repo := range r.s.repos {
		if repo.PrincipalID == principalID && repo.Name == name {
			return repo, nil
		}
	}
	return nil, domain.ErrRepositoryNotFound
}

func (r *repositoryStore) ListByPrincipal(_ context.Context, principalID int64) ([]*domain.Repository, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Repository
	for _, repo := range r.s.repos {
		if repo.PrincipalID == principalID {
			out = append(out, repo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *repositoryStore) CountByPrincipal(ctx context.Context, principalID int64) (int, error) {
	repos, err := r.ListByPrincipal(ctx, principalID)
	return len(repos), err
}

func (r *repositoryStore) Update(_ context.Context, repo *domain.Repository) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.repos[repo.ID]; !ok {
		return domain.ErrRepositoryNotFound
	}
	r.s.repos[repo.ID] = repo
	return nil
}

func (r *repositoryStore) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.repos[id]; !ok {
		return domain.ErrRepositoryNotFound
	}
	delete(r.s.repos, id)
	return nil
}

type logStore struct{ s *Store }

func (l *logStore) Append(_ context.Context, e *domain.LogEntry) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	e.ID = l.s.allocate("log")
	copied := *e
	l.s.entries = append(l.s.entries, &copied)
	return nil
}

func (l *logStore) List(_ context.Context, f ledger.LogFilter) ([]*domain.LogEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []*domain.LogEntry
	for _, e := range l.s.entries {
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

func (l *logStore) LastForRepository(_ context.Context, repositoryID int64, op domain.Operation) (*domain.LogEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for i := len(l.s.entries) - 1; i >= 0; i-- {
		e := l.s.entries[i]
		if e.RepositoryID != nil && *e.RepositoryID == repositoryID && e.Operation == op {
			return e, nil
		}
	}
	return nil, nil
}

func (l *logStore) Acknowledge(_ context.Context, ids []int64) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	marked := map[int64]bool{}
	for _, id := range ids {
		marked[id] = true
	}
	for _, e := range l.s.entries {
		if marked[e.ID] {
			e.Acknowledged = true
		}
	}
	return nil
}

func (l *logStore) PruneAcknowledged(_ context.Context, cutoff time.Time, keepOp domain.Operation) (int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	lastPerRepo := map[int64]int64{}
	for _, e := range l.s.entries {
		if e.Operation == keepOp && e.RepositoryID != nil {
			lastPerRepo[*e.RepositoryID] = e.ID
		}
	}
	keep := map[int64]bool{}
	for _, id := range lastPerRepo {
		keep[id] = true
	}

	var kept []*domain.LogEntry
	var deleted int64
	for _, e := range l.s.entries {
		if e.Acknowledged && e.CreatedAt.Before(cutoff) && !keep[e.ID] {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	l.s.entries = kept
	return deleted, nil
}

type lockStore struct{ s *Store }

func (l *lockStore) Holder(_ context.Context, entity ledger.LockEntity, id int64) (int, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.holders[lockKey(entity, id)], nil
}

func (l *lockStore) TryClaim(_ context.Context, entity ledger.LockEntity, id int64, pid, expected int) (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	key := lockKey(entity, id)
	if l.s.holders[key] != expected {
		return false, nil
	}
	l.s.holders[key] = pid
	return true, nil
}

func (l *lockStore) Release(_ context.Context, entity ledger.LockEntity, id int64, pid int) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	key := lockKey(entity, id)
	if l.s.holders[key] == pid {
		l.s.holders[key] = 0
	}
	return nil
}

type txManager struct{}

func (t *txManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
