package storage

import (
	"fmt"
	"os"

	"github.com/borgvault/borgvault/internal/domain"
)

// Check verifies that the ledger and the backup tree agree: every principal
// and repository row has its directory, and no directory exists without a
// row. repos maps principal IDs to their repositories. The first drift found
// is returned as a StorageInconsistencyError and no session should be served
// until an operator resolves it.
func (t *Tree) Check(principals []*domain.Principal, repos map[int64][]*domain.Repository) error {
	known := make(map[string]*domain.Principal, len(principals))
	for _, p := range principals {
		known[p.Name] = p
	}

	entries, err := os.ReadDir(t.BackupsRoot())
	if err != nil {
		return fmt.Errorf("failed to read backup tree: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			return &domain.StorageInconsistencyError{
				Detail: fmt.Sprintf("unexpected file %q in backup tree", name),
			}
		}
		p, ok := known[name]
		if !ok {
			return &domain.StorageInconsistencyError{
				Detail: fmt.Sprintf("directory %q has no principal", name),
			}
		}
		seen[name] = true

		if err := t.checkPrincipal(p, repos[p.ID]); err != nil {
			return err
		}
	}

	for _, p := range principals {
		if !seen[p.Name] {
			return &domain.StorageInconsistencyError{
				Detail: fmt.Sprintf("principal %q has no directory", p.Name),
			}
		}
	}
	return nil
}

func (t *Tree) checkPrincipal(p *domain.Principal, repos []*domain.Repository) error {
	known := make(map[string]bool, len(repos))
	for _, r := range repos {
		known[r.Name] = true
	}

	if len(repos) > p.MaxRepoCount {
		return &domain.StorageInconsistencyError{
			Detail: fmt.Sprintf("principal %q owns %d repositories, limit is %d",
				p.Name, len(repos), p.MaxRepoCount),
		}
	}

	entries, err := os.ReadDir(t.PrincipalPath(p.Name))
	if err != nil {
		return fmt.Errorf("failed to read principal directory of %q: %w", p.Name, err)
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			return &domain.StorageInconsistencyError{
				Detail: fmt.Sprintf("unexpected file %q in directory of principal %q", name, p.Name),
			}
		}
		if !known[name] {
			return &domain.StorageInconsistencyError{
				Detail: fmt.Sprintf("directory %q of principal %q has no repository", name, p.Name),
			}
		}
		seen[name] = true
	}

	for _, r := range repos {
		if !seen[r.Name] {
			return &domain.StorageInconsistencyError{
				Detail: fmt.Sprintf("repository %q of principal %q has no directory", r.Name, p.Name),
			}
		}
	}
	return nil
}
