// Package storage manages the on-disk backup tree. The layout mirrors the
// ledger: one directory per principal under <root>/backups, one repository
// directory inside each. The service account home with the authorized keys
// artifact lives under <root>/home.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/config"
)

const (
	backupsDir = "backups"
	homeDir    = "home"

	dirMode = 0o700
)

// Tree exposes the storage layout rooted at one configured directory.
type Tree struct {
	root           string
	authorizedKeys string
	logger         zerolog.Logger
}

// NewTree creates a Tree for the configured storage root.
func NewTree(cfg config.StorageConfig, logger zerolog.Logger) *Tree {
	authorizedKeys := cfg.AuthorizedKeysPath
	if authorizedKeys == "" {
		authorizedKeys = filepath.Join(cfg.Root, homeDir, ".ssh", "authorized_keys")
	}
	return &Tree{
		root:           cfg.Root,
		authorizedKeys: authorizedKeys,
		logger:         logger.With().Str("component", "storage").Logger(),
	}
}

// Root returns the storage root directory.
func (t *Tree) Root() string { return t.root }

// BackupsRoot returns the directory holding all principal trees.
func (t *Tree) BackupsRoot() string { return filepath.Join(t.root, backupsDir) }

// PrincipalPath returns the directory of a principal's repositories.
func (t *Tree) PrincipalPath(principalName string) string {
	return filepath.Join(t.root, backupsDir, principalName)
}

// RepositoryPath returns the directory of one repository.
func (t *Tree) RepositoryPath(principalName, repositoryName string) string {
	return filepath.Join(t.root, backupsDir, principalName, repositoryName)
}

// AuthorizedKeysPath returns where the authorized keys artifact is written.
func (t *Tree) AuthorizedKeysPath() string { return t.authorizedKeys }

// Init creates the top-level layout. Existing directories are left alone.
func (t *Tree) Init() error {
	for _, dir := range []string{
		t.BackupsRoot(),
		filepath.Dir(t.authorizedKeys),
	} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// CreatePrincipalDir creates the directory tree of a new principal. Fails if
// it already exists, which would indicate leftovers of a deleted principal.
func (t *Tree) CreatePrincipalDir(principalName string) error {
	path := t.PrincipalPath(principalName)
	if err := os.Mkdir(path, dirMode); err != nil {
		return fmt.Errorf("failed to create principal directory %s: %w", path, err)
	}
	return nil
}

// DeletePrincipalDir removes the directory tree of a principal including all
// repository data.
func (t *Tree) DeletePrincipalDir(principalName string) error {
	path := t.PrincipalPath(principalName)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete principal directory %s: %w", path, err)
	}
	return nil
}

// CreateRepositoryDir creates the directory of a new repository.
func (t *Tree) CreateRepositoryDir(principalName, repositoryName string) error {
	path := t.RepositoryPath(principalName, repositoryName)
	if err := os.Mkdir(path, dirMode); err != nil {
		return fmt.Errorf("failed to create repository directory %s: %w", path, err)
	}
	return nil
}

// DeleteRepositoryDir removes a repository directory including all backup
// data.
func (t *Tree) DeleteRepositoryDir(principalName, repositoryName string) error {
	path := t.RepositoryPath(principalName, repositoryName)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete repository directory %s: %w", path, err)
	}
	return nil
}
