package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"

	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tree := NewTree(config.StorageConfig{Root: t.TempDir()}, zerolog.Nop())
	require.NoError(t, tree.Init())
	return tree
}

func TestTreeLayout(t *testing.T) {
	tree := newTestTree(t)

	require.Equal(t, filepath.Join(tree.Root(), "backups"), tree.BackupsRoot())
	require.Equal(t, filepath.Join(tree.Root(), "backups", "alice"), tree.PrincipalPath("alice"))
	require.Equal(t, filepath.Join(tree.Root(), "backups", "alice", "fotos"), tree.RepositoryPath("alice", "fotos"))
	require.Equal(t, filepath.Join(tree.Root(), "home", ".ssh", "authorized_keys"), tree.AuthorizedKeysPath())
}

func TestAuthorizedKeysOverride(t *testing.T) {
	tree := NewTree(config.StorageConfig{
		Root:               "/var/lib/borgvault",
		AuthorizedKeysPath: "/home/backup/.ssh/authorized_keys",
	}, zerolog.Nop())
	require.Equal(t, "/home/backup/.ssh/authorized_keys", tree.AuthorizedKeysPath())
}

func TestPrincipalDirLifecycle(t *testing.T) {
	tree := newTestTree(t)

	require.NoError(t, tree.CreatePrincipalDir("alice"))
	require.DirExists(t, tree.PrincipalPath("alice"))

	// Leftovers must not be adopted silently.
	require.Error(t, tree.CreatePrincipalDir("alice"))

	require.NoError(t, tree.CreateRepositoryDir("alice", "fotos"))
	require.NoError(t, tree.DeletePrincipalDir("alice"))
	require.NoDirExists(t, tree.PrincipalPath("alice"))
}

func TestUsage(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.CreatePrincipalDir("alice"))
	require.NoError(t, tree.CreateRepositoryDir("alice", "fotos"))

	repo := tree.RepositoryPath("alice", "fotos")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "data", "0"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "data", "0", "0"), make([]byte, 1000), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "config"), make([]byte, 24), 0o600))

	usage, err := tree.Usage(repo)
	require.NoError(t, err)
	require.Equal(t, int64(1024), usage)
}

func TestUsageMissingPath(t *testing.T) {
	tree := newTestTree(t)

	usage, err := tree.Usage(tree.RepositoryPath("alice", "gone"))
	require.NoError(t, err)
	require.Zero(t, usage)
}

func TestTransactionCounter(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.CreatePrincipalDir("alice"))
	require.NoError(t, tree.CreateRepositoryDir("alice", "fotos"))
	repo := tree.RepositoryPath("alice", "fotos")

	counter, err := tree.TransactionCounter(repo)
	require.NoError(t, err)
	require.Zero(t, counter, "uninitialized repository has no transactions")

	for _, name := range []string{"index.5", "hints.5", "config", "README"} {
		require.NoError(t, os.WriteFile(filepath.Join(repo, name), nil, 0o600))
	}
	counter, err = tree.TransactionCounter(repo)
	require.NoError(t, err)
	require.Equal(t, int64(5), counter)

	// A newer transaction may leave only the hints file behind briefly.
	require.NoError(t, os.WriteFile(filepath.Join(repo, "hints.12"), nil, 0o600))
	counter, err = tree.TransactionCounter(repo)
	require.NoError(t, err)
	require.Equal(t, int64(12), counter)
}

func TestSetStorageQuota(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.CreatePrincipalDir("alice"))
	require.NoError(t, tree.CreateRepositoryDir("alice", "fotos"))
	repo := tree.RepositoryPath("alice", "fotos")

	// No config file yet: the stamp is a no-op.
	require.NoError(t, tree.SetStorageQuota(repo, 100*domain.GB))

	configPath := filepath.Join(repo, "config")
	require.NoError(t, os.WriteFile(configPath, []byte("[repository]\nversion = 1\nsegments_per_dir = 1000\n"), 0o600))

	require.NoError(t, tree.SetStorageQuota(repo, 100*domain.GB))

	cfg, err := ini.Load(configPath)
	require.NoError(t, err)
	require.Equal(t, "100000000000", cfg.Section("repository").Key("storage_quota").String())
	require.Equal(t, "1", cfg.Section("repository").Key("version").String(), "existing keys survive the stamp")
}

func TestCheckConsistent(t *testing.T) {
	tree := newTestTree(t)
	require.NoError(t, tree.CreatePrincipalDir("alice"))
	require.NoError(t, tree.CreateRepositoryDir("alice", "fotos"))

	alice := &domain.Principal{ID: 1, Name: "alice", MaxRepoCount: 3}
	repos := map[int64][]*domain.Repository{
		1: {{ID: 1, PrincipalID: 1, Name: "fotos"}},
	}
	require.NoError(t, tree.Check([]*domain.Principal{alice}, repos))
}

func TestCheckDetectsDrift(t *testing.T) {
	alice := &domain.Principal{ID: 1, Name: "alice", MaxRepoCount: 3}

	t.Run("missing principal directory", func(t *testing.T) {
		tree := newTestTree(t)
		err := tree.Check([]*domain.Principal{alice}, nil)
		require.ErrorIs(t, err, domain.ErrStorageInconsistency)
	})

	t.Run("orphan principal directory", func(t *testing.T) {
		tree := newTestTree(t)
		require.NoError(t, tree.CreatePrincipalDir("ghost"))
		err := tree.Check(nil, nil)
		require.ErrorIs(t, err, domain.ErrStorageInconsistency)
	})

	t.Run("missing repository directory", func(t *testing.T) {
		tree := newTestTree(t)
		require.NoError(t, tree.CreatePrincipalDir("alice"))
		repos := map[int64][]*domain.Repository{
			1: {{ID: 1, PrincipalID: 1, Name: "fotos"}},
		}
		err := tree.Check([]*domain.Principal{alice}, repos)
		require.ErrorIs(t, err, domain.ErrStorageInconsistency)
	})

	t.Run("orphan repository directory", func(t *testing.T) {
		tree := newTestTree(t)
		require.NoError(t, tree.CreatePrincipalDir("alice"))
		require.NoError(t, tree.CreateRepositoryDir("alice", "ghost"))
		err := tree.Check([]*domain.Principal{alice}, map[int64][]*domain.Repository{})
		require.ErrorIs(t, err, domain.ErrStorageInconsistency)
	})

	t.Run("stray file in backup tree", func(t *testing.T) {
		tree := newTestTree(t)
		require.NoError(t, os.WriteFile(filepath.Join(tree.BackupsRoot(), "stray"), nil, 0o600))
		err := tree.Check(nil, nil)
		require.ErrorIs(t, err, domain.ErrStorageInconsistency)
	})

	t.Run("repository count above limit", func(t *testing.T) {
		tree := newTestTree(t)
		limited := &domain.Principal{ID: 1, Name: "alice", MaxRepoCount: 1}
		require.NoError(t, tree.CreatePrincipalDir("alice"))
		require.NoError(t, tree.CreateRepositoryDir("alice", "a"))
		require.NoError(t, tree.CreateRepositoryDir("alice", "b"))
		repos := map[int64][]*domain.Repository{
			1: {
				{ID: 1, PrincipalID: 1, Name: "a"},
				{ID: 2, PrincipalID: 1, Name: "b"},
			},
		}
		err := tree.Check([]*domain.Principal{limited}, repos)
		require.ErrorIs(t, err, domain.ErrStorageInconsistency)
	})
}
