package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/borgvault/borgvault/internal/audit"
	"github.com/borgvault/borgvault/internal/authkeys"
	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
	"github.com/borgvault/borgvault/internal/ledger/ledgertest"
	"github.com/borgvault/borgvault/internal/lock"
	"github.com/borgvault/borgvault/internal/quota"
	"github.com/borgvault/borgvault/internal/storage"
)

const (
	keyAlpha   = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEB laptop"
	keyBravo   = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAICAgICAgICAgICAgICAgICAgICAgICAgICAgICAgIC desktop"
	keyCharlie = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMD backup_host"
)

type serviceFixture struct {
	service *Service
	stores  *ledger.Stores
	tree    *storage.Tree
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	stores := ledgertest.New().Stores()
	tree := storage.NewTree(config.StorageConfig{Root: t.TempDir()}, zerolog.Nop())
	require.NoError(t, tree.Init())

	cfg := &config.Config{
		Service: config.ServiceConfig{
			Account:               "borgvault",
			DefaultPrincipalQuota: 1000,
			DefaultRepoQuota:      100,
			MaxRepoCount:          3,
		},
		Lock: config.LockConfig{Timeout: time.Second, PollInterval: 10 * time.Millisecond},
	}
	locks := lock.NewManager(stores.Locks, cfg.Lock, zerolog.Nop())
	trail := audit.NewTrail(stores.Logs, zerolog.Nop())
	quotas := quota.NewManager(stores, locks, tree, trail, zerolog.Nop())
	artifact := authkeys.NewGenerator(stores, tree, "/usr/local/bin/borgvault", zerolog.Nop())

	return &serviceFixture{
		service: New(cfg, stores, locks, tree, trail, quotas, artifact, zerolog.Nop()),
		stores:  stores,
		tree:    tree,
	}
}

func TestCreatePrincipalDefaults(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	p, err := fx.service.CreatePrincipal(ctx, "alice", "alice@example.org", 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1000), p.QuotaBytes)
	require.Equal(t, 3, p.MaxRepoCount)
	require.DirExists(t, fx.tree.PrincipalPath("alice"))

	op := domain.OpCreatePrincipal
	entries, err := fx.stores.Logs.List(ctx, ledger.LogFilter{Operation: &op})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCreatePrincipalValidatesName(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, err := fx.service.CreatePrincipal(ctx, "not a name", "x@example.org", 0, 0)
	require.ErrorIs(t, err, domain.ErrNameFormat)
	_, err = fx.service.CreatePrincipal(ctx, "this_name_is_way_too_long", "x@example.org", 0, 0)
	require.ErrorIs(t, err, domain.ErrNameLength)
}

func TestCreatePrincipalRollsBackDirectory(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	_, err := fx.service.CreatePrincipal(ctx, "alice", "alice@example.org", 0, 0)
	require.NoError(t, err)

	// Same email collides; the directory of the failed attempt must be gone.
	_, err = fx.service.CreatePrincipal(ctx, "alice2", "alice@example.org", 0, 0)
	require.ErrorIs(t, err, domain.ErrPrincipalExists)
	require.NoDirExists(t, fx.tree.PrincipalPath("alice2"))
}

func TestDeletePrincipalRemovesEverything(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	p, err := fx.service.CreatePrincipal(ctx, "alice", "alice@example.org", 0, 0)
	require.NoError(t, err)
	_, err = fx.service.CreateRepository(ctx, p, "fotos", 0)
	require.NoError(t, err)

	require.NoError(t, fx.service.DeletePrincipal(ctx, p))
	require.NoDirExists(t, fx.tree.PrincipalPath("alice"))
	_, err = fx.stores.Principals.GetByID(ctx, p.ID)
	require.ErrorIs(t, err, domain.ErrPrincipalNotFound)

	// The trail keeps the story of the deleted principal.
	op := domain.OpDeletePrincipal
	entries, err := fx.stores.Logs.List(ctx, ledger.LogFilter{Operation: &op})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCreateRepositoryLimits(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	p, err := fx.service.CreatePrincipal(ctx, "alice", "alice@example.org", 250, 2)
	require.NoError(t, err)

	_, err = fx.service.CreateRepository(ctx, p, "one", 100)
	require.NoError(t, err)

	// Second repository may only take what is left of the principal quota.
	_, err = fx.service.CreateRepository(ctx, p, "two", 200)
	require.ErrorIs(t, err, domain.ErrQuotaViolation)
	var violation *domain.QuotaViolationError
	require.ErrorAs(t, err, &violation)
	require.Equal(t, int64(150), violation.MaxPermitted)

	_, err = fx.service.CreateRepository(ctx, p, "two", 150)
	require.NoError(t, err)

	// Count limit.
	_, err = fx.service.CreateRepository(ctx, p, "three", 1)
	require.ErrorIs(t, err, domain.ErrTooManyRepositories)
}

func TestDeleteRepository(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	p, err := fx.service.CreatePrincipal(ctx, "alice", "alice@example.org", 0, 0)
	require.NoError(t, err)
	repo, err := fx.service.CreateRepository(ctx, p, "fotos", 0)
	require.NoError(t, err)

	require.NoError(t, fx.service.DeleteRepository(ctx, p, repo))
	require.NoDirExists(t, fx.tree.RepositoryPath("alice", "fotos"))
	_, err = fx.stores.Repositories.GetByID(ctx, repo.ID)
	require.ErrorIs(t, err, domain.ErrRepositoryNotFound)
}

func TestDeleteRepositoryRemovesDirectoryBeforeRow(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	p, err := fx.service.CreatePrincipal(ctx, "alice", "alice@example.org", 0, 0)
	require.NoError(t, err)
	repo, err := fx.service.CreateRepository(ctx, p, "fotos", 0)
	require.NoError(t, err)

	// Drop the row behind the service's back. Deletion removes the
	// directory first, so the ledger failure surfaces after the data is
	// already gone; the startup check owns this drift.
	require.NoError(t, fx.stores.Repositories.Delete(ctx, repo.ID))

	err = fx.service.DeleteRepository(ctx, p, repo)
	require.ErrorIs(t, err, domain.ErrRepositoryNotFound)
	require.NoDirExists(t, fx.tree.RepositoryPath("alice", "fotos"))
}

func TestSetPrincipalKeyRotation(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	p, err := fx.service.CreatePrincipal(ctx, "alice", "alice@example.org", 0, 0)
	require.NoError(t, err)

	require.NoError(t, fx.service.SetPrincipalKey(ctx, p, keyAlpha))
	require.Nil(t, p.PendingKey, "first key has nothing to rotate from")

	require.NoError(t, fx.service.SetPrincipalKey(ctx, p, keyBravo))
	require.Equal(t, "desktop", p.Key.Comment())
	require.NotNil(t, p.PendingKey)
	require.Equal(t, "laptop", p.PendingKey.Comment(), "previous key stays usable until confirmed")

	// Installing the same key again is a mistake, not a rotation.
	err = fx.service.SetPrincipalKey(ctx, p, keyBravo)
	require.ErrorIs(t, err, domain.ErrKeysIdentical)

	// The artifact carries both the new and the pending key.
	data, err := os.ReadFile(fx.tree.AuthorizedKeysPath())
	require.NoError(t, err)
	require.Contains(t, string(data), "BORGVAULT_KEY_TYPE=1")
	require.Contains(t, string(data), "BORGVAULT_KEY_TYPE=2")
}

func TestSetRepositoryKeySlots(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	p, err := fx.service.CreatePrincipal(ctx, "alice", "alice@example.org", 0, 0)
	require.NoError(t, err)
	repo, err := fx.service.CreateRepository(ctx, p, "fotos", 0)
	require.NoError(t, err)

	require.NoError(t, fx.service.SetRepositoryKey(ctx, repo, KeyAppend, keyCharlie))
	require.NotNil(t, repo.AppendKey)

	// The same material may not fill both slots.
	err = fx.service.SetRepositoryKey(ctx, repo, KeyReadWrite, keyCharlie)
	require.ErrorIs(t, err, domain.ErrKeysIdentical)

	require.NoError(t, fx.service.SetRepositoryKey(ctx, repo, KeyReadWrite, keyBravo))

	// Clearing a slot.
	require.NoError(t, fx.service.SetRepositoryKey(ctx, repo, KeyAppend, ""))
	require.Nil(t, repo.AppendKey)
}

func TestSetRepositoryKeyRejectsGarbage(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	p, err := fx.service.CreatePrincipal(ctx, "alice", "alice@example.org", 0, 0)
	require.NoError(t, err)
	repo, err := fx.service.CreateRepository(ctx, p, "fotos", 0)
	require.NoError(t, err)

	err = fx.service.SetRepositoryKey(ctx, repo, KeyAppend, "not a key")
	require.ErrorIs(t, err, domain.ErrKeyInvalid)

	// A key without comment is unusable in the shell.
	err = fx.service.SetRepositoryKey(ctx, repo, KeyAppend,
		"ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEB")
	require.ErrorIs(t, err, domain.ErrKeyInvalid)
}
