package authkeys

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
	"github.com/borgvault/borgvault/internal/ledger/ledgertest"
	"github.com/borgvault/borgvault/internal/storage"
)

const (
	keyAlpha   = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEB laptop"
	keyBravo   = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAICAgICAgICAgICAgICAgICAgICAgICAgICAgICAgIC desktop"
	keyCharlie = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMDAwMD backup_host"
)

func mustKey(t *testing.T, line string) *domain.SSHKey {
	t.Helper()
	k, err := domain.ParseSSHKey(line)
	require.NoError(t, err)
	return k
}

func newGeneratorFixture(t *testing.T) (*Generator, *ledger.Stores, *storage.Tree) {
	t.Helper()
	stores := ledgertest.New().Stores()
	tree := storage.NewTree(config.StorageConfig{Root: t.TempDir()}, zerolog.Nop())
	require.NoError(t, tree.Init())
	gen := NewGenerator(stores, tree, "/usr/local/bin/borgvault", zerolog.Nop())
	return gen, stores, tree
}

func TestRenderLineOptions(t *testing.T) {
	gen, stores, _ := newGeneratorFixture(t)
	ctx := context.Background()

	alice := domain.NewPrincipal("alice", "alice@example.org", domain.GB, 10)
	alice.Key = mustKey(t, keyAlpha)
	require.NoError(t, stores.Principals.Create(ctx, alice))

	repo := domain.NewRepository(alice.ID, "fotos", domain.GB)
	repo.AppendKey = mustKey(t, keyCharlie)
	require.NoError(t, stores.Repositories.Create(ctx, repo))

	content, err := gen.Render(ctx)
	require.NoError(t, err)

	require.Contains(t, content,
		`command="/usr/local/bin/borgvault",restrict,environment="BORGVAULT_KEY_TYPE=1",environment="BORGVAULT_PRINCIPAL=alice" `+keyAlpha)
	require.Contains(t, content,
		`environment="BORGVAULT_KEY_TYPE=3",environment="BORGVAULT_PRINCIPAL=alice",environment="BORGVAULT_REPO=fotos" `+keyCharlie)
}

func TestRenderDeterministic(t *testing.T) {
	gen, stores, _ := newGeneratorFixture(t)
	ctx := context.Background()

	for _, name := range []string{"zoe", "alice", "mid"} {
		p := domain.NewPrincipal(name, name+"@example.org", domain.GB, 10)
		p.Key = mustKey(t, keyAlpha)
		require.NoError(t, stores.Principals.Create(ctx, p))
	}

	first, err := gen.Render(ctx)
	require.NoError(t, err)
	second, err := gen.Render(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Name order, not insertion order.
	require.Less(t, strings.Index(first, "PRINCIPAL=alice"), strings.Index(first, "PRINCIPAL=mid"))
	require.Less(t, strings.Index(first, "PRINCIPAL=mid"), strings.Index(first, "PRINCIPAL=zoe"))
}

func TestRenderSkipsEmptyKeySlots(t *testing.T) {
	gen, stores, _ := newGeneratorFixture(t)
	ctx := context.Background()

	alice := domain.NewPrincipal("alice", "alice@example.org", domain.GB, 10)
	require.NoError(t, stores.Principals.Create(ctx, alice))

	content, err := gen.Render(ctx)
	require.NoError(t, err)
	require.NotContains(t, content, "PRINCIPAL=alice", "a principal without keys renders no lines")
}

func TestRenderPendingKeyTier(t *testing.T) {
	gen, stores, _ := newGeneratorFixture(t)
	ctx := context.Background()

	alice := domain.NewPrincipal("alice", "alice@example.org", domain.GB, 10)
	alice.Key = mustKey(t, keyAlpha)
	alice.PendingKey = mustKey(t, keyBravo)
	require.NoError(t, stores.Principals.Create(ctx, alice))

	content, err := gen.Render(ctx)
	require.NoError(t, err)
	require.Contains(t, content, `BORGVAULT_KEY_TYPE=1`)
	require.Contains(t, content, `BORGVAULT_KEY_TYPE=2`)
}

func TestWriteArtifact(t *testing.T) {
	gen, stores, tree := newGeneratorFixture(t)
	ctx := context.Background()

	alice := domain.NewPrincipal("alice", "alice@example.org", domain.GB, 10)
	alice.Key = mustKey(t, keyAlpha)
	require.NoError(t, stores.Principals.Create(ctx, alice))

	require.NoError(t, gen.Write(ctx))

	info, err := os.Stat(tree.AuthorizedKeysPath())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(tree.AuthorizedKeysPath())
	require.NoError(t, err)
	require.Contains(t, string(data), "PRINCIPAL=alice")
	require.Contains(t, string(data), "# Managed by borgvault")
}
