package shell

import (
	"bytes"
	"context"
	"strings"
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
	"github.com/borgvault/borgvault/internal/service"
	"github.com/borgvault/borgvault/internal/storage"
)

const keyAlpha = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIAEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEB laptop"

type shellFixture struct {
	cfg       *config.Config
	svc       *service.Service
	stores    *ledger.Stores
	tree      *storage.Tree
	principal *domain.Principal
}

func newShellFixture(t *testing.T) *shellFixture {
	t.Helper()
	ctx := context.Background()

	stores := ledgertest.New().Stores()
	tree := storage.NewTree(config.StorageConfig{Root: t.TempDir()}, zerolog.Nop())
	require.NoError(t, tree.Init())

	cfg := &config.Config{
		Service: config.ServiceConfig{
			Account:               "borgvault",
			Name:                  "vault1",
			AdminContact:          "admin@example.org",
			DefaultPrincipalQuota: 1000 * domain.GB,
			DefaultRepoQuota:      100 * domain.GB,
			MaxRepoCount:          5,
		},
		Lock: config.LockConfig{Timeout: time.Second, PollInterval: 10 * time.Millisecond},
	}
	locks := lock.NewManager(stores.Locks, cfg.Lock, zerolog.Nop())
	trail := audit.NewTrail(stores.Logs, zerolog.Nop())
	quotas := quota.NewManager(stores, locks, tree, trail, zerolog.Nop())
	artifact := authkeys.NewGenerator(stores, tree, "/usr/local/bin/borgvault", zerolog.Nop())
	svc := service.New(cfg, stores, locks, tree, trail, quotas, artifact, zerolog.Nop())

	principal, err := svc.CreatePrincipal(ctx, "alice", "alice@example.org", 0, 0)
	require.NoError(t, err)

	return &shellFixture{cfg: cfg, svc: svc, stores: stores, tree: tree, principal: principal}
}

func (fx *shellFixture) run(t *testing.T, input string) string {
	t.Helper()
	var out bytes.Buffer
	sh := New(fx.cfg, fx.svc, fx.stores, fx.tree, strings.NewReader(input), &out, zerolog.Nop())
	require.NoError(t, sh.Run(context.Background(), fx.principal, ""))
	return out.String()
}

func TestShellGreetingAndQuit(t *testing.T) {
	fx := newShellFixture(t)
	out := fx.run(t, "quit\n")
	require.Contains(t, out, "Welcome to vault1, alice.")
	require.Contains(t, out, "admin@example.org")
	require.Contains(t, out, "bye")
}

func TestShellNotice(t *testing.T) {
	fx := newShellFixture(t)
	var out bytes.Buffer
	sh := New(fx.cfg, fx.svc, fx.stores, fx.tree, strings.NewReader("quit\n"), &out, zerolog.Nop())
	require.NoError(t, sh.Run(context.Background(), fx.principal, "Key rotation complete."))
	require.Contains(t, out.String(), "Key rotation complete.")
}

func TestShellEOFEndsSession(t *testing.T) {
	fx := newShellFixture(t)
	out := fx.run(t, "")
	require.Contains(t, out, "bye")
}

func TestShellUnknownCommand(t *testing.T) {
	fx := newShellFixture(t)
	out := fx.run(t, "frobnicate\nquit\n")
	require.Contains(t, out, `unknown command "frobnicate"`)
}

func TestShellRepoLifecycle(t *testing.T) {
	fx := newShellFixture(t)

	out := fx.run(t, strings.Join([]string{
		"repo create fotos 50",
		"repo list",
		"quit",
	}, "\n")+"\n")

	require.Contains(t, out, "Repository fotos created with a quota of 50 GB.")
	require.Contains(t, out, "fotos")

	repo, err := fx.stores.Repositories.GetByName(context.Background(), fx.principal.ID, "fotos")
	require.NoError(t, err)
	require.Equal(t, int64(50*domain.GB), repo.QuotaBytes)
}

func TestShellRepoDeleteNeedsConfirmation(t *testing.T) {
	fx := newShellFixture(t)
	ctx := context.Background()

	_, err := fx.svc.CreateRepository(ctx, fx.principal, "fotos", 0)
	require.NoError(t, err)

	// Wrong confirmation leaves the repository alone.
	out := fx.run(t, "repo delete fotos\nnope\nquit\n")
	require.Contains(t, out, "not deleted")
	_, err = fx.stores.Repositories.GetByName(ctx, fx.principal.ID, "fotos")
	require.NoError(t, err)

	// Typing the name deletes it.
	out = fx.run(t, "repo delete fotos\nfotos\nquit\n")
	require.Contains(t, out, "Repository fotos deleted.")
	_, err = fx.stores.Repositories.GetByName(ctx, fx.principal.ID, "fotos")
	require.ErrorIs(t, err, domain.ErrRepositoryNotFound)
}

func TestShellKeySet(t *testing.T) {
	fx := newShellFixture(t)

	out := fx.run(t, "key set "+keyAlpha+"\nquit\n")
	require.Contains(t, out, `Key "laptop" installed.`)
	require.NotNil(t, fx.principal.Key)
}

func TestShellRepoQuotaViolationIsReported(t *testing.T) {
	fx := newShellFixture(t)
	ctx := context.Background()

	_, err := fx.svc.CreateRepository(ctx, fx.principal, "fotos", 100*domain.GB)
	require.NoError(t, err)

	out := fx.run(t, "repo quota fotos 5000\nquit\n")
	require.Contains(t, out, "error:")
	require.Contains(t, out, "maximum permissible quota")
}

func TestShellLogs(t *testing.T) {
	fx := newShellFixture(t)
	ctx := context.Background()

	_, err := fx.svc.CreateRepository(ctx, fx.principal, "fotos", 0)
	require.NoError(t, err)

	out := fx.run(t, "logs\nquit\n")
	require.Contains(t, out, "CREATE_PRINCIPAL")
	require.Contains(t, out, "CREATE_REPOSITORY")

	out = fx.run(t, "logs fotos\nquit\n")
	require.NotContains(t, out, "CREATE_PRINCIPAL")
	require.Contains(t, out, "CREATE_REPOSITORY")
}

func TestShellInfo(t *testing.T) {
	fx := newShellFixture(t)
	ctx := context.Background()

	_, err := fx.svc.CreateRepository(ctx, fx.principal, "fotos", 0)
	require.NoError(t, err)

	out := fx.run(t, "info\nquit\n")
	require.Contains(t, out, "alice <alice@example.org>")
	require.Contains(t, out, "repositories: 1 of 5")
}
