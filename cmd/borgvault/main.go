// Command borgvault is the backup storage gateway. The SSH server forces it
// onto every remote session; operators invoke it directly for
// administration. Which of the two happens is decided by the environment,
// never by arguments.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/borgvault/borgvault/internal/audit"
	"github.com/borgvault/borgvault/internal/authkeys"
	"github.com/borgvault/borgvault/internal/cli"
	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/gateway"
	"github.com/borgvault/borgvault/internal/ledger"
	"github.com/borgvault/borgvault/internal/lock"
	"github.com/borgvault/borgvault/internal/notify"
	"github.com/borgvault/borgvault/internal/quota"
	"github.com/borgvault/borgvault/internal/service"
	"github.com/borgvault/borgvault/internal/shell"
	"github.com/borgvault/borgvault/internal/storage"

	// Ledger backends register themselves.
	_ "github.com/borgvault/borgvault/internal/ledger/postgres"
	_ "github.com/borgvault/borgvault/internal/ledger/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("BORGVAULT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Logging)

	kind, err := gateway.Classify(os.LookupEnv)
	if err != nil {
		logger.Error().Err(err).Msg("rejected session")
		fmt.Fprintln(os.Stderr, "access denied")
		return 1
	}

	backend, err := ledger.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open ledger")
		fmt.Fprintln(os.Stderr, "service unavailable")
		return 1
	}
	defer backend.Close()
	stores := backend.Stores()

	tree := storage.NewTree(cfg.Storage, logger)
	if err := tree.Init(); err != nil {
		logger.Error().Err(err).Msg("failed to initialize storage tree")
		fmt.Fprintln(os.Stderr, "service unavailable")
		return 1
	}

	commandPath, err := os.Executable()
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve own path")
		return 1
	}

	locks := lock.NewManager(stores.Locks, cfg.Lock, logger)
	trail := audit.NewTrail(stores.Logs, logger)
	quotas := quota.NewManager(stores, locks, tree, trail, logger)
	artifact := authkeys.NewGenerator(stores, tree, commandPath, logger)
	svc := service.New(cfg, stores, locks, tree, trail, quotas, artifact, logger)
	gw := gateway.New(cfg, stores, locks, tree, trail, logger)
	gw.OnArtifactChange = artifact.Write
	notifier := notify.NewSendmailNotifier(cfg.Notification.SendmailPath, cfg.Notification.From)
	dispatcher := notify.NewDispatcher(cfg, stores, trail, notifier, logger)

	if kind == gateway.KindRemote {
		return runRemote(ctx, cfg, stores, tree, gw, svc, logger)
	}

	app := cli.NewApp(cfg, stores, svc, tree, trail, gw, dispatcher, logger)
	root := app.RootCommand()
	root.SetContext(ctx)
	return app.Execute(root)
}

func runRemote(ctx context.Context, cfg *config.Config, stores *ledger.Stores, tree *storage.Tree, gw *gateway.Gateway, svc *service.Service, logger zerolog.Logger) int {
	session, err := gateway.ParseSession(os.LookupEnv, cfg.Service.Account)
	if err != nil {
		logger.Error().Err(err).Msg("rejected session environment")
		fmt.Fprintln(os.Stderr, "access denied")
		return 1
	}
	logger = logger.With().Str("session", session.ID).Logger()

	// A drifted storage tree serves nobody until an operator looks at it.
	if err := verifyConsistency(ctx, stores, tree); err != nil {
		logger.Error().Err(err).Msg("storage tree inconsistent")
		fmt.Fprintln(os.Stderr, "service unavailable, the operator has been notified")
		return 1
	}

	auth, err := gw.Authorize(ctx, session)
	if err != nil {
		logger.Error().Err(err).Msg("authorization failed")
		fmt.Fprintln(os.Stderr, "access denied")
		return 1
	}

	action, err := gw.Route(auth)
	if err != nil {
		logger.Error().Err(err).Msg("command rejected")
		fmt.Fprintf(os.Stderr, "access denied: %v\n", err)
		return 1
	}

	switch action {
	case gateway.ActionServe:
		if err := gw.Serve(ctx, auth); err != nil {
			logger.Error().Err(err).Msg("serve session failed")
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	case gateway.ActionShell:
		notice, err := gw.ConfirmShellConnect(ctx, auth)
		if err != nil {
			logger.Error().Err(err).Msg("shell connect failed")
			fmt.Fprintln(os.Stderr, "service unavailable")
			return 1
		}
		sh := shell.New(cfg, svc, stores, tree, os.Stdin, os.Stdout, logger)
		if err := sh.Run(ctx, auth.Principal, notice); err != nil {
			logger.Error().Err(err).Msg("shell session failed")
			return 1
		}
	}
	return 0
}

func verifyConsistency(ctx context.Context, stores *ledger.Stores, tree *storage.Tree) error {
	principals, err := stores.Principals.List(ctx)
	if err != nil {
		return err
	}
	byPrincipal := make(map[int64][]*domain.Repository, len(principals))
	for _, p := range principals {
		repos, err := stores.Repositories.ListByPrincipal(ctx, p.ID)
		if err != nil {
			return err
		}
		byPrincipal[p.ID] = repos
	}
	return tree.Check(principals, byPrincipal)
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
