// Package cli implements the local administrative command set. It is only
// reachable from a local invocation; remote sessions never get here.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/borgvault/borgvault/internal/audit"
	"github.com/borgvault/borgvault/internal/config"
	"github.com/borgvault/borgvault/internal/gateway"
	"github.com/borgvault/borgvault/internal/ledger"
	"github.com/borgvault/borgvault/internal/notify"
	"github.com/borgvault/borgvault/internal/service"
	"github.com/borgvault/borgvault/internal/storage"
)

// App bundles the dependencies of the administrative commands.
type App struct {
	cfg        *config.Config
	stores     *ledger.Stores
	svc        *service.Service
	tree       *storage.Tree
	trail      *audit.Trail
	gateway    *gateway.Gateway
	dispatcher *notify.Dispatcher
	logger     zerolog.Logger
}

// NewApp creates the administrative application.
func NewApp(cfg *config.Config, stores *ledger.Stores, svc *service.Service, tree *storage.Tree, trail *audit.Trail, gw *gateway.Gateway, dispatcher *notify.Dispatcher, logger zerolog.Logger) *App {
	return &App{
		cfg:        cfg,
		stores:     stores,
		svc:        svc,
		tree:       tree,
		trail:      trail,
		gateway:    gw,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "cli").Logger(),
	}
}

// RootCommand builds the command tree.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "borgvault",
		Short:         "multi-tenant backup storage gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		a.userCommand(),
		a.quotaCommand(),
		a.logsCommand(),
		a.regenCommand(),
		a.checkCommand(),
		a.cronCommand(),
		a.shellCommand(),
	)
	return root
}

func (a *App) regenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "regen",
		Short: "Regenerate the authorized keys artifact from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.svc.RegenerateArtifact(cmd.Context())
		},
	}
}

func (a *App) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that the ledger and the storage tree agree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			principals, err := a.stores.Principals.List(ctx)
			if err != nil {
				return err
			}
			byPrincipal, err := reposByPrincipal(ctx, a.stores, principals)
			if err != nil {
				return err
			}
			if err := a.tree.Check(principals, byPrincipal); err != nil {
				return err
			}
			cmd.Println("ledger and storage tree are consistent")
			return nil
		},
	}
}

// Execute runs the command tree and returns the process exit code.
func (a *App) Execute(root *cobra.Command) int {
	if err := root.Execute(); err != nil {
		a.logger.Error().Err(err).Msg("command failed")
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		return 1
	}
	return 0
}
