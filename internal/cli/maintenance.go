package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/gateway"
	"github.com/borgvault/borgvault/internal/shell"
)

func (a *App) cronCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cron",
		Short: "Run the scheduled maintenance pass",
		Long: "Run the scheduled maintenance pass: notify owners of stale " +
			"repositories and prune acknowledged audit entries past retention.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			sent, dispatchErr := a.dispatcher.DispatchStale(ctx)
			retention := time.Duration(a.cfg.Maintenance.LogRetentionDays) * 24 * time.Hour
			pruned, err := a.trail.Prune(ctx, retention)
			if err != nil {
				return err
			}

			if err := a.trail.Admin(ctx, domain.OpMaintenance,
				fmt.Sprintf("maintenance pass: %d notifications, %d entries pruned", sent, pruned)); err != nil {
				return err
			}
			cmd.Printf("sent %d notifications, pruned %d entries\n", sent, pruned)

			// Failed deliveries are already logged per recipient; the pass
			// itself still counts as run.
			return dispatchErr
		},
	}
}

func (a *App) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <name>",
		Short: "Open the interactive shell as a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			session := &gateway.Session{
				Tier:          domain.TierAdminImpersonate,
				PrincipalName: args[0],
			}
			auth, err := a.gateway.Authorize(ctx, session)
			if err != nil {
				return err
			}

			sh := shell.New(a.cfg, a.svc, a.stores, a.tree, os.Stdin, os.Stdout, a.logger)
			notice := fmt.Sprintf("Administrative session: you are acting as %s.", auth.Principal.Name)
			return sh.Run(ctx, auth.Principal, notice)
		},
	}
}
