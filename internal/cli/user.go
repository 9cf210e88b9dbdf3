package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/borgvault/borgvault/internal/domain"
	"github.com/borgvault/borgvault/internal/ledger"
)

func reposByPrincipal(ctx context.Context, stores *ledger.Stores, principals []*domain.Principal) (map[int64][]*domain.Repository, error) {
	out := make(map[int64][]*domain.Repository, len(principals))
	for _, p := range principals {
		repos, err := stores.Repositories.ListByPrincipal(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out[p.ID] = repos
	}
	return out, nil
}

func (a *App) userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage principals",
	}
	cmd.AddCommand(
		a.userAddCommand(),
		a.userDeleteCommand(),
		a.userListCommand(),
		a.userShowCommand(),
		a.userKeyCommand(),
	)
	return cmd
}

func (a *App) userAddCommand() *cobra.Command {
	var quotaGB int64
	var maxRepos int

	cmd := &cobra.Command{
		Use:   "add <name> <email>",
		Short: "Create a principal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.svc.CreatePrincipal(cmd.Context(), args[0], args[1], quotaGB*domain.GB, maxRepos)
			if err != nil {
				return err
			}
			cmd.Printf("created principal %s with a quota of %d GB\n", p.Name, p.QuotaGB())
			cmd.Println("install a management key with 'user key' next")
			return nil
		},
	}
	cmd.Flags().Int64Var(&quotaGB, "quota", 0, "quota in GB (0 uses the configured default)")
	cmd.Flags().IntVar(&maxRepos, "repos", 0, "repository count limit (0 uses the configured default)")
	return cmd
}

func (a *App) userDeleteCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a principal and all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.stores.Principals.GetByName(ctx, args[0])
			if err != nil {
				return err
			}
			if !force {
				return fmt.Errorf("deleting %s destroys all its backups; re-run with --force", p.Name)
			}
			if err := a.svc.DeletePrincipal(ctx, p); err != nil {
				return err
			}
			cmd.Printf("deleted principal %s\n", p.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "actually delete")
	return cmd
}

func (a *App) userListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List principals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			principals, err := a.stores.Principals.List(ctx)
			if err != nil {
				return err
			}
			for _, p := range principals {
				count, err := a.stores.Repositories.CountByPrincipal(ctx, p.ID)
				if err != nil {
					return err
				}
				cmd.Printf("%-20s %-30s %5d GB %2d repos\n", p.Name, p.Email, p.QuotaGB(), count)
			}
			return nil
		},
	}
}

func (a *App) userShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one principal in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.stores.Principals.GetByName(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("name:        %s\n", p.Name)
			cmd.Printf("email:       %s\n", p.Email)
			cmd.Printf("quota:       %d GB\n", p.QuotaGB())
			cmd.Printf("repo limit:  %d\n", p.MaxRepoCount)
			cmd.Printf("created:     %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
			if p.LastLoginAt != nil {
				cmd.Printf("last login:  %s\n", p.LastLoginAt.Format("2006-01-02 15:04:05"))
			}
			if p.Key != nil {
				cmd.Printf("key:         %q %s\n", p.Key.Comment(), p.Key.Fingerprint())
			}
			if p.PendingKey != nil {
				cmd.Printf("pending key: %q %s\n", p.PendingKey.Comment(), p.PendingKey.Fingerprint())
			}

			repos, err := a.stores.Repositories.ListByPrincipal(ctx, p.ID)
			if err != nil {
				return err
			}
			for _, r := range repos {
				used, err := a.tree.Usage(a.tree.RepositoryPath(p.Name, r.Name))
				if err != nil {
					return err
				}
				cmd.Printf("repository:  %-20s %5d GB quota, %d bytes used\n", r.Name, r.QuotaGB(), used)
			}
			return nil
		},
	}
}

func (a *App) userKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "key <name> <authorized_keys line>",
		Short: "Install a management key for a principal",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.stores.Principals.GetByName(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.svc.SetPrincipalKey(ctx, p, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			cmd.Printf("installed key %q for %s\n", p.Key.Comment(), p.Name)
			return nil
		},
	}
}
