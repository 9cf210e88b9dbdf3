package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/borgvault/borgvault/internal/domain"
)

func (a *App) quotaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Change quotas",
	}

	principal := &cobra.Command{
		Use:   "principal <name> <GB>",
		Short: "Change a principal quota",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.stores.Principals.GetByName(ctx, args[0])
			if err != nil {
				return err
			}
			gb, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			if err := a.svc.Quota().SetPrincipalQuota(ctx, p, gb*domain.GB); err != nil {
				return err
			}
			cmd.Printf("quota of %s is now %d GB\n", p.Name, p.QuotaGB())
			return nil
		},
	}

	repo := &cobra.Command{
		Use:   "repo <principal> <repository> <GB>",
		Short: "Change a repository quota",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.stores.Principals.GetByName(ctx, args[0])
			if err != nil {
				return err
			}
			r, err := a.stores.Repositories.GetByName(ctx, p.ID, args[1])
			if err != nil {
				return err
			}
			gb, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return err
			}
			if err := a.svc.Quota().SetRepositoryQuota(ctx, p, r, gb*domain.GB); err != nil {
				return err
			}
			cmd.Printf("quota of %s/%s is now %d GB\n", p.Name, r.Name, r.QuotaGB())
			return nil
		},
	}

	cmd.AddCommand(principal, repo)
	return cmd
}
