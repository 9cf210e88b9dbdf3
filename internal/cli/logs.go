package cli

import (
	"github.com/spf13/cobra"

	"github.com/borgvault/borgvault/internal/ledger"
)

func (a *App) logsCommand() *cobra.Command {
	var principalName, repoName string
	var adminOnly, acknowledge bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			filter := ledger.LogFilter{AdminOnly: adminOnly}
			if principalName != "" {
				p, err := a.stores.Principals.GetByName(ctx, principalName)
				if err != nil {
					return err
				}
				filter.PrincipalID = &p.ID

				if repoName != "" {
					r, err := a.stores.Repositories.GetByName(ctx, p.ID, repoName)
					if err != nil {
						return err
					}
					filter.RepositoryID = &r.ID
				}
			}

			entries, err := a.trail.Entries(ctx, filter)
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(entries))
			for _, e := range entries {
				marker := " "
				if e.Acknowledged {
					marker = "*"
				}
				cmd.Printf("%s %s\n", marker, e.Format())
				if !e.Acknowledged {
					ids = append(ids, e.ID)
				}
			}

			if acknowledge && len(ids) > 0 {
				if err := a.trail.Acknowledge(ctx, ids); err != nil {
					return err
				}
				cmd.Printf("acknowledged %d entries\n", len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&principalName, "principal", "", "limit to one principal")
	cmd.Flags().StringVar(&repoName, "repo", "", "limit to one repository (requires --principal)")
	cmd.Flags().BoolVar(&adminOnly, "admin", false, "show only administrative entries")
	cmd.Flags().BoolVar(&acknowledge, "ack", false, "acknowledge the shown entries")
	return cmd
}
