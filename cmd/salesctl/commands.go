package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"koperasi/backend/internal/domain"
	"koperasi/backend/internal/service"
)

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one sale, modern or legacy, as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd, func(ctx context.Context, svc *service.Service) error {
				sale, err := svc.GetSale(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sale)
			})
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var (
		from  string
		to    string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sales in a date range, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd, func(ctx context.Context, svc *service.Service) error {
				result, err := svc.ListSales(ctx, from, to, limit)
				if err != nil {
					return err
				}
				for _, sale := range result {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\t%d\n",
						sale.ID, sale.Date.Format(domain.DateLayout), sale.Source, sale.Buyer, sale.Totals.GrandCents)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of sales")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a sale and return its stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd, func(ctx context.Context, svc *service.Service) error {
				if err := svc.DeleteSale(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "migrate-legacy [id...]",
		Short: "Convert single-item legacy sales into sale headers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass legacy sale ids or --all, not both")
			}
			return c.withService(cmd, func(ctx context.Context, svc *service.Service) error {
				if all {
					results, err := svc.MigrateAllLegacySales(ctx)
					for _, r := range results {
						printMigration(cmd, r)
					}
					return err
				}

				var errs []error
				for _, id := range args {
					r, err := svc.MigrateLegacySale(ctx, id)
					if err != nil {
						errs = append(errs, fmt.Errorf("migrate %s: %w", id, err))
						continue
					}
					printMigration(cmd, r)
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "migrate every legacy sale")
	return cmd
}

func printMigration(cmd *cobra.Command, r domain.MigrationResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "migrated %s (relinked %d ledger entries)\n", r.LegacyID, r.Relinked)
}
