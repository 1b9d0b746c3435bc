package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/governor/pkg/models"
)

func newBudgetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect and change tenant budgets",
	}

	var tenant, month string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := context.Background()

			var rows []models.MonthlyUsage
			if tenant != "" {
				u, err := a.ledger.Usage(ctx, tenant, month)
				if err != nil {
					return err
				}
				rows = []models.MonthlyUsage{u}
			} else {
				rows, err = a.ledger.ListUsage(ctx, month)
				if err != nil {
					return err
				}
			}
			if len(rows) == 0 {
				fmt.Println("No usage recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tPLAN\tMONTH\tUSED\tBUDGET\tPCT\tCALLS\tCALL LIMIT\tSTATE")
			for _, u := range rows {
				l, err := a.ledger.EffectiveLimits(ctx, u.TenantID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d%%\t%d\t%s\t%s\n",
					u.TenantID, orDash(l.PlanName), u.Month, u.CostCents, l.BudgetCents,
					models.Percent(u.CostCents, l.BudgetCents), u.CallCount, callLimit(l.CallLimit), usageState(u))
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&tenant, "tenant", "", "show a single tenant")
	statusCmd.Flags().StringVar(&month, "month", "", "month as YYYY-MM (default: current)")

	var actor string
	setCmd := &cobra.Command{
		Use:   "set TENANT CENTS",
		Short: "Set a tenant's monthly budget in cents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cents %q: %w", args[1], err)
			}
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.ledger.UpdateBudget(context.Background(), args[0], cents, actor)
			if err != nil {
				return err
			}
			fmt.Printf("Budget for %s set to %d cents.\n", b.TenantID, b.MonthlyBudgetCents)
			return nil
		},
	}
	setCmd.Flags().StringVar(&actor, "actor", "cli", "actor recorded in the audit log")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.AddCommand(statusCmd, setCmd)
	return cmd
}

func callLimit(limit int64) string {
	if limit <= 0 {
		return "unlimited"
	}
	return strconv.FormatInt(limit, 10)
}

func usageState(u models.MonthlyUsage) string {
	switch {
	case u.BlockedAt != nil:
		return "blocked"
	case u.WarnedAt != nil:
		return "warned"
	default:
		return "normal"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
