package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/governor/pkg/models"
)

func newUsageCmd() *cobra.Command {
	var configPath, month string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show per-tenant token usage for a month",
		RunE: func(cmd *cobra.Command, args []string) error {
			if month != "" {
				if _, err := time.Parse(models.MonthFormat, month); err != nil {
					return fmt.Errorf("invalid month %q (use YYYY-MM)", month)
				}
			}
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.ledger.ListUsage(context.Background(), month)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No usage recorded.")
				return nil
			}

			var calls, in, out, cents int64
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tMONTH\tCALLS\tINPUT\tOUTPUT\tCENTS")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
					r.TenantID, r.Month, r.CallCount, r.InputTokens, r.OutputTokens, r.CostCents)
				calls += r.CallCount
				in += r.InputTokens
				out += r.OutputTokens
				cents += r.CostCents
			}
			fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%d\t%d\n", calls, in, out, cents)
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&month, "month", "", "month as YYYY-MM (default: current)")
	return cmd
}
