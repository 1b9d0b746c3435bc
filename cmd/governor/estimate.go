package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/governor/pkg/config"
	"github.com/pario-ai/governor/pkg/router"
)

func newEstimateCmd() *cobra.Command {
	var (
		configPath string
		calls      int64
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Project monthly savings from tiered routing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if calls < 0 {
				return fmt.Errorf("--calls must be >= 0")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			e := router.New(cfg.Router).EstimateSavings(calls)
			fmt.Printf("Calls per month:   %d (%.0f%% routed to %s)\n", e.MonthlyCalls, e.CheapShare*100, e.CheapModel)
			fmt.Printf("All on %-10s $%.2f\n", e.ExpensiveModel+":", float64(e.AllExpensiveCents)/100)
			fmt.Printf("Routed:            $%.2f\n", float64(e.RoutedCents)/100)
			fmt.Printf("Savings:           $%.2f (%d%%)\n", float64(e.SavingsCents)/100, e.SavingsPercent)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().Int64Var(&calls, "calls", 10_000, "expected calls per month")
	return cmd
}
