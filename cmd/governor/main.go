package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "governor",
		Short:         "Per-tenant AI usage governor",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newBudgetCmd(),
		newOverrideCmd(),
		newUsageCmd(),
		newEstimateCmd(),
		newCacheCmd(),
		newNudgesCmd(),
		newPlansCmd(),
		newAuditCmd(),
		newSimulateCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
