package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/governor/pkg/cache/memory"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the response cache",
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show configured cache bounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			info := a.cache.Info()
			fmt.Printf("Enabled:        %t\nTTL:            %s\nMax entries:    %d\nSweep interval: %s\nSaving per hit: $%s\n",
				a.cfg.Cache.Enabled, info.TTL, info.MaxSize, info.SweepInterval, memory.SavingsPerHitUSD.String())
			fmt.Println("The cache is per process; run `governor simulate` or the mcp tool governor_cache_stats for live counters.")
			return nil
		},
	}

	var page, building, unit string
	keyCmd := &cobra.Command{
		Use:   "key TENANT MESSAGE",
		Short: "Print the cache fingerprint of a request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(memory.Fingerprint(args[0], args[1], page, building, unit))
			return nil
		},
	}
	keyCmd.Flags().StringVar(&page, "page", "", "page the request came from")
	keyCmd.Flags().StringVar(&building, "building", "", "building in context")
	keyCmd.Flags().StringVar(&unit, "unit", "", "unit in context")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.AddCommand(infoCmd, keyCmd)
	return cmd
}
