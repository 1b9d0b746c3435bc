package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/governor/pkg/audit"
	"github.com/pario-ai/governor/pkg/config"
	"github.com/pario-ai/governor/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the tenant event log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath string
		opts       models.EventQueryOpts
		since      string
		meta       string
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search events",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.Since, err = parseSince(since); err != nil {
				return err
			}
			if meta != "" {
				path, value, ok := strings.Cut(meta, "=")
				if !ok {
					return fmt.Errorf("invalid --meta %q (use path=value)", meta)
				}
				opts.MetaPath, opts.MetaValue = path, value
			}

			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatEvents(events))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "filter by tenant")
	cmd.Flags().StringVar(&opts.MembershipID, "member", "", "filter by membership")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter by event type")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&meta, "meta", "", "metadata filter as path=value, e.g. nudge_key=near_limit")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max events to return")

	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var configPath, since string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show event counts by type and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseSince(since)
			if err != nil {
				return err
			}
			if from.IsZero() {
				from = time.Now().UTC().AddDate(0, 0, -30)
			}

			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background(), from)
			if err != nil {
				return err
			}
			fmt.Print(formatEventStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: 30 days ago)")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d events.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func openAuditLogger(configPath string) (*audit.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = cfg.DBPath
	}

	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Close() }, nil
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
	}
	return t, nil
}

func formatEvents(events []models.Event) string {
	if len(events) == 0 {
		return "No events found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-16s %-16s %-22s %-12s %s\n",
		"Time", "Tenant", "Member", "Type", "Actor", "Metadata")
	b.WriteString(strings.Repeat("-", 110) + "\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%-20s %-16s %-16s %-22s %-12s %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			truncate(e.TenantID, 16),
			truncate(orDash(e.MembershipID), 16),
			e.Type,
			truncate(orDash(e.Actor), 12),
			formatMeta(e.Metadata),
		)
	}
	return b.String()
}

func formatMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, meta[k]))
	}
	return strings.Join(parts, " ")
}

func formatEventStats(stats []models.EventStat) string {
	if len(stats) == 0 {
		return "No events recorded.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-24s %8s\n", "Day", "Type", "Count")
	b.WriteString(strings.Repeat("-", 46) + "\n")
	total := 0
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %-24s %8d\n", s.Day, s.Type, s.Count)
		total += s.Count
	}
	b.WriteString(strings.Repeat("-", 46) + "\n")
	fmt.Fprintf(&b, "%-12s %-24s %8d\n", "Total", "", total)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
