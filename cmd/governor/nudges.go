package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/governor/pkg/models"
)

func newNudgesCmd() *cobra.Command {
	var (
		configPath string
		member     models.Member
	)

	cmd := &cobra.Command{
		Use:   "nudges",
		Short: "Evaluate and act on a member's nudges",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if member.TenantID == "" {
				return errors.New("--tenant is required")
			}
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show the active nudges, most severe first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			nudges, err := a.nudges.ActiveNudges(context.Background(), member)
			if err != nil {
				return err
			}
			fmt.Print(formatNudges(nudges))
			return nil
		},
	}

	dismissCmd := &cobra.Command{
		Use:   "dismiss KEY",
		Short: "Dismiss a nudge for the member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.nudges.Dismiss(context.Background(), member, args[0]); err != nil {
				return err
			}
			fmt.Printf("Nudge %s dismissed.\n", args[0])
			return nil
		},
	}

	upgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Create the recommended plan upgrade request",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := a.nudges.CreateRecommendedUpgradeRequest(context.Background(), member)
			if err != nil {
				return err
			}
			fmt.Printf("Upgrade request %s (%s): %s -> %s\n  %s\n",
				req.ID, req.Status, req.FromPlanID, req.ToPlanID, req.Note)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&member.TenantID, "tenant", "", "tenant of the member")
	cmd.PersistentFlags().StringVar(&member.MembershipID, "member", "", "membership id")
	cmd.PersistentFlags().StringVar(&member.UserID, "user", "", "user id recorded as actor")
	cmd.AddCommand(listCmd, dismissCmd, upgradeCmd)
	return cmd
}

func formatNudges(nudges []models.Nudge) string {
	if len(nudges) == 0 {
		return "No active nudges.\n"
	}
	var b strings.Builder
	for i, n := range nudges {
		if i > 0 {
			b.WriteString(strings.Repeat("-", 60) + "\n")
		}
		fmt.Fprintf(&b, "[%s] %s (%s)\n", n.Severity, n.Title, n.Key)
		fmt.Fprintf(&b, "  %s\n", n.Message)
		for _, c := range n.CTAs {
			fmt.Fprintf(&b, "  -> %s (%s)\n", c.Label, c.Action)
		}
		if !n.Dismissible {
			b.WriteString("  not dismissible\n")
		}
	}
	return b.String()
}
