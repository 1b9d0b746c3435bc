package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/governor/pkg/billing"
	"github.com/pario-ai/governor/pkg/models"
)

func newPlansCmd() *cobra.Command {
	var (
		configPath string
		actor      string
	)

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage plans, subscriptions and upgrade requests",
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Write the plans from the config file to the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(a.cfg.Plans) == 0 {
				fmt.Println("No plans configured.")
				return nil
			}
			n, err := a.billing.SyncPlans(context.Background(), a.cfg.Plans)
			if err != nil {
				return err
			}
			fmt.Printf("Synced %d plans.\n", n)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List plans in upgrade order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			plans, err := a.billing.Plans(context.Background())
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				fmt.Println("No plans found. Run `governor plans sync` first.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRANK\tBUDGET CENTS\tCALL LIMIT\tEXPENSIVE\tSUPPORT")
			for _, p := range plans {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%t\t%s\n",
					p.ID, p.Name, billing.PlanRank(p), p.MonthlyBudgetCents,
					callLimit(p.MonthlyCallLimit), p.AllowExpensive, orDash(p.SupportTier))
			}
			return w.Flush()
		},
	}

	subscribeCmd := &cobra.Command{
		Use:   "subscribe TENANT PLAN",
		Short: "Subscribe a tenant to a plan and reset its budget to the plan defaults",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := context.Background()

			sub, err := a.billing.Subscribe(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			plan, err := a.billing.Plan(ctx, sub.PlanID)
			if err != nil {
				return err
			}
			if plan == nil {
				return fmt.Errorf("%w: %s", billing.ErrUnknownPlan, sub.PlanID)
			}
			if err := a.ledger.ApplyPlan(ctx, sub.TenantID, *plan, actor); err != nil {
				return err
			}
			fmt.Printf("%s subscribed to %s (%d cents/month).\n", sub.TenantID, plan.Name, plan.MonthlyBudgetCents)
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel TENANT",
		Short: "Cancel a tenant's subscription so its limits fall back to the defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := context.Background()

			sub, err := a.billing.ActiveSubscription(ctx, args[0])
			if err != nil {
				return err
			}
			if sub == nil {
				fmt.Printf("%s has no active subscription.\n", args[0])
				return nil
			}
			if err := a.billing.Cancel(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s subscription to %s canceled.\n", sub.TenantID, sub.PlanID)
			return nil
		},
	}

	var tenant string
	requestsCmd := &cobra.Command{
		Use:   "requests",
		Short: "List upgrade requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			reqs, err := a.billing.ListUpgradeRequests(context.Background(), tenant)
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Println("No upgrade requests.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTENANT\tFROM\tTO\tSTATUS\tCREATED")
			for _, r := range reqs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.TenantID, r.FromPlanID, r.ToPlanID, r.Status, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	requestsCmd.Flags().StringVar(&tenant, "tenant", "", "filter by tenant")

	var reject bool
	resolveCmd := &cobra.Command{
		Use:   "resolve REQUEST_ID",
		Short: "Approve (default) or reject a pending upgrade request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := models.UpgradeApproved
			if reject {
				status = models.UpgradeRejected
			}
			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := context.Background()

			r, err := a.billing.ResolveUpgradeRequest(ctx, args[0], status)
			if err != nil {
				return err
			}
			if status == models.UpgradeApproved {
				plan, err := a.billing.Plan(ctx, r.ToPlanID)
				if err != nil {
					return err
				}
				if plan != nil {
					if err := a.ledger.ApplyPlan(ctx, r.TenantID, *plan, actor); err != nil {
						return err
					}
				}
			}
			fmt.Printf("Upgrade request %s %s.\n", r.ID, r.Status)
			return nil
		},
	}
	resolveCmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&actor, "actor", "cli", "actor recorded in the audit log")
	cmd.AddCommand(syncCmd, listCmd, subscribeCmd, cancelCmd, requestsCmd, resolveCmd)
	return cmd
}
