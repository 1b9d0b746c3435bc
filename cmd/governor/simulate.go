package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/governor/pkg/budget"
	"github.com/pario-ai/governor/pkg/governor"
	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/router"
)

var sampleMessages = []string{
	"How many units are vacant?",
	"Show me unit 4B",
	"how many units are VACANT?",
	"Analyze my vacancy trend over the last year",
	"Compare rent roll across buildings and forecast next quarter",
	"What is the lease end date for unit 12?",
}

func newSimulateCmd() *cobra.Command {
	var (
		configPath string
		req        models.ChatRequest
		rounds     int
		delay      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate [MESSAGE...]",
		Short: "Run chat requests through the governor with a simulated provider",
		Long: "Runs each message through cache lookup, routing, budget checks, the simulated\n" +
			"provider and usage tracking against the configured database, then prints the\n" +
			"outcome, the cache counters and the member's active nudges.",
		RunE: func(cmd *cobra.Command, args []string) error {
			messages := args
			if len(messages) == 0 {
				messages = sampleMessages
			}

			a, err := openApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := context.Background()

			provider := governor.NewSimulatedProvider(router.NewTokenCounter(a.cfg.Router.Tokenizer, a.logger), delay)
			svc := a.Service(provider)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tMESSAGE\tTIER\tMODEL\tFLAGS\tTOKENS\tBUDGET")
			n := 0
			for range rounds {
				for _, msg := range messages {
					n++
					r := req
					r.Message = msg
					resp, err := svc.Answer(ctx, r)
					var le *budget.LimitError
					switch {
					case errors.As(err, &le):
						fmt.Fprintf(w, "%d\t%s\t-\t-\trefused\t-\t%s %d/%d\n",
							n, truncate(msg, 40), le.Reason, le.Used, le.Limit)
						continue
					case err != nil:
						return err
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d/%d\t%d%%\n",
						n, truncate(msg, 40), resp.Tier, resp.Model, answerFlags(resp),
						resp.InputTokens, resp.OutputTokens, resp.Budget.PercentUsed)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			svc.Wait()

			s := a.cache.Stats()
			fmt.Printf("\nCache: %d entries, %d hits, %d misses (%.1f%% hit rate, ~$%.4f saved)\n",
				s.Entries, s.Hits, s.Misses, s.HitRate*100, s.EstimatedSavingsUSD)

			u, err := a.ledger.Usage(ctx, req.TenantID, "")
			if err != nil {
				return err
			}
			fmt.Printf("Usage: %d calls, %d cents this month\n", u.CallCount, u.CostCents)
			if req.Page != "" {
				fmt.Printf("Page %s: %d requests this counter window\n", req.Page, a.router.PageRequests(req.Page))
			}
			fmt.Println()

			nudges, err := a.nudges.ActiveNudges(ctx, models.Member{TenantID: req.TenantID, MembershipID: req.MembershipID})
			if err != nil {
				return err
			}
			fmt.Print(formatNudges(nudges))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&req.TenantID, "tenant", "demo", "tenant to charge")
	cmd.Flags().StringVar(&req.MembershipID, "member", "", "membership making the requests")
	cmd.Flags().StringVar(&req.Page, "page", "", "page the requests come from")
	cmd.Flags().StringVar(&req.Template, "template", "", "template name to record with each request")
	cmd.Flags().IntVar(&rounds, "rounds", 1, "times to replay the messages")
	cmd.Flags().DurationVar(&delay, "delay", 0, "simulated provider latency")
	return cmd
}

func answerFlags(r models.ChatResponse) string {
	var flags []string
	if r.Cached {
		flags = append(flags, "cached")
	}
	if r.Downgraded {
		flags = append(flags, "downgraded")
	}
	if r.Degraded {
		flags = append(flags, "degraded")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}
