package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/governor/pkg/models"
)

func formatCallLimit(limit int64) string {
	if limit <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}

// formatBudget formats a tenant's limits and current usage.
func formatBudget(l models.EffectiveLimits, u models.MonthlyUsage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tenant %s", l.TenantID)
	if l.PlanName != "" {
		fmt.Fprintf(&b, " (plan %s)", l.PlanName)
	}
	if l.Overridden {
		b.WriteString(" [override]")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Budget:          %d / %d cents (%d%%)\n", u.CostCents, l.BudgetCents, models.Percent(u.CostCents, l.BudgetCents))
	fmt.Fprintf(&b, "  Calls:           %d / %s\n", u.CallCount, formatCallLimit(l.CallLimit))
	fmt.Fprintf(&b, "  Expensive tier:  %t\n", l.AllowExpensive)

	state := "normal"
	switch {
	case u.BlockedAt != nil:
		state = "blocked since " + u.BlockedAt.Format("2006-01-02 15:04")
	case u.WarnedAt != nil:
		state = "warned since " + u.WarnedAt.Format("2006-01-02 15:04")
	}
	fmt.Fprintf(&b, "  State:           %s\n", state)
	return b.String()
}

// formatUsage formats monthly usage rows as a text table.
func formatUsage(rows []models.MonthlyUsage) string {
	if len(rows) == 0 {
		return "No usage recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-8s %8s %10s %10s %10s  %s\n",
		"Tenant", "Month", "Calls", "Input", "Output", "Cents", "State")
	b.WriteString(strings.Repeat("-", 86) + "\n")
	for _, r := range rows {
		state := "normal"
		if r.BlockedAt != nil {
			state = "blocked"
		} else if r.WarnedAt != nil {
			state = "warned"
		}
		fmt.Fprintf(&b, "%-24s %-8s %8d %10d %10d %10d  %s\n",
			r.TenantID, r.Month, r.CallCount, r.InputTokens, r.OutputTokens, r.CostCents, state)
	}
	return b.String()
}

// formatCacheInfo formats cache statistics as text.
func formatCacheInfo(info models.CacheInfo) string {
	return fmt.Sprintf("Response Cache\n"+
		"  Entries:    %d / %d\n"+
		"  Hits:       %d\n"+
		"  Misses:     %d\n"+
		"  Evictions:  %d\n"+
		"  Hit Rate:   %.1f%%\n"+
		"  Savings:    $%.4f\n"+
		"  TTL:        %s\n",
		info.Entries, info.MaxSize, info.Hits, info.Misses, info.Evictions,
		info.HitRate*100, info.EstimatedSavingsUSD, info.TTL)
}

// formatSavings formats a routing savings projection.
func formatSavings(e models.SavingsEstimate) string {
	return fmt.Sprintf("Routing Savings (%d calls/month, %.0f%% to %s)\n"+
		"  All on %s:  $%.2f\n"+
		"  Routed:        $%.2f\n"+
		"  Savings:       $%.2f (%d%%)\n",
		e.MonthlyCalls, e.CheapShare*100, e.CheapModel,
		e.ExpensiveModel, float64(e.AllExpensiveCents)/100,
		float64(e.RoutedCents)/100,
		float64(e.SavingsCents)/100, e.SavingsPercent)
}

// formatNudges formats nudges, most severe first.
func formatNudges(nudges []models.Nudge) string {
	if len(nudges) == 0 {
		return "No active nudges."
	}
	var b strings.Builder
	for _, n := range nudges {
		fmt.Fprintf(&b, "[%s] %s (%s)\n  %s\n", n.Severity, n.Title, n.Key, n.Message)
		for _, c := range n.CTAs {
			fmt.Fprintf(&b, "  -> %s (%s)\n", c.Label, c.Action)
		}
		if !n.Dismissible {
			b.WriteString("  not dismissible\n")
		}
	}
	return b.String()
}

// formatEvents formats events as a text table.
func formatEvents(events []models.Event) string {
	if len(events) == 0 {
		return "No events found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %-24s %-20s\n", "Time", "Tenant", "Type", "Actor")
	b.WriteString(strings.Repeat("-", 88) + "\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%-20s %-20s %-24s %-20s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.TenantID, e.Type, e.Actor)
	}
	return b.String()
}
