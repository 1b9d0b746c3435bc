package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pario-ai/governor/pkg/models"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

type tool struct {
	def    ToolDefinition
	handle toolHandler
}

func str(desc string) Property { return Property{Type: "string", Description: desc} }

var tools = []tool{
	{
		def: ToolDefinition{
			Name:        "governor_budget",
			Description: "Show a tenant's effective AI limits and this month's usage against them.",
			InputSchema: InputSchema{
				Type:       "object",
				Required:   []string{"tenant_id"},
				Properties: map[string]Property{"tenant_id": str("Tenant to inspect")},
			},
		},
		handle: handleBudget,
	},
	{
		def: ToolDefinition{
			Name:        "governor_usage",
			Description: "List every tenant's usage for a month.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"month": str("Month as YYYY-MM (optional, defaults to the current month)")},
			},
		},
		handle: handleUsage,
	},
	{
		def: ToolDefinition{
			Name:        "governor_cache_stats",
			Description: "Show response cache statistics (entries, hits, misses, hit rate, estimated savings).",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
		},
		handle: handleCacheStats,
	},
	{
		def: ToolDefinition{
			Name:        "governor_cache_clear",
			Description: "Drop every cached answer so the next requests reach the provider. Hit and miss counters are kept.",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
		},
		handle: handleCacheClear,
	},
	{
		def: ToolDefinition{
			Name:        "governor_savings",
			Description: "Project monthly savings from routing simple requests to the cheap model.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"monthly_calls": {Type: "integer", Description: "Expected calls per month (optional, defaults to 10000)"},
				},
			},
		},
		handle: handleSavings,
	},
	{
		def: ToolDefinition{
			Name:        "governor_nudges",
			Description: "Evaluate the active nudges for a tenant member.",
			InputSchema: InputSchema{
				Type:     "object",
				Required: []string{"tenant_id"},
				Properties: map[string]Property{
					"tenant_id":     str("Tenant of the member"),
					"membership_id": str("Membership to evaluate (optional)"),
				},
			},
		},
		handle: handleNudges,
	},
	{
		def: ToolDefinition{
			Name:        "governor_events",
			Description: "Search the governor event log with optional filters.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"tenant_id": str("Filter by tenant (optional)"),
					"type":      str("Filter by event type, e.g. ai_budget_blocked (optional)"),
					"since":     str("Start date in YYYY-MM-DD format (optional)"),
				},
			},
		},
		handle: handleEvents,
	},
}

func toolDefinitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.def)
	}
	return defs
}

func toolByName(name string) (tool, bool) {
	for _, t := range tools {
		if t.def.Name == name {
			return t, true
		}
	}
	return tool{}, false
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

type tenantArgs struct {
	TenantID     string `json:"tenant_id"`
	MembershipID string `json:"membership_id"`
}

func handleBudget(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args tenantArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.TenantID == "" {
		return errorResult("tenant_id is required")
	}
	limits, err := s.ledger.EffectiveLimits(ctx, args.TenantID)
	if err != nil {
		return errorResult("Error fetching limits: " + err.Error())
	}
	usage, err := s.ledger.Usage(ctx, args.TenantID, "")
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatBudget(limits, usage))
}

type usageArgs struct {
	Month string `json:"month"`
}

func handleUsage(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args usageArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.Month != "" {
		if _, err := time.Parse(models.MonthFormat, args.Month); err != nil {
			return errorResult("Invalid month (use YYYY-MM): " + err.Error())
		}
	}
	rows, err := s.ledger.ListUsage(ctx, args.Month)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatUsage(rows))
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Response cache is not configured.")
	}
	return textResult(formatCacheInfo(s.cache.Info()))
}

func handleCacheClear(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.cache == nil {
		return textResult("Response cache is not configured.")
	}
	n := s.cache.Info().Entries
	s.cache.Clear()
	return textResult(fmt.Sprintf("Cleared %d cached answers.", n))
}

type savingsArgs struct {
	MonthlyCalls int64 `json:"monthly_calls"`
}

func handleSavings(_ context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.savings == nil {
		return textResult("Routing is not configured.")
	}
	var args savingsArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.MonthlyCalls < 0 {
		return errorResult("monthly_calls must be >= 0")
	}
	if args.MonthlyCalls == 0 {
		args.MonthlyCalls = 10_000
	}
	return textResult(formatSavings(s.savings.EstimateSavings(args.MonthlyCalls)))
}

func handleNudges(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.nudges == nil {
		return textResult("Nudges are not configured.")
	}
	var args tenantArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.TenantID == "" {
		return errorResult("tenant_id is required")
	}
	nudges, err := s.nudges.ActiveNudges(ctx, models.Member{TenantID: args.TenantID, MembershipID: args.MembershipID})
	if err != nil {
		return errorResult("Error evaluating nudges: " + err.Error())
	}
	return textResult(formatNudges(nudges))
}

type eventArgs struct {
	TenantID string `json:"tenant_id"`
	Type     string `json:"type"`
	Since    string `json:"since"`
}

func handleEvents(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.events == nil {
		return textResult("The event log is not configured.")
	}
	var args eventArgs
	if err := decode(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	opts := models.EventQueryOpts{TenantID: args.TenantID, Type: args.Type, Limit: 50}
	if args.Since != "" {
		t, err := time.Parse(time.DateOnly, args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}
	events, err := s.events.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching events: " + err.Error())
	}
	return textResult(formatEvents(events))
}
