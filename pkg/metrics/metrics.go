// Package metrics defines the prometheus collectors exported by the governor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"}, // hit/miss/expired
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_cache_evictions_total",
			Help: "Response cache evictions by cause",
		},
		[]string{"cause"}, // ttl/size
	)

	// Routing metrics
	TierDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_tier_decisions_total",
			Help: "Classifier tier decisions",
		},
		[]string{"tier", "complexity"},
	)

	TierDowngrades = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "governor_tier_downgrades_total",
			Help: "Expensive decisions downgraded because the tenant plan disallows the expensive tier",
		},
	)

	// Ledger metrics
	BudgetTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_budget_transitions_total",
			Help: "Ledger state transitions",
		},
		[]string{"state"}, // warned/blocked/calls_warned
	)

	UsageCostCents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_usage_cost_cents_total",
			Help: "Tracked AI cost in cents",
		},
		[]string{"model"},
	)

	UsageTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_usage_tokens_total",
			Help: "Tracked AI tokens",
		},
		[]string{"model", "type"}, // type: input/output
	)

	PolicyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_policy_rejections_total",
			Help: "Requests refused or degraded by budget or call limits",
		},
		[]string{"reason", "outcome"}, // outcome: refused/degraded
	)

	// Nudge metrics
	NudgesShown = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_nudges_shown_total",
			Help: "Nudges returned to users",
		},
		[]string{"key", "severity"},
	)

	BestEffortFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "governor_best_effort_failures_total",
			Help: "Best-effort operations that failed and were swallowed",
		},
		[]string{"op"},
	)
)
