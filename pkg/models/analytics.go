package models

import "time"

// Interaction is one answered chat request as seen by usage analytics.
// RequestedTier is the tier the router chose before any downgrade; empty
// means the same as Tier.
type Interaction struct {
	TenantID      string    `json:"tenant_id"`
	MembershipID  string    `json:"membership_id,omitempty"`
	Tier          Tier      `json:"tier"`
	RequestedTier Tier      `json:"requested_tier,omitempty"`
	Model         string    `json:"model"`
	Cached        bool      `json:"cached"`
	Free          bool      `json:"free"`
	Template      string    `json:"template,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AnalyticsSnapshot summarises a tenant's interaction mix for one month.
// ExpensiveCalls includes requests downgraded to the cheap tier.
type AnalyticsSnapshot struct {
	CheapCalls     int64 `json:"cheap_calls"`
	ExpensiveCalls int64 `json:"expensive_calls"`
	FreeCalls      int64 `json:"free_calls"`
	CachedCalls    int64 `json:"cached_calls"`
	TemplateRuns   int64 `json:"template_runs"`
}

// Total returns the number of interactions of any kind.
func (s AnalyticsSnapshot) Total() int64 {
	return s.CheapCalls + s.ExpensiveCalls + s.FreeCalls + s.CachedCalls
}

// ExpensiveShare returns the fraction of all interactions that asked for the
// expensive tier, whether or not they were served by it.
func (s AnalyticsSnapshot) ExpensiveShare() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.ExpensiveCalls) / float64(total)
}
