package models

import "time"

// UnlimitedCalls is the call cap that disables call-count enforcement.
const UnlimitedCalls int64 = -1

// TenantBudget is the persisted per-tenant budget row.
type TenantBudget struct {
	TenantID           string    `json:"tenant_id"`
	MonthlyBudgetCents int64     `json:"monthly_budget_cents"`
	MonthlyCallLimit   int64     `json:"monthly_call_limit"`
	AllowExpensive     *bool     `json:"allow_expensive,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TenantOverride layers tenant-specific limits over plan defaults.
// A nil field means "use the default".
type TenantOverride struct {
	TenantID       string    `json:"tenant_id" yaml:"tenant_id"`
	BudgetCents    *int64    `json:"budget_cents,omitempty" yaml:"budget_cents"`
	CallLimit      *int64    `json:"call_limit,omitempty" yaml:"call_limit"`
	AllowExpensive *bool     `json:"allow_expensive,omitempty" yaml:"allow_expensive"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EffectiveLimits is the merged view of plan defaults and tenant overrides.
type EffectiveLimits struct {
	TenantID       string `json:"tenant_id"`
	PlanName       string `json:"plan_name,omitempty"`
	SupportTier    string `json:"support_tier,omitempty"`
	BudgetCents    int64  `json:"budget_cents"`
	CallLimit      int64  `json:"call_limit"`
	AllowExpensive bool   `json:"allow_expensive"`
	Overridden     bool   `json:"overridden"`
}

// CallsUnlimited reports whether the call cap is disabled.
func (l EffectiveLimits) CallsUnlimited() bool {
	return l.CallLimit <= 0
}

// Reason codes carried by budget and call checks.
const (
	ReasonOK                 = "OK"
	ReasonBudgetExceeded     = "BUDGET_EXCEEDED"
	ReasonBudgetWarning      = "BUDGET_WARNING"
	ReasonCallsLimitExceeded = "CALLS_LIMIT_EXCEEDED"
	ReasonDailyLimitExceeded = "DAILY_LIMIT_EXCEEDED"
)

// BudgetCheck is the outcome of a ledger budget check.
type BudgetCheck struct {
	TenantID    string `json:"tenant_id"`
	Month       string `json:"month"`
	Allowed     bool   `json:"allowed"`
	Blocked     bool   `json:"blocked"`
	WarnedNow   bool   `json:"warned_now"`
	SoftDegrade bool   `json:"soft_degrade"`
	Reason      string `json:"reason"`
	UsedCents   int64  `json:"used_cents"`
	BudgetCents int64  `json:"budget_cents"`
	PercentUsed int    `json:"percent_used"`
}

// CallsCheck is the outcome of a ledger call-count check.
type CallsCheck struct {
	TenantID    string `json:"tenant_id"`
	Allowed     bool   `json:"allowed"`
	SoftDegrade bool   `json:"soft_degrade"`
	Reason      string `json:"reason"`
	Used        int64  `json:"used"`
	Limit       int64  `json:"limit"`
	PercentUsed int    `json:"percent_used"`
}
