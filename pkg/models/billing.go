package models

import "time"

// Plan is a subscription plan with its AI defaults.
type Plan struct {
	ID                 string `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	Rank               *int   `json:"rank,omitempty" yaml:"rank"`
	MonthlyBudgetCents int64  `json:"monthly_budget_cents" yaml:"monthly_budget_cents"`
	MonthlyCallLimit   int64  `json:"monthly_call_limit" yaml:"monthly_call_limit"`
	AllowExpensive     bool   `json:"allow_expensive" yaml:"allow_expensive"`
	SupportTier        string `json:"support_tier,omitempty" yaml:"support_tier"`
}

// Subscription statuses.
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

// Subscription binds a tenant to a plan.
type Subscription struct {
	TenantID  string    `json:"tenant_id"`
	PlanID    string    `json:"plan_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// Upgrade request statuses.
const (
	UpgradePending  = "pending"
	UpgradeApproved = "approved"
	UpgradeRejected = "rejected"
)

// UpgradeRequest is a tenant request to move to a higher plan.
type UpgradeRequest struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	MembershipID string    `json:"membership_id"`
	FromPlanID   string    `json:"from_plan_id"`
	ToPlanID     string    `json:"to_plan_id"`
	Status       string    `json:"status"`
	Note         string    `json:"note"`
	CreatedAt    time.Time `json:"created_at"`
}
