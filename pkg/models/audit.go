package models

import "time"

// Event types written to the event log.
const (
	EventBudgetWarned       = "ai_budget_warned"
	EventBudgetBlocked      = "ai_budget_blocked"
	EventBudgetUpdated      = "ai_budget_updated"
	EventOverrideUpdated    = "ai_override_updated"
	EventCallsWarned        = "ai_calls_warned"
	EventNudgeShown         = "nudge_shown"
	EventNudgeDismissed     = "nudge_dismissed"
	EventUpgradeRecommended = "upgrade_recommended"
	EventUpgradeRequested   = "upgrade_requested"
)

// Event is a single row of the tenant event/audit log.
type Event struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	MembershipID string         `json:"membership_id,omitempty"`
	Type         string         `json:"type"`
	Actor        string         `json:"actor,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuditConfig controls the event log subsystem.
type AuditConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// EventQueryOpts specifies filters for querying events.
type EventQueryOpts struct {
	TenantID     string
	MembershipID string
	// ExactMember filters on MembershipID even when it is empty, so events
	// without a membership are not matched by every member.
	ExactMember bool
	Type        string
	Since       time.Time
	// MetaPath/MetaValue filter on a gjson path inside the metadata document.
	MetaPath  string
	MetaValue string
	Limit     int
}

// EventStat holds aggregate event counts for a type/day combination.
type EventStat struct {
	Type  string
	Day   string
	Count int
}
