package models

// Severity orders nudges for display; higher ranks sort first.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityBlock Severity = "BLOCK"
)

// Rank returns the sort weight of s.
func (s Severity) Rank() int {
	switch s {
	case SeverityBlock:
		return 3
	case SeverityWarn:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Nudge keys.
const (
	NudgeNearLimit      = "near_limit"
	NudgeLimitExceeded  = "limit_exceeded"
	NudgeRepeatExceeded = "repeat_exceeded"
	NudgeHeavyExpensive = "heavy_expensive_usage"
	NudgeHeavyTemplates = "heavy_template_usage"
)

// CTA actions.
const (
	ActionUpgrade           = "request_upgrade"
	ActionTemporaryOverride = "request_temporary_override"
	ActionViewUsage         = "view_usage"
)

// CTA is a call-to-action attached to a nudge.
type CTA struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// Nudge is a user-facing advisory or blocking notice.
type Nudge struct {
	Key         string           `json:"key"`
	Severity    Severity         `json:"severity"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	Dismissible bool             `json:"dismissible"`
	CTAs        []CTA            `json:"ctas,omitempty"`
	Metrics     map[string]int64 `json:"metrics,omitempty"`
}

// Member identifies the user a nudge is evaluated for.
type Member struct {
	TenantID     string `json:"tenant_id"`
	MembershipID string `json:"membership_id"`
	UserID       string `json:"user_id,omitempty"`
}
