package models

import "time"

// MonthFormat is the layout of the month component of usage keys.
const MonthFormat = "2006-01"

// MonthKey returns the "YYYY-MM" key for t in UTC.
func MonthKey(t time.Time) string {
	return t.UTC().Format(MonthFormat)
}

// PreviousMonthKey returns the month key immediately preceding t's month.
func PreviousMonthKey(t time.Time) string {
	u := t.UTC()
	first := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return MonthKey(first.AddDate(0, -1, 0))
}

// MonthBounds returns the start (inclusive) and end (exclusive) of t's month in UTC.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	u := t.UTC()
	start := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// MonthlyUsage holds per-tenant counters for one calendar month.
type MonthlyUsage struct {
	TenantID      string     `json:"tenant_id"`
	Month         string     `json:"month"`
	CallCount     int64      `json:"call_count"`
	InputTokens   int64      `json:"input_tokens"`
	OutputTokens  int64      `json:"output_tokens"`
	CostCents     int64      `json:"cost_cents"`
	WarnedAt      *time.Time `json:"warned_at,omitempty"`
	BlockedAt     *time.Time `json:"blocked_at,omitempty"`
	CallsWarnedAt *time.Time `json:"calls_warned_at,omitempty"`
}

// DailyUsage is the per-day call counter used by the daily call cap.
type DailyUsage struct {
	TenantID  string `json:"tenant_id"`
	Day       string `json:"day"`
	CallCount int64  `json:"call_count"`
}

// UsageDelta is one increment applied to the usage counters.
type UsageDelta struct {
	Calls        int64
	InputTokens  int64
	OutputTokens int64
	CostCents    int64
}

// Percent returns used*100/limit rounded to the nearest integer, 0 when limit <= 0.
func Percent(used, limit int64) int {
	if limit <= 0 {
		return 0
	}
	return int((used*100 + limit/2) / limit)
}
