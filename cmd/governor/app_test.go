package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/governor/pkg/governor"
	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/router"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "governor.yaml")
	body := fmt.Sprintf("db_path: %s\nlog:\n  level: error\n%s", filepath.Join(dir, "governor.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestOpenAppWiresSharedDatabase(t *testing.T) {
	path := writeConfig(t, `plans:
  - id: free
    name: Free
    monthly_budget_cents: 200
    monthly_call_limit: 50
  - id: pro
    name: Pro
    monthly_budget_cents: 5000
    monthly_call_limit: -1
    allow_expensive: true
`)
	a, err := openApp(path)
	require.NoError(t, err)
	defer a.Close()
	ctx := context.Background()

	assert.Equal(t, a.cfg.DBPath, a.cfg.Audit.DBPath)

	n, err := a.billing.SyncPlans(ctx, a.cfg.Plans)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = a.billing.Subscribe(ctx, "t1", "free")
	require.NoError(t, err)
	limits, err := a.ledger.EffectiveLimits(ctx, "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 200, limits.BudgetCents)
	assert.EqualValues(t, 50, limits.CallLimit)

	svc := a.Service(governor.NewSimulatedProvider(router.HeuristicCounter{}, 0))
	assert.Same(t, svc, a.Service(nil))

	resp, err := svc.Answer(ctx, models.ChatRequest{TenantID: "t1", Message: "How many units are vacant?"})
	require.NoError(t, err)
	assert.Equal(t, models.TierCheap, resp.Tier)
	svc.Wait()

	u, err := a.ledger.Usage(ctx, "t1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, u.CallCount)
}

func TestOpenAppCacheDisabled(t *testing.T) {
	a, err := openApp(writeConfig(t, "cache:\n  enabled: false\n"))
	require.NoError(t, err)
	defer a.Close()

	svc := a.Service(governor.NewSimulatedProvider(nil, 0))
	for range 2 {
		resp, err := svc.Answer(context.Background(), models.ChatRequest{TenantID: "t1", Message: "hello"})
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	}
	assert.Zero(t, a.cache.Len())
}

func TestPlansCancelCommand(t *testing.T) {
	path := writeConfig(t, `plans:
  - id: pro
    name: Pro
    monthly_budget_cents: 5000
    monthly_call_limit: -1
`)
	a, err := openApp(path)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = a.billing.SyncPlans(ctx, a.cfg.Plans)
	require.NoError(t, err)
	_, err = a.billing.Subscribe(ctx, "t1", "pro")
	require.NoError(t, err)
	a.Close()

	cmd := newPlansCmd()
	cmd.SetArgs([]string{"cancel", "t1", "-c", path})
	require.NoError(t, cmd.Execute())

	a, err = openApp(path)
	require.NoError(t, err)
	defer a.Close()
	sub, err := a.billing.ActiveSubscription(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, sub)
	limits, err := a.ledger.EffectiveLimits(ctx, "t1")
	require.NoError(t, err)
	assert.NotEqual(t, "Pro", limits.PlanName)
}

func TestSimulateCommandCountsPage(t *testing.T) {
	path := writeConfig(t, "")
	cmd := newSimulateCmd()
	cmd.SetArgs([]string{"-c", path, "--tenant", "t1", "--page", "Leases", "When is rent due?", "Show me unit 4B"})
	require.NoError(t, cmd.Execute())

	a, err := openApp(path)
	require.NoError(t, err)
	defer a.Close()
	u, err := a.ledger.Usage(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, u.CallCount)
}

func TestOpenAppBadConfig(t *testing.T) {
	_, err := openApp(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFormatEvents(t *testing.T) {
	assert.Equal(t, "No events found.\n", formatEvents(nil))

	out := formatEvents([]models.Event{{
		TenantID:  "acme",
		Type:      models.EventNudgeShown,
		Actor:     "user-1",
		Metadata:  map[string]any{"severity": "WARN", "nudge_key": "near_limit"},
		CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}})
	assert.Contains(t, out, "2026-03-10 12:00:00")
	assert.Contains(t, out, "nudge_key=near_limit severity=WARN")
}

func TestFormatNudges(t *testing.T) {
	assert.Equal(t, "No active nudges.\n", formatNudges(nil))

	out := formatNudges([]models.Nudge{
		{Key: models.NudgeLimitExceeded, Severity: models.SeverityBlock, Title: "Limit reached",
			CTAs: []models.CTA{{Label: "Request plan upgrade", Action: models.ActionUpgrade}}},
		{Key: models.NudgeNearLimit, Severity: models.SeverityWarn, Title: "Almost there", Dismissible: true},
	})
	assert.Contains(t, out, "[BLOCK] Limit reached (limit_exceeded)")
	assert.Contains(t, out, "-> Request plan upgrade (request_upgrade)")
	assert.Contains(t, out, "not dismissible")
	assert.Contains(t, out, "[WARN] Almost there")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "unlimited", callLimit(-1))
	assert.Equal(t, "unlimited", callLimit(0))
	assert.Equal(t, "25", callLimit(25))
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "-", answerFlags(models.ChatResponse{}))
	assert.Equal(t, "cached,degraded", answerFlags(models.ChatResponse{Cached: true, Degraded: true}))

	since, err := parseSince("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2026, since.Year())
	_, err = parseSince("March")
	assert.Error(t, err)
}
