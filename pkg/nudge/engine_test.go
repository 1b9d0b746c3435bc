package nudge

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/governor/pkg/analytics"
	"github.com/pario-ai/governor/pkg/audit"
	"github.com/pario-ai/governor/pkg/besteffort"
	"github.com/pario-ai/governor/pkg/billing"
	"github.com/pario-ai/governor/pkg/budget"
	"github.com/pario-ai/governor/pkg/config"
	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/tracker"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine    *Engine
	ledger    *budget.Ledger
	tracker   *tracker.SQLiteTracker
	audit     *audit.Logger
	analytics *analytics.Store
	billing   *billing.Store
	clock     *clock
}

var member = models.Member{TenantID: "t1", MembershipID: "m1", UserID: "u1"}

var plans = []models.Plan{
	{ID: "plan_free", Name: "FREE", MonthlyBudgetCents: 500, MonthlyCallLimit: 100},
	{ID: "plan_pro", Name: "PRO", MonthlyBudgetCents: 5_000, MonthlyCallLimit: 2_000, AllowExpensive: true},
	{ID: "plan_enterprise", Name: "ENTERPRISE", MonthlyBudgetCents: 50_000, MonthlyCallLimit: -1, AllowExpensive: true, SupportTier: "priority"},
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{clock: &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}}

	var err error
	f.tracker, err = tracker.New(filepath.Join(dir, "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.tracker.Close() })

	f.audit, err = audit.New(models.AuditConfig{DBPath: filepath.Join(dir, "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.audit.Close() })

	f.analytics, err = analytics.New(filepath.Join(dir, "analytics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.analytics.Close() })

	f.billing, err = billing.New(filepath.Join(dir, "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.billing.Close() })
	_, err = f.billing.SyncPlans(context.Background(), plans)
	require.NoError(t, err)

	runner := besteffort.New(zerolog.Nop())
	t.Cleanup(runner.Wait)

	cfg := config.Default()
	f.ledger = budget.New(cfg.Ledger, f.tracker,
		budget.WithPlans(f.billing),
		budget.WithEvents(f.audit),
		budget.WithRunner(runner),
		budget.WithClock(f.clock.Now),
	)
	opts = append([]Option{
		WithAnalytics(f.analytics),
		WithBilling(f.billing),
		WithRunner(runner),
		WithClock(f.clock.Now),
	}, opts...)
	f.engine = New(cfg.Nudge, f.ledger, f.audit, opts...)
	return f
}

func (f *fixture) spend(t *testing.T, month string, cents, calls int64) {
	t.Helper()
	require.NoError(t, f.tracker.IncrementUsage(context.Background(), member.TenantID, month, month+"-01",
		models.UsageDelta{Calls: calls, CostCents: cents}))
}

func (f *fixture) interactions(t *testing.T, n int, in models.Interaction) {
	t.Helper()
	in.TenantID = member.TenantID
	in.CreatedAt = f.clock.Now()
	for range n {
		require.NoError(t, f.analytics.Record(context.Background(), in))
	}
}

func (f *fixture) countEvents(t *testing.T, typ string) int {
	t.Helper()
	events, err := f.audit.Query(context.Background(), models.EventQueryOpts{TenantID: member.TenantID, Type: typ})
	require.NoError(t, err)
	return len(events)
}

func keys(nudges []models.Nudge) []string {
	out := make([]string, 0, len(nudges))
	for _, n := range nudges {
		out = append(out, n.Key)
	}
	return out
}

func TestActiveNudgesNone(t *testing.T) {
	f := setup(t)
	nudges, err := f.engine.ActiveNudges(context.Background(), member)
	require.NoError(t, err)
	assert.Empty(t, nudges)
}

func TestActiveNudgesInvalidMember(t *testing.T) {
	f := setup(t)
	_, err := f.engine.ActiveNudges(context.Background(), models.Member{})
	assert.ErrorIs(t, err, ErrInvalidMember)
}

func TestNearLimitCooldown(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.spend(t, "2026-03", 420, 3)

	nudges, err := f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	require.Len(t, nudges, 1)
	n := nudges[0]
	assert.Equal(t, models.NudgeNearLimit, n.Key)
	assert.Equal(t, models.SeverityWarn, n.Severity)
	assert.True(t, n.Dismissible)
	assert.Equal(t, int64(84), n.Metrics["budget_percent"])

	usage, err := f.ledger.Usage(ctx, member.TenantID, "")
	require.NoError(t, err)
	assert.NotNil(t, usage.WarnedAt, "near-limit sets the warning watermark")

	nudges, err = f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	assert.Empty(t, nudges, "shown once per cooldown")

	f.clock.Advance(8 * 24 * time.Hour)
	nudges, err = f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, []string{models.NudgeNearLimit}, keys(nudges))

	// other members have their own cooldown
	other := models.Member{TenantID: member.TenantID, MembershipID: "m2"}
	nudges, err = f.engine.ActiveNudges(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, []string{models.NudgeNearLimit}, keys(nudges))
}

func TestCooldownWithoutMembership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.spend(t, "2026-03", 420, 3)

	nudges, err := f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	require.Equal(t, []string{models.NudgeNearLimit}, keys(nudges))

	owner := models.Member{TenantID: member.TenantID, UserID: "owner"}
	nudges, err = f.engine.ActiveNudges(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{models.NudgeNearLimit}, keys(nudges), "m1's nudge does not count for the tenant owner")

	nudges, err = f.engine.ActiveNudges(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, nudges)
}

func TestNearLimitByCalls(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.billing.Subscribe(ctx, member.TenantID, "plan_free")
	require.NoError(t, err)
	f.spend(t, "2026-03", 10, 90)

	nudges, err := f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	require.Equal(t, []string{models.NudgeNearLimit}, keys(nudges))
	assert.Contains(t, nudges[0].Message, "call limit")

	usage, err := f.ledger.Usage(ctx, member.TenantID, "")
	require.NoError(t, err)
	assert.NotNil(t, usage.CallsWarnedAt)
	assert.Nil(t, usage.WarnedAt)
}

func TestLimitExceededAlwaysShown(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.spend(t, "2026-03", 500, 10)

	for range 3 {
		nudges, err := f.engine.ActiveNudges(ctx, member)
		require.NoError(t, err)
		require.Equal(t, []string{models.NudgeLimitExceeded}, keys(nudges))
		n := nudges[0]
		assert.Equal(t, models.SeverityBlock, n.Severity)
		assert.False(t, n.Dismissible)
		require.Len(t, n.CTAs, 1)
		assert.Equal(t, models.ActionUpgrade, n.CTAs[0].Action)
	}
	assert.Equal(t, 3, f.countEvents(t, models.EventNudgeShown))
}

func TestLimitExceededPrioritySupport(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.billing.Subscribe(ctx, member.TenantID, "plan_enterprise")
	require.NoError(t, err)
	f.spend(t, "2026-03", 50_000, 10)

	nudges, err := f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	require.Len(t, nudges, 1)
	var actions []string
	for _, c := range nudges[0].CTAs {
		actions = append(actions, c.Action)
	}
	assert.Equal(t, []string{models.ActionUpgrade, models.ActionTemporaryOverride}, actions)
}

func TestDismiss(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.engine.Dismiss(ctx, member, models.NudgeLimitExceeded), ErrNotDismissible)
	assert.ErrorIs(t, f.engine.Dismiss(ctx, member, "bogus"), ErrUnknownNudge)
	assert.ErrorIs(t, f.engine.Dismiss(ctx, models.Member{}, models.NudgeNearLimit), ErrInvalidMember)

	require.NoError(t, f.engine.Dismiss(ctx, member, models.NudgeNearLimit))
	f.spend(t, "2026-03", 450, 3)

	nudges, err := f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	assert.Empty(t, nudges, "dismissed nudge is suppressed for its cooldown")
	assert.Equal(t, 1, f.countEvents(t, models.EventNudgeDismissed))
}

func TestRepeatExceeded(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.spend(t, "2026-02", 600, 10)
	f.spend(t, "2026-03", 600, 10)

	nudges, err := f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, []string{models.NudgeLimitExceeded, models.NudgeRepeatExceeded}, keys(nudges))
	assert.Equal(t, 1, f.countEvents(t, models.EventUpgradeRecommended))

	nudges, err = f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, []string{models.NudgeLimitExceeded}, keys(nudges))
	assert.Equal(t, 1, f.countEvents(t, models.EventUpgradeRecommended))
}

func TestRepeatExceededNeedsBothMonths(t *testing.T) {
	f := setup(t)
	f.spend(t, "2026-02", 100, 10)
	f.spend(t, "2026-03", 600, 10)

	nudges, err := f.engine.ActiveNudges(context.Background(), member)
	require.NoError(t, err)
	assert.Equal(t, []string{models.NudgeLimitExceeded}, keys(nudges))
}

func TestHeavyExpensive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.interactions(t, 3, models.Interaction{Tier: models.TierExpensive, Model: "gpt-4o"})
	f.interactions(t, 7, models.Interaction{Tier: models.TierCheap, Model: "gpt-4o-mini"})

	// the default plan allows the expensive tier
	nudges, err := f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	assert.Empty(t, nudges)

	deny := false
	require.NoError(t, f.ledger.SetOverride(ctx, models.TenantOverride{TenantID: member.TenantID, AllowExpensive: &deny}, "admin"))
	nudges, err = f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	require.Equal(t, []string{models.NudgeHeavyExpensive}, keys(nudges))
	assert.Equal(t, models.SeverityInfo, nudges[0].Severity)
	assert.Equal(t, int64(3), nudges[0].Metrics["expensive_calls"])

	f.clock.Advance(8 * 24 * time.Hour)
	nudges, err = f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	assert.Empty(t, nudges, "monthly cooldown")
}

func TestHeavyTemplatesAndOrdering(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.interactions(t, 50, models.Interaction{Tier: models.TierCheap, Model: "gpt-4o-mini", Template: "rent-reminder"})
	f.spend(t, "2026-02", 600, 10)
	f.spend(t, "2026-03", 600, 10)

	nudges, err := f.engine.ActiveNudges(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, []string{models.NudgeLimitExceeded, models.NudgeRepeatExceeded, models.NudgeHeavyTemplates}, keys(nudges))
}

type failingAnalytics struct{}

func (failingAnalytics) Snapshot(context.Context, string, time.Time) (models.AnalyticsSnapshot, error) {
	return models.AnalyticsSnapshot{}, errors.New("analytics down")
}

func TestRuleFailureDoesNotSuppressOthers(t *testing.T) {
	f := setup(t, WithAnalytics(failingAnalytics{}))
	f.spend(t, "2026-03", 500, 10)

	nudges, err := f.engine.ActiveNudges(context.Background(), member)
	require.NoError(t, err)
	assert.Equal(t, []string{models.NudgeLimitExceeded}, keys(nudges))
}

func TestCreateRecommendedUpgradeRequest(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.engine.CreateRecommendedUpgradeRequest(ctx, member)
	assert.ErrorIs(t, err, ErrNoSubscription)

	_, err = f.billing.Subscribe(ctx, member.TenantID, "plan_free")
	require.NoError(t, err)
	f.spend(t, "2026-03", 450, 40)

	req, err := f.engine.CreateRecommendedUpgradeRequest(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, "plan_free", req.FromPlanID)
	assert.Equal(t, "plan_pro", req.ToPlanID)
	assert.Equal(t, models.UpgradePending, req.Status)
	assert.Contains(t, req.Note, "450 of 500 cents")

	again, err := f.engine.CreateRecommendedUpgradeRequest(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, req.ID, again.ID)
	assert.Equal(t, 1, f.countEvents(t, models.EventUpgradeRequested))
}

func TestCreateRecommendedUpgradeRequestEnterprise(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.billing.Subscribe(ctx, member.TenantID, "plan_free")
	require.NoError(t, err)
	f.spend(t, "2026-02", 600, 10)
	f.spend(t, "2026-03", 600, 10)
	f.interactions(t, 60, models.Interaction{Tier: models.TierCheap, Model: "gpt-4o-mini", Template: "lease-summary"})

	req, err := f.engine.CreateRecommendedUpgradeRequest(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, "plan_enterprise", req.ToPlanID)
	assert.Contains(t, req.Note, "exceeded this month and last month")
}

func TestCreateRecommendedUpgradeRequestTopPlan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.billing.Subscribe(ctx, member.TenantID, "plan_enterprise")
	require.NoError(t, err)

	_, err = f.engine.CreateRecommendedUpgradeRequest(ctx, member)
	assert.ErrorIs(t, err, ErrAlreadyTopPlan)
}

func TestPickPlan(t *testing.T) {
	free, pro, ent := plans[0], plans[1], plans[2]

	p, err := pickPlan(free, plans, TargetEnterprise)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, p.ID)

	p, err = pickPlan(free, []models.Plan{free, pro}, TargetEnterprise)
	require.NoError(t, err)
	assert.Equal(t, pro.ID, p.ID, "falls back to PRO")

	_, err = pickPlan(free, []models.Plan{free}, TargetPro)
	assert.ErrorIs(t, err, ErrNoEligiblePlan)

	_, err = pickPlan(ent, plans, TargetPro)
	assert.ErrorIs(t, err, ErrAlreadyTopPlan)

	proto := models.Plan{ID: "plan_prototype", Name: "Prototype", MonthlyBudgetCents: 9_000}
	p, err = pickPlan(free, []models.Plan{free, proto, pro}, TargetPro)
	require.NoError(t, err)
	assert.Equal(t, pro.ID, p.ID)

	_, err = pickPlan(free, []models.Plan{free, proto}, TargetPro)
	assert.ErrorIs(t, err, ErrNoEligiblePlan)
}
