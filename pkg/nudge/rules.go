package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/pario-ai/governor/pkg/models"
)

// ledgerState is the ledger view shared by the rules of one evaluation.
type ledgerState struct {
	limits   models.EffectiveLimits
	current  models.MonthlyUsage
	previous models.MonthlyUsage
}

func (s ledgerState) budgetPercent() int { return percent(s.current.CostCents, s.limits.BudgetCents) }

func (s ledgerState) callsPercent() int {
	if s.limits.CallsUnlimited() {
		return 0
	}
	return percent(s.current.CallCount, s.limits.CallLimit)
}

func (s ledgerState) figures() map[string]int64 {
	return map[string]int64{
		"used_cents":     s.current.CostCents,
		"budget_cents":   s.limits.BudgetCents,
		"calls":          s.current.CallCount,
		"call_limit":     s.limits.CallLimit,
		"budget_percent": int64(s.budgetPercent()),
		"calls_percent":  int64(s.callsPercent()),
	}
}

// percent is used*100/limit rounded down, so 99.6% is still below the limit.
func percent(used, limit int64) int {
	if limit <= 0 {
		return 0
	}
	return int(used * 100 / limit)
}

// exceeded is the per-month "over the limit" predicate: blocked, or cost or
// calls at or past the effective limit.
func exceeded(l models.EffectiveLimits, u models.MonthlyUsage) bool {
	if u.BlockedAt != nil || u.CostCents >= l.BudgetCents {
		return true
	}
	return !l.CallsUnlimited() && u.CallCount >= l.CallLimit
}

// evaluation loads each data source at most once per ActiveNudges call.
type evaluation struct {
	e      *Engine
	member models.Member
	now    time.Time

	stateLoaded bool
	state       ledgerState
	stateErr    error

	snapLoaded bool
	snap       models.AnalyticsSnapshot
	snapErr    error
}

func (e *Engine) newEvaluation(m models.Member) *evaluation {
	return &evaluation{e: e, member: m, now: e.now().UTC()}
}

func (ev *evaluation) ledger(ctx context.Context) (ledgerState, error) {
	if ev.stateLoaded {
		return ev.state, ev.stateErr
	}
	ev.stateLoaded = true
	ev.state, ev.stateErr = ev.e.loadState(ctx, ev.member.TenantID, ev.now)
	return ev.state, ev.stateErr
}

func (ev *evaluation) analytics(ctx context.Context) (models.AnalyticsSnapshot, error) {
	if ev.snapLoaded {
		return ev.snap, ev.snapErr
	}
	ev.snapLoaded = true
	if ev.e.analytics != nil {
		ev.snap, ev.snapErr = ev.e.analytics.Snapshot(ctx, ev.member.TenantID, ev.now)
		if ev.snapErr != nil {
			ev.snapErr = fmt.Errorf("analytics snapshot: %w", ev.snapErr)
		}
	}
	return ev.snap, ev.snapErr
}

func (e *Engine) loadState(ctx context.Context, tenantID string, now time.Time) (ledgerState, error) {
	var s ledgerState
	var err error
	if s.limits, err = e.ledger.EffectiveLimits(ctx, tenantID); err != nil {
		return s, fmt.Errorf("effective limits: %w", err)
	}
	if s.current, err = e.ledger.Usage(ctx, tenantID, models.MonthKey(now)); err != nil {
		return s, fmt.Errorf("current usage: %w", err)
	}
	if s.previous, err = e.ledger.Usage(ctx, tenantID, models.PreviousMonthKey(now)); err != nil {
		return s, fmt.Errorf("previous usage: %w", err)
	}
	return s, nil
}

func upgradeCTA() models.CTA {
	return models.CTA{Label: "Request plan upgrade", Action: models.ActionUpgrade}
}

func (e *Engine) limitExceeded(ctx context.Context, ev *evaluation) (*models.Nudge, error) {
	st, err := ev.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if !exceeded(st.limits, st.current) {
		return nil, nil
	}
	ctas := []models.CTA{upgradeCTA()}
	if st.limits.SupportTier == "priority" {
		ctas = append(ctas, models.CTA{Label: "Request temporary override", Action: models.ActionTemporaryOverride})
	}
	msg := fmt.Sprintf("This month's AI budget is used up (%d of %d cents). Assistant answers are limited until next month or an upgrade.",
		st.current.CostCents, st.limits.BudgetCents)
	if st.current.CostCents < st.limits.BudgetCents && st.current.BlockedAt == nil {
		msg = fmt.Sprintf("This month's AI call limit is reached (%d of %d calls). Assistant answers are limited until next month or an upgrade.",
			st.current.CallCount, st.limits.CallLimit)
	}
	return &models.Nudge{
		Key:         models.NudgeLimitExceeded,
		Severity:    models.SeverityBlock,
		Title:       "AI usage limit reached",
		Message:     msg,
		Dismissible: false,
		CTAs:        ctas,
		Metrics:     st.figures(),
	}, nil
}

func (e *Engine) nearLimit(ctx context.Context, ev *evaluation) (*models.Nudge, error) {
	st, err := ev.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if exceeded(st.limits, st.current) {
		return nil, nil
	}
	budgetPct, callsPct := st.budgetPercent(), st.callsPercent()
	pct := max(budgetPct, callsPct)
	if pct < e.cfg.NearLimitPercent || pct >= 100 {
		return nil, nil
	}

	if st.current.WarnedAt == nil && st.current.CallsWarnedAt == nil {
		mark := e.ledger.MarkWarned
		if callsPct > budgetPct {
			mark = e.ledger.MarkCallsWarned
		}
		if _, err := mark(ctx, ev.member.TenantID); err != nil {
			e.logger.Warn().Err(err).Str("tenant", ev.member.TenantID).Msg("set warning watermark")
		}
	}

	ok, err := e.cooledDown(ctx, ev.member, models.NudgeNearLimit, e.cfg.Cooldown)
	if err != nil || !ok {
		return nil, err
	}

	what := "budget"
	if callsPct > budgetPct {
		what = "call limit"
	}
	return &models.Nudge{
		Key:         models.NudgeNearLimit,
		Severity:    models.SeverityWarn,
		Title:       "Approaching your AI limit",
		Message:     fmt.Sprintf("You have used %d%% of this month's AI %s.", pct, what),
		Dismissible: true,
		CTAs:        []models.CTA{upgradeCTA(), {Label: "View usage", Action: models.ActionViewUsage}},
		Metrics:     st.figures(),
	}, nil
}

func (e *Engine) repeatExceeded(ctx context.Context, ev *evaluation) (*models.Nudge, error) {
	st, err := ev.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if !exceeded(st.limits, st.current) || !exceeded(st.limits, st.previous) {
		return nil, nil
	}
	ok, err := e.cooledDown(ctx, ev.member, models.NudgeRepeatExceeded, e.cfg.Cooldown)
	if err != nil || !ok {
		return nil, err
	}
	last, err := e.events.LastEvent(ctx, models.EventQueryOpts{
		TenantID:     ev.member.TenantID,
		MembershipID: ev.member.MembershipID,
		ExactMember:  true,
		Type:         models.EventUpgradeRecommended,
		Since:        ev.now.Add(-7 * 24 * time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", models.EventUpgradeRecommended, err)
	}
	if last != nil {
		return nil, nil
	}

	e.record(ctx, ev.member, models.EventUpgradeRecommended, map[string]any{
		"nudge_key":      models.NudgeRepeatExceeded,
		"month":          models.MonthKey(ev.now),
		"previous_month": models.PreviousMonthKey(ev.now),
	})
	return &models.Nudge{
		Key:         models.NudgeRepeatExceeded,
		Severity:    models.SeverityWarn,
		Title:       "Limits exceeded two months running",
		Message:     "Your organisation hit its AI limit this month and last month. A larger plan would avoid interruptions.",
		Dismissible: true,
		CTAs:        []models.CTA{upgradeCTA()},
		Metrics:     st.figures(),
	}, nil
}

func (e *Engine) heavyExpensive(ctx context.Context, ev *evaluation) (*models.Nudge, error) {
	snap, err := ev.analytics(ctx)
	if err != nil {
		return nil, err
	}
	if snap.ExpensiveShare() <= e.cfg.ExpensiveShareLimit {
		return nil, nil
	}
	st, err := ev.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if st.limits.AllowExpensive {
		return nil, nil
	}
	ok, err := e.cooledDown(ctx, ev.member, models.NudgeHeavyExpensive, e.cfg.MonthlyCooldown)
	if err != nil || !ok {
		return nil, err
	}
	return &models.Nudge{
		Key:      models.NudgeHeavyExpensive,
		Severity: models.SeverityInfo,
		Title:    "Many questions need the advanced model",
		Message: fmt.Sprintf("%d of %d questions this month needed the advanced model, which your plan does not include.",
			snap.ExpensiveCalls, snap.Total()),
		Dismissible: true,
		CTAs:        []models.CTA{upgradeCTA()},
		Metrics: map[string]int64{
			"expensive_calls": snap.ExpensiveCalls,
			"total_calls":     snap.Total(),
		},
	}, nil
}

func (e *Engine) heavyTemplates(ctx context.Context, ev *evaluation) (*models.Nudge, error) {
	snap, err := ev.analytics(ctx)
	if err != nil {
		return nil, err
	}
	if snap.TemplateRuns < e.cfg.TemplateRunsThreshold {
		return nil, nil
	}
	ok, err := e.cooledDown(ctx, ev.member, models.NudgeHeavyTemplates, e.cfg.MonthlyCooldown)
	if err != nil || !ok {
		return nil, err
	}
	return &models.Nudge{
		Key:         models.NudgeHeavyTemplates,
		Severity:    models.SeverityInfo,
		Title:       "Templates are a big part of your workflow",
		Message:     fmt.Sprintf("You ran %d templates this month.", snap.TemplateRuns),
		Dismissible: true,
		CTAs:        []models.CTA{upgradeCTA(), {Label: "View usage", Action: models.ActionViewUsage}},
		Metrics:     map[string]int64{"template_runs": snap.TemplateRuns},
	}, nil
}
