package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/governor/pkg/besteffort"
	"github.com/pario-ai/governor/pkg/config"
	"github.com/pario-ai/governor/pkg/metrics"
	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/pricing"
	"github.com/pario-ai/governor/pkg/tracker"
)

// PlanSource resolves the plan of a tenant's active subscription.
type PlanSource interface {
	// ActivePlan returns nil when the tenant has no active subscription.
	ActivePlan(ctx context.Context, tenantID string) (*models.Plan, error)
}

// EventLogger receives ledger audit events.
type EventLogger interface {
	Log(ctx context.Context, ev models.Event) error
}

// Ledger enforces per-tenant monthly budgets and call caps.
//
// Each (tenant, month) moves NORMAL -> WARNED -> BLOCKED and never back.
// The watermarks that record those transitions are set with conditional
// updates, so concurrent checks agree on which one performed the transition.
type Ledger struct {
	cfg     config.LedgerConfig
	tracker tracker.Tracker
	plans   PlanSource
	events  EventLogger
	runner  *besteffort.Runner
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPlans sets the subscription plan lookup used for default limits.
func WithPlans(p PlanSource) Option { return func(l *Ledger) { l.plans = p } }

// WithEvents sets the audit event destination.
func WithEvents(e EventLogger) Option { return func(l *Ledger) { l.events = e } }

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option { return func(l *Ledger) { l.logger = logger } }

// WithRunner sets the best-effort runner used for usage writes and audit events.
func WithRunner(r *besteffort.Runner) Option { return func(l *Ledger) { l.runner = r } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// New creates a Ledger over the given tracker.
func New(cfg config.LedgerConfig, t tracker.Tracker, opts ...Option) *Ledger {
	l := &Ledger{
		cfg:     cfg,
		tracker: t,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("component", "ledger").Logger()
	if l.runner == nil {
		l.runner = besteffort.New(l.logger)
	}
	return l
}

// CheckBudget reports whether tenantID may make another paid call this month,
// performing the WARNED and BLOCKED transitions as thresholds are crossed.
// The call that pushes cost past the budget is itself allowed; the next
// check observes the block.
func (l *Ledger) CheckBudget(ctx context.Context, tenantID string) (models.BudgetCheck, error) {
	if tenantID == "" {
		return models.BudgetCheck{}, ErrInvalidTenant
	}
	now := l.now().UTC()
	month := models.MonthKey(now)

	limits, err := l.EffectiveLimits(ctx, tenantID)
	if err != nil {
		return models.BudgetCheck{}, fmt.Errorf("budget check: %w", err)
	}
	usage, err := l.tracker.EnsureUsage(ctx, tenantID, month)
	if err != nil {
		return models.BudgetCheck{}, fmt.Errorf("budget check: %w", err)
	}

	res := models.BudgetCheck{
		TenantID:    tenantID,
		Month:       month,
		UsedCents:   usage.CostCents,
		BudgetCents: limits.BudgetCents,
		PercentUsed: models.Percent(usage.CostCents, limits.BudgetCents),
	}

	if usage.BlockedAt != nil {
		return l.blocked(res), nil
	}

	if usage.CostCents >= limits.BudgetCents {
		set, err := l.tracker.MarkBlocked(ctx, tenantID, month, now)
		if err != nil {
			return models.BudgetCheck{}, fmt.Errorf("budget check: %w", err)
		}
		if set {
			metrics.BudgetTransitions.WithLabelValues("blocked").Inc()
			l.logger.Info().Str("tenant", tenantID).Str("month", month).
				Int64("used_cents", usage.CostCents).Int64("budget_cents", limits.BudgetCents).
				Msg("tenant budget blocked")
			l.emit(ctx, models.Event{
				TenantID: tenantID,
				Type:     models.EventBudgetBlocked,
				Actor:    "system",
				Metadata: map[string]any{
					"month":        month,
					"used_cents":   usage.CostCents,
					"budget_cents": limits.BudgetCents,
				},
			})
		}
		return l.blocked(res), nil
	}

	res.Allowed = true
	res.Reason = models.ReasonOK

	if float64(usage.CostCents) >= l.cfg.WarnThreshold*float64(limits.BudgetCents) {
		res.Reason = models.ReasonBudgetWarning
		if usage.WarnedAt == nil {
			set, err := l.tracker.MarkWarned(ctx, tenantID, month, now)
			if err != nil {
				return models.BudgetCheck{}, fmt.Errorf("budget check: %w", err)
			}
			if set {
				res.WarnedNow = true
				metrics.BudgetTransitions.WithLabelValues("warned").Inc()
				l.logger.Info().Str("tenant", tenantID).Str("month", month).
					Int("percent_used", res.PercentUsed).Msg("tenant budget warning")
				l.emit(ctx, models.Event{
					TenantID: tenantID,
					Type:     models.EventBudgetWarned,
					Actor:    "system",
					Metadata: map[string]any{
						"month":        month,
						"used_cents":   usage.CostCents,
						"budget_cents": limits.BudgetCents,
						"percent_used": res.PercentUsed,
					},
				})
			}
		}
	}
	return res, nil
}

func (l *Ledger) blocked(res models.BudgetCheck) models.BudgetCheck {
	res.Blocked = true
	res.Reason = models.ReasonBudgetExceeded
	res.SoftDegrade = l.cfg.SoftDegrade
	res.Allowed = l.cfg.SoftDegrade
	if res.BudgetCents <= 0 {
		res.PercentUsed = 100
	}
	return res
}

// TrackUsage adds one call with the given token counts to the tenant's
// current month. It never fails the caller: persistence errors are logged.
// The write ignores ctx cancellation since the provider call was already made.
func (l *Ledger) TrackUsage(ctx context.Context, tenantID, model string, inputTokens, outputTokens int64) {
	if tenantID == "" {
		return
	}
	now := l.now().UTC()
	cost := pricing.CostCents(model, inputTokens, outputTokens)
	if !pricing.Known(model) {
		l.logger.Warn().Str("model", model).Str("fallback", pricing.DefaultModel).Msg("unknown model, priced at fallback rate")
	}

	l.runner.Do(context.WithoutCancel(ctx), "ledger.track_usage", func(ctx context.Context) error {
		err := l.tracker.IncrementUsage(ctx, tenantID, models.MonthKey(now), now.Format(time.DateOnly),
			models.UsageDelta{
				Calls:        1,
				InputTokens:  max(inputTokens, 0),
				OutputTokens: max(outputTokens, 0),
				CostCents:    cost,
			})
		if err != nil {
			return err
		}
		metrics.UsageCostCents.WithLabelValues(model).Add(float64(cost))
		metrics.UsageTokens.WithLabelValues(model, "input").Add(float64(max(inputTokens, 0)))
		metrics.UsageTokens.WithLabelValues(model, "output").Add(float64(max(outputTokens, 0)))
		return nil
	})
}

// CheckCallsLimit checks the monthly call cap and the deployment daily cap.
func (l *Ledger) CheckCallsLimit(ctx context.Context, tenantID string) (models.CallsCheck, error) {
	if tenantID == "" {
		return models.CallsCheck{}, ErrInvalidTenant
	}
	now := l.now().UTC()

	limits, err := l.EffectiveLimits(ctx, tenantID)
	if err != nil {
		return models.CallsCheck{}, fmt.Errorf("calls check: %w", err)
	}
	usage, err := l.tracker.EnsureUsage(ctx, tenantID, models.MonthKey(now))
	if err != nil {
		return models.CallsCheck{}, fmt.Errorf("calls check: %w", err)
	}

	res := models.CallsCheck{
		TenantID:    tenantID,
		Used:        usage.CallCount,
		Limit:       limits.CallLimit,
		PercentUsed: models.Percent(usage.CallCount, limits.CallLimit),
	}
	if !limits.CallsUnlimited() && usage.CallCount >= limits.CallLimit {
		return l.callsExceeded(res, models.ReasonCallsLimitExceeded), nil
	}

	if l.cfg.DailyCallLimit > 0 {
		daily, err := l.tracker.DailyCalls(ctx, tenantID, now.Format(time.DateOnly))
		if err != nil {
			return models.CallsCheck{}, fmt.Errorf("calls check: %w", err)
		}
		if daily >= l.cfg.DailyCallLimit {
			res.Used = daily
			res.Limit = l.cfg.DailyCallLimit
			res.PercentUsed = models.Percent(daily, l.cfg.DailyCallLimit)
			return l.callsExceeded(res, models.ReasonDailyLimitExceeded), nil
		}
	}

	res.Allowed = true
	res.Reason = models.ReasonOK
	return res, nil
}

func (l *Ledger) callsExceeded(res models.CallsCheck, reason string) models.CallsCheck {
	res.Reason = reason
	res.SoftDegrade = l.cfg.SoftDegrade
	res.Allowed = l.cfg.SoftDegrade
	return res
}

// EffectiveLimits merges the tenant override over the tenant's budget row,
// whose defaults come from the active plan or the deployment configuration.
func (l *Ledger) EffectiveLimits(ctx context.Context, tenantID string) (models.EffectiveLimits, error) {
	if tenantID == "" {
		return models.EffectiveLimits{}, ErrInvalidTenant
	}
	plan, err := l.activePlan(ctx, tenantID)
	if err != nil {
		return models.EffectiveLimits{}, err
	}
	b, err := l.tracker.EnsureBudget(ctx, l.defaults(tenantID, plan))
	if err != nil {
		return models.EffectiveLimits{}, fmt.Errorf("effective limits: %w", err)
	}
	o, err := l.tracker.GetOverride(ctx, tenantID)
	if err != nil {
		return models.EffectiveLimits{}, fmt.Errorf("effective limits: %w", err)
	}
	if o == nil {
		o = &models.TenantOverride{}
	}

	allowDefault := l.cfg.AllowExpensiveByDefault
	if plan != nil {
		allowDefault = plan.AllowExpensive
	}

	limits := models.EffectiveLimits{
		TenantID:       tenantID,
		BudgetCents:    merge(o.BudgetCents, b.MonthlyBudgetCents),
		CallLimit:      merge(o.CallLimit, b.MonthlyCallLimit),
		AllowExpensive: merge(o.AllowExpensive, merge(b.AllowExpensive, allowDefault)),
		Overridden:     o.BudgetCents != nil || o.CallLimit != nil || o.AllowExpensive != nil,
	}
	if plan != nil {
		limits.PlanName = plan.Name
		limits.SupportTier = plan.SupportTier
	}
	return limits, nil
}

// merge returns *override when set, def otherwise.
func merge[T any](override *T, def T) T {
	if override != nil {
		return *override
	}
	return def
}

func (l *Ledger) activePlan(ctx context.Context, tenantID string) (*models.Plan, error) {
	if l.plans == nil {
		return nil, nil
	}
	plan, err := l.plans.ActivePlan(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("lookup plan: %w", err)
	}
	return plan, nil
}

func (l *Ledger) defaults(tenantID string, plan *models.Plan) models.TenantBudget {
	b := models.TenantBudget{
		TenantID:           tenantID,
		MonthlyBudgetCents: l.cfg.DefaultMonthlyBudgetCents,
		MonthlyCallLimit:   l.cfg.DefaultMonthlyCallLimit,
	}
	if plan != nil {
		b.MonthlyBudgetCents = plan.MonthlyBudgetCents
		b.MonthlyCallLimit = plan.MonthlyCallLimit
	}
	return b
}

// UpdateBudget sets the tenant's monthly budget. Amounts outside
// [0, config.MaxBudgetCents] are rejected before anything is written.
func (l *Ledger) UpdateBudget(ctx context.Context, tenantID string, cents int64, actor string) (models.TenantBudget, error) {
	if tenantID == "" {
		return models.TenantBudget{}, ErrInvalidTenant
	}
	if err := validateCents(cents); err != nil {
		return models.TenantBudget{}, err
	}

	plan, err := l.activePlan(ctx, tenantID)
	if err != nil {
		return models.TenantBudget{}, err
	}
	before, err := l.tracker.EnsureBudget(ctx, l.defaults(tenantID, plan))
	if err != nil {
		return models.TenantBudget{}, fmt.Errorf("update budget: %w", err)
	}

	after := before
	after.MonthlyBudgetCents = cents
	if err := l.tracker.SetBudget(ctx, after); err != nil {
		return models.TenantBudget{}, fmt.Errorf("update budget: %w", err)
	}

	l.logger.Info().Str("tenant", tenantID).Str("actor", actor).
		Int64("before_cents", before.MonthlyBudgetCents).Int64("after_cents", cents).
		Msg("budget updated")
	l.emit(ctx, models.Event{
		TenantID: tenantID,
		Type:     models.EventBudgetUpdated,
		Actor:    actor,
		Metadata: map[string]any{
			"before_cents": before.MonthlyBudgetCents,
			"after_cents":  cents,
		},
	})
	return after, nil
}

// ApplyPlan resets the tenant's budget row to a plan's defaults, as done
// when the tenant changes subscription.
func (l *Ledger) ApplyPlan(ctx context.Context, tenantID string, plan models.Plan, actor string) error {
	if tenantID == "" {
		return ErrInvalidTenant
	}
	if err := validateCents(plan.MonthlyBudgetCents); err != nil {
		return err
	}
	before, _, err := l.tracker.GetBudget(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}
	if err := l.tracker.SetBudget(ctx, l.defaults(tenantID, &plan)); err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}
	l.emit(ctx, models.Event{
		TenantID: tenantID,
		Type:     models.EventBudgetUpdated,
		Actor:    actor,
		Metadata: map[string]any{
			"plan_id":      plan.ID,
			"before_cents": before.MonthlyBudgetCents,
			"after_cents":  plan.MonthlyBudgetCents,
		},
	})
	return nil
}

// Override returns the tenant's override record, nil if none.
func (l *Ledger) Override(ctx context.Context, tenantID string) (*models.TenantOverride, error) {
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}
	return l.tracker.GetOverride(ctx, tenantID)
}

// SetOverride replaces the tenant's override record. Nil fields fall back
// to the defaults.
func (l *Ledger) SetOverride(ctx context.Context, o models.TenantOverride, actor string) error {
	if o.TenantID == "" {
		return ErrInvalidTenant
	}
	if o.BudgetCents != nil {
		if err := validateCents(*o.BudgetCents); err != nil {
			return err
		}
	}
	before, err := l.tracker.GetOverride(ctx, o.TenantID)
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	if err := l.tracker.SetOverride(ctx, o); err != nil {
		return err
	}

	meta := map[string]any{"after": overrideFields(&o)}
	if before != nil {
		meta["before"] = overrideFields(before)
	}
	l.emit(ctx, models.Event{
		TenantID: o.TenantID,
		Type:     models.EventOverrideUpdated,
		Actor:    actor,
		Metadata: meta,
	})
	return nil
}

func overrideFields(o *models.TenantOverride) map[string]any {
	m := map[string]any{}
	if o.BudgetCents != nil {
		m["budget_cents"] = *o.BudgetCents
	}
	if o.CallLimit != nil {
		m["call_limit"] = *o.CallLimit
	}
	if o.AllowExpensive != nil {
		m["allow_expensive"] = *o.AllowExpensive
	}
	return m
}

// Usage returns a tenant's usage row for month ("YYYY-MM"), or the current
// month when month is empty. Missing rows are returned zeroed.
func (l *Ledger) Usage(ctx context.Context, tenantID, month string) (models.MonthlyUsage, error) {
	if tenantID == "" {
		return models.MonthlyUsage{}, ErrInvalidTenant
	}
	if month == "" {
		month = models.MonthKey(l.now())
	}
	u, _, err := l.tracker.GetUsage(ctx, tenantID, month)
	return u, err
}

// ListUsage returns all tenants' usage for month, or the current month when empty.
func (l *Ledger) ListUsage(ctx context.Context, month string) ([]models.MonthlyUsage, error) {
	if month == "" {
		month = models.MonthKey(l.now())
	}
	return l.tracker.ListUsage(ctx, month)
}

// MarkWarned sets the current month's cost warning watermark if unset.
func (l *Ledger) MarkWarned(ctx context.Context, tenantID string) (bool, error) {
	now := l.now().UTC()
	set, err := l.tracker.MarkWarned(ctx, tenantID, models.MonthKey(now), now)
	if err != nil {
		return false, fmt.Errorf("mark warned: %w", err)
	}
	if set {
		metrics.BudgetTransitions.WithLabelValues("warned").Inc()
		l.emit(ctx, models.Event{TenantID: tenantID, Type: models.EventBudgetWarned, Actor: "system",
			Metadata: map[string]any{"month": models.MonthKey(now)}})
	}
	return set, nil
}

// MarkCallsWarned sets the current month's call-count warning watermark if unset.
func (l *Ledger) MarkCallsWarned(ctx context.Context, tenantID string) (bool, error) {
	now := l.now().UTC()
	set, err := l.tracker.MarkCallsWarned(ctx, tenantID, models.MonthKey(now), now)
	if err != nil {
		return false, fmt.Errorf("mark calls warned: %w", err)
	}
	if set {
		metrics.BudgetTransitions.WithLabelValues("calls_warned").Inc()
		l.emit(ctx, models.Event{TenantID: tenantID, Type: models.EventCallsWarned, Actor: "system",
			Metadata: map[string]any{"month": models.MonthKey(now)}})
	}
	return set, nil
}

func (l *Ledger) emit(ctx context.Context, ev models.Event) {
	if l.events == nil {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now().UTC()
	}
	l.runner.Go(ctx, "audit."+ev.Type, func(ctx context.Context) error {
		return l.events.Log(ctx, ev)
	})
}

func validateCents(cents int64) error {
	if cents < 0 || cents > config.MaxBudgetCents {
		return fmt.Errorf("%w: %d cents outside [0, %d]", ErrInvalidBudget, cents, config.MaxBudgetCents)
	}
	return nil
}
