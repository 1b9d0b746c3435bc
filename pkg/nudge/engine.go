// Package nudge turns ledger state and usage analytics into user-facing
// notices. Advisory nudges are deduplicated per (tenant, membership, key)
// against the most recent nudge_shown or nudge_dismissed event in the audit
// log; the blocking nudge is always returned.
package nudge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/governor/pkg/besteffort"
	"github.com/pario-ai/governor/pkg/config"
	"github.com/pario-ai/governor/pkg/metrics"
	"github.com/pario-ai/governor/pkg/models"
)

var (
	// ErrInvalidMember is returned when the member has no tenant.
	ErrInvalidMember = errors.New("invalid member")
	// ErrUnknownNudge is returned when dismissing a key the engine does not produce.
	ErrUnknownNudge = errors.New("unknown nudge")
	// ErrNotDismissible is returned when dismissing the blocking nudge.
	ErrNotDismissible = errors.New("nudge is not dismissible")
)

// Ledger is the subset of the usage ledger the engine reads.
type Ledger interface {
	EffectiveLimits(ctx context.Context, tenantID string) (models.EffectiveLimits, error)
	Usage(ctx context.Context, tenantID, month string) (models.MonthlyUsage, error)
	MarkWarned(ctx context.Context, tenantID string) (bool, error)
	MarkCallsWarned(ctx context.Context, tenantID string) (bool, error)
}

// Events is the audit log used both for the trail and as the dedupe source.
type Events interface {
	Log(ctx context.Context, ev models.Event) error
	LastEvent(ctx context.Context, opts models.EventQueryOpts) (*models.Event, error)
}

// Analytics summarises a tenant's interactions for the month containing at.
type Analytics interface {
	Snapshot(ctx context.Context, tenantID string, at time.Time) (models.AnalyticsSnapshot, error)
}

// Engine evaluates nudges for a member.
type Engine struct {
	cfg       config.NudgeConfig
	ledger    Ledger
	events    Events
	analytics Analytics
	billing   Billing
	runner    *besteffort.Runner
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAnalytics sets the interaction analytics source.
func WithAnalytics(a Analytics) Option { return func(e *Engine) { e.analytics = a } }

// WithBilling sets the plan and upgrade request store.
func WithBilling(b Billing) Option { return func(e *Engine) { e.billing = b } }

// WithRunner sets the best-effort runner for event writes.
func WithRunner(r *besteffort.Runner) Option { return func(e *Engine) { e.runner = r } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine.
func New(cfg config.NudgeConfig, ledger Ledger, events Events, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		ledger: ledger,
		events: events,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "nudge").Logger()
	if e.runner == nil {
		e.runner = besteffort.New(e.logger)
	}
	return e
}

type rule struct {
	key      string
	evaluate func(context.Context, *evaluation) (*models.Nudge, error)
}

func (e *Engine) rules() []rule {
	return []rule{
		{models.NudgeLimitExceeded, e.limitExceeded},
		{models.NudgeNearLimit, e.nearLimit},
		{models.NudgeRepeatExceeded, e.repeatExceeded},
		{models.NudgeHeavyExpensive, e.heavyExpensive},
		{models.NudgeHeavyTemplates, e.heavyTemplates},
	}
}

// ActiveNudges returns the member's nudges, most severe first. A rule that
// fails is logged and skipped; the other rules are still evaluated.
func (e *Engine) ActiveNudges(ctx context.Context, m models.Member) ([]models.Nudge, error) {
	if m.TenantID == "" {
		return nil, ErrInvalidMember
	}
	ev := e.newEvaluation(m)

	var out []models.Nudge
	for _, r := range e.rules() {
		n, err := r.evaluate(ctx, ev)
		if err != nil {
			e.logger.Warn().Err(err).Str("tenant", m.TenantID).Str("nudge", r.key).Msg("nudge evaluation failed")
			continue
		}
		if n == nil {
			continue
		}
		out = append(out, *n)
	}

	slices.SortStableFunc(out, func(a, b models.Nudge) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})

	for _, n := range out {
		metrics.NudgesShown.WithLabelValues(n.Key, string(n.Severity)).Inc()
		e.record(ctx, m, models.EventNudgeShown, map[string]any{
			"nudge_key": n.Key,
			"severity":  string(n.Severity),
		})
	}
	return out, nil
}

// Dismiss records that the member dismissed key, suppressing it for its cooldown.
func (e *Engine) Dismiss(ctx context.Context, m models.Member, key string) error {
	if m.TenantID == "" {
		return ErrInvalidMember
	}
	switch key {
	case models.NudgeLimitExceeded:
		return ErrNotDismissible
	case models.NudgeNearLimit, models.NudgeRepeatExceeded, models.NudgeHeavyExpensive, models.NudgeHeavyTemplates:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNudge, key)
	}
	err := e.events.Log(ctx, models.Event{
		TenantID:     m.TenantID,
		MembershipID: m.MembershipID,
		Type:         models.EventNudgeDismissed,
		Actor:        actor(m),
		Metadata:     map[string]any{"nudge_key": key},
		CreatedAt:    e.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("dismiss nudge: %w", err)
	}
	return nil
}

// record writes a nudge event synchronously so that the dedupe check of the
// next evaluation sees it, swallowing any error.
func (e *Engine) record(ctx context.Context, m models.Member, typ string, meta map[string]any) {
	ev := models.Event{
		TenantID:     m.TenantID,
		MembershipID: m.MembershipID,
		Type:         typ,
		Actor:        actor(m),
		Metadata:     meta,
		CreatedAt:    e.now().UTC(),
	}
	e.runner.Do(ctx, "nudge."+typ, func(ctx context.Context) error {
		return e.events.Log(ctx, ev)
	})
}

func actor(m models.Member) string {
	if m.UserID != "" {
		return m.UserID
	}
	if m.MembershipID != "" {
		return m.MembershipID
	}
	return "system"
}

// cooledDown reports whether key was neither shown nor dismissed for the
// member within the last cooldown.
func (e *Engine) cooledDown(ctx context.Context, m models.Member, key string, cooldown time.Duration) (bool, error) {
	since := e.now().UTC().Add(-cooldown)
	for _, typ := range []string{models.EventNudgeShown, models.EventNudgeDismissed} {
		last, err := e.events.LastEvent(ctx, models.EventQueryOpts{
			TenantID:     m.TenantID,
			MembershipID: m.MembershipID,
			ExactMember:  true,
			Type:         typ,
			Since:        since,
			MetaPath:     "nudge_key",
			MetaValue:    key,
		})
		if err != nil {
			return false, fmt.Errorf("lookup %s: %w", typ, err)
		}
		if last != nil {
			return false, nil
		}
	}
	return true, nil
}
