package nudge

import (
	"context"
	"errors"
	"fmt"

	"github.com/pario-ai/governor/pkg/billing"
	"github.com/pario-ai/governor/pkg/models"
)

var (
	// ErrNoSubscription is returned when the tenant has no active subscription.
	ErrNoSubscription = errors.New("no active subscription")
	// ErrNoEligiblePlan is returned when no plan matches the recommended tier.
	ErrNoEligiblePlan = errors.New("no eligible plan")
	// ErrAlreadyTopPlan is returned when the current plan outranks every candidate.
	ErrAlreadyTopPlan = errors.New("current plan already outranks every candidate")
)

// Billing is the plan and upgrade request store.
type Billing interface {
	ActiveSubscription(ctx context.Context, tenantID string) (*models.Subscription, error)
	Plan(ctx context.Context, id string) (*models.Plan, error)
	Plans(ctx context.Context) ([]models.Plan, error)
	PendingUpgradeRequest(ctx context.Context, tenantID string) (*models.UpgradeRequest, error)
	CreateUpgradeRequest(ctx context.Context, req models.UpgradeRequest) (models.UpgradeRequest, bool, error)
}

// Recommended upgrade targets.
const (
	TargetPro        = "PRO"
	TargetEnterprise = "ENTERPRISE"
)

// CreateRecommendedUpgradeRequest opens an upgrade request for the member's
// tenant, or returns the tenant's pending one. The target is ENTERPRISE when
// limits were exceeded two months running and usage is heavy, PRO otherwise.
func (e *Engine) CreateRecommendedUpgradeRequest(ctx context.Context, m models.Member) (models.UpgradeRequest, error) {
	if m.TenantID == "" {
		return models.UpgradeRequest{}, ErrInvalidMember
	}
	if e.billing == nil {
		return models.UpgradeRequest{}, ErrNoSubscription
	}
	sub, err := e.billing.ActiveSubscription(ctx, m.TenantID)
	if err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("upgrade request: %w", err)
	}
	if sub == nil {
		return models.UpgradeRequest{}, ErrNoSubscription
	}
	if pending, err := e.billing.PendingUpgradeRequest(ctx, m.TenantID); err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("upgrade request: %w", err)
	} else if pending != nil {
		return *pending, nil
	}

	current, err := e.billing.Plan(ctx, sub.PlanID)
	if err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("upgrade request: %w", err)
	}
	if current == nil {
		return models.UpgradeRequest{}, fmt.Errorf("%w: subscribed plan %s not found", ErrNoEligiblePlan, sub.PlanID)
	}
	plans, err := e.billing.Plans(ctx)
	if err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("upgrade request: %w", err)
	}

	ev := e.newEvaluation(m)
	st, err := ev.ledger(ctx)
	if err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("upgrade request: %w", err)
	}
	snap, err := ev.analytics(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Str("tenant", m.TenantID).Msg("analytics unavailable for upgrade target")
	}

	repeat := exceeded(st.limits, st.current) && exceeded(st.limits, st.previous)
	heavy := snap.ExpensiveShare() > e.cfg.ExpensiveShareLimit || snap.TemplateRuns >= e.cfg.TemplateRunsThreshold
	target := TargetPro
	if repeat && heavy {
		target = TargetEnterprise
	}

	to, err := pickPlan(*current, plans, target)
	if err != nil {
		return models.UpgradeRequest{}, err
	}

	note := fmt.Sprintf("Recommended %s upgrade from %s to %s: %d of %d cents and %d calls used in %s; %d of %d interactions on the advanced model; %d template runs.",
		target, current.Name, to.Name,
		st.current.CostCents, st.limits.BudgetCents, st.current.CallCount, models.MonthKey(ev.now),
		snap.ExpensiveCalls, snap.Total(), snap.TemplateRuns)
	if repeat {
		note += " Limits were exceeded this month and last month."
	}

	req, created, err := e.billing.CreateUpgradeRequest(ctx, models.UpgradeRequest{
		TenantID:     m.TenantID,
		MembershipID: m.MembershipID,
		FromPlanID:   current.ID,
		ToPlanID:     to.ID,
		Note:         note,
	})
	if err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("upgrade request: %w", err)
	}
	if created {
		e.logger.Info().Str("tenant", m.TenantID).Str("from", current.ID).Str("to", to.ID).Msg("upgrade requested")
		e.record(ctx, m, models.EventUpgradeRequested, map[string]any{
			"request_id":   req.ID,
			"from_plan_id": current.ID,
			"to_plan_id":   to.ID,
			"target":       target,
		})
	}
	return req, nil
}

// pickPlan returns the lowest-ranked plan matching target that outranks
// current. An ENTERPRISE target falls back to PRO plans when none exist.
func pickPlan(current models.Plan, plans []models.Plan, target string) (models.Plan, error) {
	candidates := matching(plans, target)
	if len(candidates) == 0 && target == TargetEnterprise {
		candidates = matching(plans, TargetPro)
	}
	if len(candidates) == 0 {
		return models.Plan{}, fmt.Errorf("%w: no %s plan", ErrNoEligiblePlan, target)
	}
	billing.SortByRank(candidates)
	rank := billing.PlanRank(current)
	for _, p := range candidates {
		if p.ID != current.ID && billing.PlanRank(p) > rank {
			return p, nil
		}
	}
	return models.Plan{}, fmt.Errorf("%w: %s", ErrAlreadyTopPlan, current.Name)
}

func matching(plans []models.Plan, target string) []models.Plan {
	var out []models.Plan
	for _, p := range plans {
		if billing.PlanMatches(p, target) {
			out = append(out, p)
		}
	}
	return out
}
