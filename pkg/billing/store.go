// Package billing stores plans, tenant subscriptions and plan upgrade requests.
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/sqlitedb"
)

var (
	// ErrUnknownPlan is returned when a plan ID does not exist.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrRequestNotFound is returned when no pending upgrade request has the given ID.
	ErrRequestNotFound = errors.New("upgrade request not found")
)

// Store is the SQLite billing store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const createPlans = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	rank INTEGER,
	monthly_budget_cents INTEGER NOT NULL,
	monthly_call_limit INTEGER NOT NULL,
	allow_expensive INTEGER NOT NULL,
	support_tier TEXT NOT NULL DEFAULT ''
);`

const createSubscriptions = `
CREATE TABLE IF NOT EXISTS subscriptions (
	tenant_id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL REFERENCES plans(id),
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL
);`

// At most one pending request per tenant; the partial unique index is what
// makes request creation idempotent under concurrent callers.
const createUpgradeRequests = `
CREATE TABLE IF NOT EXISTS upgrade_requests (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	membership_id TEXT NOT NULL DEFAULT '',
	from_plan_id TEXT NOT NULL,
	to_plan_id TEXT NOT NULL,
	status TEXT NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	resolved_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_upgrade_pending ON upgrade_requests(tenant_id) WHERE status = 'pending';`

// New opens the billing database.
func New(dbPath string) (*Store, error) {
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open billing db: %w", err)
	}
	if err := sqlitedb.Migrate(db, createPlans, createSubscriptions, createUpgradeRequests); err != nil {
		return nil, fmt.Errorf("migrate billing db: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// SyncPlans upserts the given plans and returns how many were written.
func (s *Store) SyncPlans(ctx context.Context, plans []models.Plan) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin plan sync: %w", err)
	}
	defer tx.Rollback()

	for _, p := range plans {
		var rank sql.NullInt64
		if p.Rank != nil {
			rank = sql.NullInt64{Int64: int64(*p.Rank), Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO plans (id, name, rank, monthly_budget_cents, monthly_call_limit, allow_expensive, support_tier)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				rank = excluded.rank,
				monthly_budget_cents = excluded.monthly_budget_cents,
				monthly_call_limit = excluded.monthly_call_limit,
				allow_expensive = excluded.allow_expensive,
				support_tier = excluded.support_tier`,
			p.ID, p.Name, rank, p.MonthlyBudgetCents, p.MonthlyCallLimit, p.AllowExpensive, p.SupportTier,
		)
		if err != nil {
			return 0, fmt.Errorf("sync plan %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit plan sync: %w", err)
	}
	return len(plans), nil
}

const planColumns = `id, name, rank, monthly_budget_cents, monthly_call_limit, allow_expensive, support_tier`

func scanPlan(sc interface{ Scan(...any) error }) (models.Plan, error) {
	var p models.Plan
	var rank sql.NullInt64
	if err := sc.Scan(&p.ID, &p.Name, &rank, &p.MonthlyBudgetCents, &p.MonthlyCallLimit, &p.AllowExpensive, &p.SupportTier); err != nil {
		return models.Plan{}, err
	}
	if rank.Valid {
		r := int(rank.Int64)
		p.Rank = &r
	}
	return p, nil
}

// Plans returns every plan ordered by rank.
func (s *Store) Plans(ctx context.Context) ([]models.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM plans`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortByRank(plans)
	return plans, nil
}

// Plan returns the plan with the given ID, or nil.
func (s *Store) Plan(ctx context.Context, id string) (*models.Plan, error) {
	p, err := scanPlan(s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &p, nil
}

// Subscribe makes planID the tenant's active subscription.
func (s *Store) Subscribe(ctx context.Context, tenantID, planID string) (models.Subscription, error) {
	return subscribe(ctx, s.db, tenantID, planID, s.now().UTC())
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func subscribe(ctx context.Context, db execQuerier, tenantID, planID string, now time.Time) (models.Subscription, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM plans WHERE id = ?`, planID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}
	if err != nil {
		return models.Subscription{}, fmt.Errorf("subscribe: %w", err)
	}
	sub := models.Subscription{TenantID: tenantID, PlanID: planID, Status: models.SubscriptionActive, StartedAt: now}
	_, err = db.ExecContext(ctx,
		`INSERT INTO subscriptions (tenant_id, plan_id, status, started_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET
			plan_id = excluded.plan_id, status = excluded.status, started_at = excluded.started_at`,
		sub.TenantID, sub.PlanID, sub.Status, sub.StartedAt,
	)
	if err != nil {
		return models.Subscription{}, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

// Cancel marks the tenant's subscription canceled.
func (s *Store) Cancel(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE subscriptions SET status = ? WHERE tenant_id = ?`,
		models.SubscriptionCanceled, tenantID)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

// ActiveSubscription returns the tenant's active subscription, or nil.
func (s *Store) ActiveSubscription(ctx context.Context, tenantID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, plan_id, status, started_at FROM subscriptions WHERE tenant_id = ? AND status = ?`,
		tenantID, models.SubscriptionActive,
	).Scan(&sub.TenantID, &sub.PlanID, &sub.Status, &sub.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active subscription: %w", err)
	}
	return &sub, nil
}

// ActivePlan returns the plan of the tenant's active subscription, or nil.
func (s *Store) ActivePlan(ctx context.Context, tenantID string) (*models.Plan, error) {
	sub, err := s.ActiveSubscription(ctx, tenantID)
	if err != nil || sub == nil {
		return nil, err
	}
	return s.Plan(ctx, sub.PlanID)
}

const requestColumns = `id, tenant_id, membership_id, from_plan_id, to_plan_id, status, note, created_at`

func scanRequest(sc interface{ Scan(...any) error }) (models.UpgradeRequest, error) {
	var r models.UpgradeRequest
	err := sc.Scan(&r.ID, &r.TenantID, &r.MembershipID, &r.FromPlanID, &r.ToPlanID, &r.Status, &r.Note, &r.CreatedAt)
	return r, err
}

// PendingUpgradeRequest returns the tenant's pending request, or nil.
func (s *Store) PendingUpgradeRequest(ctx context.Context, tenantID string) (*models.UpgradeRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM upgrade_requests WHERE tenant_id = ? AND status = ?`,
		tenantID, models.UpgradePending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending upgrade request: %w", err)
	}
	return &r, nil
}

// CreateUpgradeRequest inserts req as pending unless the tenant already has a
// pending request, in which case that one is returned with created=false.
func (s *Store) CreateUpgradeRequest(ctx context.Context, req models.UpgradeRequest) (models.UpgradeRequest, bool, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now().UTC()
	}
	req.Status = models.UpgradePending

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO upgrade_requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		req.ID, req.TenantID, req.MembershipID, req.FromPlanID, req.ToPlanID, req.Status, req.Note, req.CreatedAt,
	)
	if err != nil {
		return models.UpgradeRequest{}, false, fmt.Errorf("create upgrade request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return req, true, nil
	}

	existing, err := s.PendingUpgradeRequest(ctx, req.TenantID)
	if err != nil {
		return models.UpgradeRequest{}, false, err
	}
	if existing == nil {
		return models.UpgradeRequest{}, false, fmt.Errorf("create upgrade request: conflict without pending request for %s", req.TenantID)
	}
	return *existing, false, nil
}

// ResolveUpgradeRequest approves or rejects a pending request. Approval moves
// the tenant's subscription to the requested plan in the same transaction.
func (s *Store) ResolveUpgradeRequest(ctx context.Context, id, status string) (models.UpgradeRequest, error) {
	if status != models.UpgradeApproved && status != models.UpgradeRejected {
		return models.UpgradeRequest{}, fmt.Errorf("resolve upgrade request: invalid status %q", status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("begin resolve: %w", err)
	}
	defer tx.Rollback()

	r, err := scanRequest(tx.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM upgrade_requests WHERE id = ? AND status = ?`, id, models.UpgradePending))
	if errors.Is(err, sql.ErrNoRows) {
		return models.UpgradeRequest{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("resolve upgrade request: %w", err)
	}

	now := s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE upgrade_requests SET status = ?, resolved_at = ? WHERE id = ?`, status, now, id); err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("resolve upgrade request: %w", err)
	}
	if status == models.UpgradeApproved {
		if _, err := subscribe(ctx, tx, r.TenantID, r.ToPlanID, now); err != nil {
			return models.UpgradeRequest{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.UpgradeRequest{}, fmt.Errorf("commit resolve: %w", err)
	}
	r.Status = status
	return r, nil
}

// ListUpgradeRequests returns a tenant's requests, newest first. An empty
// tenantID lists every tenant.
func (s *Store) ListUpgradeRequests(ctx context.Context, tenantID string) ([]models.UpgradeRequest, error) {
	q := `SELECT ` + requestColumns + ` FROM upgrade_requests`
	var args []any
	if tenantID != "" {
		q += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list upgrade requests: %w", err)
	}
	defer rows.Close()

	var out []models.UpgradeRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upgrade request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// PlanRank returns the plan's explicit rank, or a rank derived from its name
// when none is set: free 0, starter/basic 1, pro 2, business 3, enterprise 4.
// Unrecognised names rank 1.
func PlanRank(p models.Plan) int {
	if p.Rank != nil {
		return *p.Rank
	}
	switch {
	case PlanMatches(p, "enterprise"):
		return 4
	case PlanMatches(p, "business"):
		return 3
	case PlanMatches(p, "pro"):
		return 2
	case PlanMatches(p, "starter"), PlanMatches(p, "basic"):
		return 1
	case PlanMatches(p, "free"):
		return 0
	default:
		return 1
	}
}

// PlanMatches reports whether word appears as a whole word, ignoring case, in
// the plan's name or ID. "plan_pro" and "Pro Annual" match "pro"; "Prototype"
// does not.
func PlanMatches(p models.Plan, word string) bool {
	word = strings.ToLower(word)
	words := strings.FieldsFunc(strings.ToLower(p.Name+" "+p.ID), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return slices.Contains(words, word)
}

// SortByRank orders plans by ascending PlanRank, keeping input order for ties.
func SortByRank(plans []models.Plan) {
	slices.SortStableFunc(plans, func(a, b models.Plan) int {
		return PlanRank(a) - PlanRank(b)
	})
}
