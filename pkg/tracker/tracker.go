package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/sqlitedb"
)

// Tracker persists tenant budgets, overrides and usage counters.
type Tracker interface {
	// EnsureBudget creates the budget row from defaults if missing and returns the stored row.
	EnsureBudget(ctx context.Context, defaults models.TenantBudget) (models.TenantBudget, error)
	// GetBudget returns the budget row, or ok=false if none exists.
	GetBudget(ctx context.Context, tenantID string) (b models.TenantBudget, ok bool, err error)
	// SetBudget upserts every field of a budget row.
	SetBudget(ctx context.Context, b models.TenantBudget) error
	// GetOverride returns the tenant override, or nil if none exists.
	GetOverride(ctx context.Context, tenantID string) (*models.TenantOverride, error)
	// SetOverride upserts a tenant override.
	SetOverride(ctx context.Context, o models.TenantOverride) error
	// EnsureUsage creates the (tenant, month) usage row if missing and returns it.
	EnsureUsage(ctx context.Context, tenantID, month string) (models.MonthlyUsage, error)
	// GetUsage returns the (tenant, month) usage row, or ok=false if none exists.
	GetUsage(ctx context.Context, tenantID, month string) (u models.MonthlyUsage, ok bool, err error)
	// IncrementUsage atomically adds d to the monthly row and the daily call counter.
	IncrementUsage(ctx context.Context, tenantID, month, day string, d models.UsageDelta) error
	// DailyCalls returns the call count recorded for (tenant, day).
	DailyCalls(ctx context.Context, tenantID, day string) (int64, error)
	// MarkWarned sets warned_at if unset and reports whether this call set it.
	MarkWarned(ctx context.Context, tenantID, month string, at time.Time) (bool, error)
	// MarkBlocked sets blocked_at if unset and reports whether this call set it.
	MarkBlocked(ctx context.Context, tenantID, month string, at time.Time) (bool, error)
	// MarkCallsWarned sets calls_warned_at if unset and reports whether this call set it.
	MarkCallsWarned(ctx context.Context, tenantID, month string, at time.Time) (bool, error)
	// ListUsage returns all usage rows for a month ordered by cost.
	ListUsage(ctx context.Context, month string) ([]models.MonthlyUsage, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createBudgets = `
CREATE TABLE IF NOT EXISTS tenant_budgets (
	tenant_id TEXT PRIMARY KEY,
	monthly_budget_cents INTEGER NOT NULL,
	monthly_call_limit INTEGER NOT NULL,
	allow_expensive INTEGER,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);`

const createOverrides = `
CREATE TABLE IF NOT EXISTS tenant_overrides (
	tenant_id TEXT PRIMARY KEY,
	budget_cents INTEGER,
	call_limit INTEGER,
	allow_expensive INTEGER,
	updated_at DATETIME NOT NULL
);`

const createMonthlyUsage = `
CREATE TABLE IF NOT EXISTS monthly_usage (
	tenant_id TEXT NOT NULL,
	month TEXT NOT NULL,
	call_count INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_cents INTEGER NOT NULL DEFAULT 0,
	warned_at DATETIME,
	blocked_at DATETIME,
	calls_warned_at DATETIME,
	PRIMARY KEY (tenant_id, month)
);
CREATE INDEX IF NOT EXISTS idx_usage_month ON monthly_usage(month);`

const createDailyUsage = `
CREATE TABLE IF NOT EXISTS daily_usage (
	tenant_id TEXT NOT NULL,
	day TEXT NOT NULL,
	call_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, day)
);`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if err := sqlitedb.Migrate(db, createBudgets, createOverrides, createMonthlyUsage, createDailyUsage); err != nil {
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// EnsureBudget inserts defaults for a new tenant. An existing row is left untouched.
func (t *SQLiteTracker) EnsureBudget(ctx context.Context, defaults models.TenantBudget) (models.TenantBudget, error) {
	now := time.Now().UTC()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO tenant_budgets (tenant_id, monthly_budget_cents, monthly_call_limit, allow_expensive, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO NOTHING`,
		defaults.TenantID, defaults.MonthlyBudgetCents, defaults.MonthlyCallLimit,
		nullBool(defaults.AllowExpensive), now, now,
	)
	if err != nil {
		return models.TenantBudget{}, fmt.Errorf("ensure budget: %w", err)
	}

	b, ok, err := t.GetBudget(ctx, defaults.TenantID)
	if err != nil {
		return models.TenantBudget{}, err
	}
	if !ok {
		return models.TenantBudget{}, fmt.Errorf("ensure budget: row for %s vanished", defaults.TenantID)
	}
	return b, nil
}

// GetBudget returns the budget row for a tenant.
func (t *SQLiteTracker) GetBudget(ctx context.Context, tenantID string) (models.TenantBudget, bool, error) {
	var b models.TenantBudget
	var allow sql.NullBool
	err := t.db.QueryRowContext(ctx,
		`SELECT tenant_id, monthly_budget_cents, monthly_call_limit, allow_expensive, created_at, updated_at
		 FROM tenant_budgets WHERE tenant_id = ?`,
		tenantID,
	).Scan(&b.TenantID, &b.MonthlyBudgetCents, &b.MonthlyCallLimit, &allow, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TenantBudget{}, false, nil
	}
	if err != nil {
		return models.TenantBudget{}, false, fmt.Errorf("get budget: %w", err)
	}
	b.AllowExpensive = boolPtr(allow)
	return b, true, nil
}

// SetBudget upserts a budget row.
func (t *SQLiteTracker) SetBudget(ctx context.Context, b models.TenantBudget) error {
	now := time.Now().UTC()
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO tenant_budgets (tenant_id, monthly_budget_cents, monthly_call_limit, allow_expensive, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET
			monthly_budget_cents = excluded.monthly_budget_cents,
			monthly_call_limit = excluded.monthly_call_limit,
			allow_expensive = excluded.allow_expensive,
			updated_at = excluded.updated_at`,
		b.TenantID, b.MonthlyBudgetCents, b.MonthlyCallLimit, nullBool(b.AllowExpensive), now, now,
	)
	if err != nil {
		return fmt.Errorf("set budget: %w", err)
	}
	return nil
}

// GetOverride returns the override for a tenant, nil when none is stored.
func (t *SQLiteTracker) GetOverride(ctx context.Context, tenantID string) (*models.TenantOverride, error) {
	var o models.TenantOverride
	var budget, calls sql.NullInt64
	var allow sql.NullBool
	err := t.db.QueryRowContext(ctx,
		`SELECT tenant_id, budget_cents, call_limit, allow_expensive, updated_at
		 FROM tenant_overrides WHERE tenant_id = ?`,
		tenantID,
	).Scan(&o.TenantID, &budget, &calls, &allow, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	o.BudgetCents = int64Ptr(budget)
	o.CallLimit = int64Ptr(calls)
	o.AllowExpensive = boolPtr(allow)
	return &o, nil
}

// SetOverride replaces the override for a tenant. Nil fields are stored as NULL.
func (t *SQLiteTracker) SetOverride(ctx context.Context, o models.TenantOverride) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO tenant_overrides (tenant_id, budget_cents, call_limit, allow_expensive, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET
			budget_cents = excluded.budget_cents,
			call_limit = excluded.call_limit,
			allow_expensive = excluded.allow_expensive,
			updated_at = excluded.updated_at`,
		o.TenantID, nullInt64(o.BudgetCents), nullInt64(o.CallLimit), nullBool(o.AllowExpensive), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	return nil
}

// EnsureUsage creates the usage row for (tenant, month) if needed.
func (t *SQLiteTracker) EnsureUsage(ctx context.Context, tenantID, month string) (models.MonthlyUsage, error) {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO monthly_usage (tenant_id, month) VALUES (?, ?)
		 ON CONFLICT(tenant_id, month) DO NOTHING`,
		tenantID, month,
	)
	if err != nil {
		return models.MonthlyUsage{}, fmt.Errorf("ensure usage: %w", err)
	}
	u, _, err := t.GetUsage(ctx, tenantID, month)
	return u, err
}

// GetUsage returns the usage row for (tenant, month). A missing row yields a
// zeroed MonthlyUsage and ok=false.
func (t *SQLiteTracker) GetUsage(ctx context.Context, tenantID, month string) (models.MonthlyUsage, bool, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT tenant_id, month, call_count, input_tokens, output_tokens, cost_cents,
			warned_at, blocked_at, calls_warned_at
		 FROM monthly_usage WHERE tenant_id = ? AND month = ?`,
		tenantID, month,
	)
	u, err := scanUsage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MonthlyUsage{TenantID: tenantID, Month: month}, false, nil
	}
	if err != nil {
		return models.MonthlyUsage{}, false, fmt.Errorf("get usage: %w", err)
	}
	return u, true, nil
}

// IncrementUsage adds d to the monthly counters and d.Calls to the daily
// counter in one transaction. Each statement is a single upsert, so
// concurrent increments for the same tenant never lose updates.
func (t *SQLiteTracker) IncrementUsage(ctx context.Context, tenantID, month, day string, d models.UsageDelta) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin increment: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO monthly_usage (tenant_id, month, call_count, input_tokens, output_tokens, cost_cents)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id, month) DO UPDATE SET
			call_count = call_count + excluded.call_count,
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cost_cents = cost_cents + excluded.cost_cents`,
		tenantID, month, d.Calls, d.InputTokens, d.OutputTokens, d.CostCents,
	)
	if err != nil {
		return fmt.Errorf("increment monthly usage: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO daily_usage (tenant_id, day, call_count) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id, day) DO UPDATE SET call_count = call_count + excluded.call_count`,
		tenantID, day, d.Calls,
	)
	if err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit increment: %w", err)
	}
	return nil
}

// DailyCalls returns the calls recorded for a tenant on day ("YYYY-MM-DD").
func (t *SQLiteTracker) DailyCalls(ctx context.Context, tenantID, day string) (int64, error) {
	var n int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(call_count), 0) FROM daily_usage WHERE tenant_id = ? AND day = ?`,
		tenantID, day,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("daily calls: %w", err)
	}
	return n, nil
}

// MarkWarned sets the cost warning watermark.
func (t *SQLiteTracker) MarkWarned(ctx context.Context, tenantID, month string, at time.Time) (bool, error) {
	return t.markWatermark(ctx, "warned_at", tenantID, month, at)
}

// MarkBlocked sets the blocked watermark.
func (t *SQLiteTracker) MarkBlocked(ctx context.Context, tenantID, month string, at time.Time) (bool, error) {
	return t.markWatermark(ctx, "blocked_at", tenantID, month, at)
}

// MarkCallsWarned sets the call-count warning watermark.
func (t *SQLiteTracker) MarkCallsWarned(ctx context.Context, tenantID, month string, at time.Time) (bool, error) {
	return t.markWatermark(ctx, "calls_warned_at", tenantID, month, at)
}

// markWatermark sets column only while it is NULL. Watermarks are never cleared.
func (t *SQLiteTracker) markWatermark(ctx context.Context, column, tenantID, month string, at time.Time) (bool, error) {
	if _, err := t.EnsureUsage(ctx, tenantID, month); err != nil {
		return false, err
	}
	res, err := t.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE monthly_usage SET %[1]s = ? WHERE tenant_id = ? AND month = ? AND %[1]s IS NULL`, column),
		at.UTC(), tenantID, month,
	)
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", column, err)
	}
	return n == 1, nil
}

// ListUsage returns every tenant's usage row for month, highest cost first.
func (t *SQLiteTracker) ListUsage(ctx context.Context, month string) ([]models.MonthlyUsage, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT tenant_id, month, call_count, input_tokens, output_tokens, cost_cents,
			warned_at, blocked_at, calls_warned_at
		 FROM monthly_usage WHERE month = ? ORDER BY cost_cents DESC, tenant_id`,
		month,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var out []models.MonthlyUsage
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUsage(s scanner) (models.MonthlyUsage, error) {
	var u models.MonthlyUsage
	var warned, blocked, callsWarned sql.NullTime
	err := s.Scan(&u.TenantID, &u.Month, &u.CallCount, &u.InputTokens, &u.OutputTokens, &u.CostCents,
		&warned, &blocked, &callsWarned)
	if err != nil {
		return models.MonthlyUsage{}, err
	}
	u.WarnedAt = timePtr(warned)
	u.BlockedAt = timePtr(blocked)
	u.CallsWarnedAt = timePtr(callsWarned)
	return u, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func boolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
