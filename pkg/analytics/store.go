// Package analytics records answered chat interactions and summarises a
// tenant's monthly mix of tiers, cache hits and template runs.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/sqlitedb"
)

// Store persists interactions in SQLite.
type Store struct {
	db *sql.DB
}

const createInteractions = `
CREATE TABLE IF NOT EXISTS interactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	membership_id TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL,
	requested_tier TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL,
	cached INTEGER NOT NULL DEFAULT 0,
	free INTEGER NOT NULL DEFAULT 0,
	template TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_tenant_time ON interactions(tenant_id, created_at);`

// New opens the analytics database.
func New(dbPath string) (*Store, error) {
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	if err := sqlitedb.Migrate(db, createInteractions); err != nil {
		return nil, fmt.Errorf("migrate analytics db: %w", err)
	}
	return &Store{db: db}, nil
}

// Record stores one interaction.
func (s *Store) Record(ctx context.Context, in models.Interaction) error {
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (tenant_id, membership_id, tier, requested_tier, model, cached, free, template, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.TenantID, in.MembershipID, string(in.Tier), string(in.RequestedTier), in.Model, in.Cached, in.Free, in.Template, in.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// Snapshot counts a tenant's interactions in the calendar month containing at.
// Cached and free interactions are counted only in their own buckets. A call
// downgraded from the expensive tier counts as expensive.
func (s *Store) Snapshot(ctx context.Context, tenantID string, at time.Time) (models.AnalyticsSnapshot, error) {
	start, end := models.MonthBounds(at)
	var snap models.AnalyticsSnapshot
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN cached = 0 AND free = 0 AND tier = ?1 AND requested_tier != ?2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN cached = 0 AND free = 0 AND (tier = ?2 OR requested_tier = ?2) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN cached = 0 AND free = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN cached = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN template != '' THEN 1 ELSE 0 END), 0)
		 FROM interactions
		 WHERE tenant_id = ?3 AND created_at >= ?4 AND created_at < ?5`,
		string(models.TierCheap), string(models.TierExpensive), tenantID, start, end,
	).Scan(&snap.CheapCalls, &snap.ExpensiveCalls, &snap.FreeCalls, &snap.CachedCalls, &snap.TemplateRuns)
	if err != nil {
		return models.AnalyticsSnapshot{}, fmt.Errorf("analytics snapshot: %w", err)
	}
	return snap, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
