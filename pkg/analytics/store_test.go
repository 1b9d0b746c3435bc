package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/governor/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "analytics_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	march := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	record := func(in models.Interaction) {
		t.Helper()
		in.TenantID = "t1"
		if in.CreatedAt.IsZero() {
			in.CreatedAt = march
		}
		require.NoError(t, s.Record(ctx, in))
	}

	record(models.Interaction{Tier: models.TierCheap, Model: "gpt-4o-mini"})
	record(models.Interaction{Tier: models.TierCheap, Model: "gpt-4o-mini", Template: "rent-reminder"})
	record(models.Interaction{Tier: models.TierExpensive, Model: "gpt-4o"})
	record(models.Interaction{Tier: models.TierExpensive, Model: "gpt-4o", Cached: true})
	record(models.Interaction{Tier: models.TierCheap, Model: "degraded-free", Free: true})
	// outside the month
	record(models.Interaction{Tier: models.TierExpensive, Model: "gpt-4o", CreatedAt: march.AddDate(0, -1, 0)})
	record(models.Interaction{Tier: models.TierExpensive, Model: "gpt-4o", CreatedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)})

	snap, err := s.Snapshot(ctx, "t1", march)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.CheapCalls)
	assert.Equal(t, int64(1), snap.ExpensiveCalls)
	assert.Equal(t, int64(1), snap.FreeCalls)
	assert.Equal(t, int64(1), snap.CachedCalls)
	assert.Equal(t, int64(1), snap.TemplateRuns)
	assert.Equal(t, int64(5), snap.Total())
	assert.InDelta(t, 0.2, snap.ExpensiveShare(), 1e-9)
}

func TestSnapshotCountsDowngradesAsExpensive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	march := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, in := range []models.Interaction{
		{Tier: models.TierCheap, RequestedTier: models.TierExpensive, Model: "gpt-4o-mini"},
		{Tier: models.TierCheap, RequestedTier: models.TierExpensive, Model: "gpt-4o-mini"},
		{Tier: models.TierCheap, RequestedTier: models.TierCheap, Model: "gpt-4o-mini"},
		{Tier: models.TierCheap, Model: "gpt-4o-mini"},
	} {
		in.TenantID = "t1"
		in.CreatedAt = march
		require.NoError(t, s.Record(ctx, in))
	}

	snap, err := s.Snapshot(ctx, "t1", march)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.ExpensiveCalls)
	assert.Equal(t, int64(2), snap.CheapCalls)
	assert.InDelta(t, 0.5, snap.ExpensiveShare(), 1e-9)
}

func TestSnapshotEmpty(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Snapshot(context.Background(), "nobody", time.Now())
	require.NoError(t, err)
	assert.Zero(t, snap.Total())
	assert.Zero(t, snap.ExpensiveShare())
}
