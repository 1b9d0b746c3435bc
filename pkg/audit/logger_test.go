package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/governor/pkg/models"
)

func newTestLogger(t *testing.T, retentionDays int, now func() time.Time) *Logger {
	t.Helper()
	if now == nil {
		now = time.Now
	}
	l, err := newLogger(models.AuditConfig{
		DBPath:        filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays: retentionDays,
	}, now)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogAndQuery(t *testing.T) {
	l := newTestLogger(t, 0, nil)
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, models.Event{
		TenantID: "t1",
		Type:     models.EventBudgetUpdated,
		Actor:    "admin@example.com",
		Metadata: map[string]any{"before_cents": 500, "after_cents": 900},
	}))

	events, err := l.Query(ctx, models.EventQueryOpts{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, models.EventBudgetUpdated, ev.Type)
	assert.Equal(t, "admin@example.com", ev.Actor)
	assert.Equal(t, float64(900), ev.Metadata["after_cents"])
	assert.False(t, ev.CreatedAt.IsZero())
}

func TestLogRequiresTenantAndType(t *testing.T) {
	l := newTestLogger(t, 0, nil)
	assert.Error(t, l.Log(context.Background(), models.Event{Type: models.EventNudgeShown}))
	assert.Error(t, l.Log(context.Background(), models.Event{TenantID: "t1"}))
}

func TestQueryFilters(t *testing.T) {
	l := newTestLogger(t, 0, nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	log := func(member, typ, key string, at time.Time) {
		require.NoError(t, l.Log(ctx, models.Event{
			TenantID: "t1", MembershipID: member, Type: typ, CreatedAt: at,
			Metadata: map[string]any{"nudge_key": key},
		}))
	}
	log("m1", models.EventNudgeShown, models.NudgeNearLimit, base)
	log("m1", models.EventNudgeShown, models.NudgeHeavyTemplates, base.Add(time.Hour))
	log("m2", models.EventNudgeShown, models.NudgeNearLimit, base.Add(2*time.Hour))
	log("m1", models.EventNudgeDismissed, models.NudgeNearLimit, base.Add(3*time.Hour))

	events, err := l.Query(ctx, models.EventQueryOpts{TenantID: "t1", MembershipID: "m1", Type: models.EventNudgeShown})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.NudgeHeavyTemplates, events[0].Metadata["nudge_key"], "newest first")

	events, err = l.Query(ctx, models.EventQueryOpts{
		TenantID: "t1", MembershipID: "m1", Type: models.EventNudgeShown,
		MetaPath: "nudge_key", MetaValue: models.NudgeNearLimit,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, base.Equal(events[0].CreatedAt))

	events, err = l.Query(ctx, models.EventQueryOpts{TenantID: "t1", Since: base.Add(90 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = l.Query(ctx, models.EventQueryOpts{TenantID: "t1", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, events, 3)

	log("", models.EventNudgeShown, models.NudgeNearLimit, base.Add(4*time.Hour))
	events, err = l.Query(ctx, models.EventQueryOpts{TenantID: "t1", Type: models.EventNudgeShown})
	require.NoError(t, err)
	assert.Len(t, events, 4, "empty membership matches every member")

	events, err = l.Query(ctx, models.EventQueryOpts{TenantID: "t1", ExactMember: true, Type: models.EventNudgeShown})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].MembershipID)
}

func TestLastEvent(t *testing.T) {
	l := newTestLogger(t, 0, nil)
	ctx := context.Background()

	ev, err := l.LastEvent(ctx, models.EventQueryOpts{TenantID: "t1", Type: models.EventUpgradeRecommended})
	require.NoError(t, err)
	assert.Nil(t, ev)

	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)
	require.NoError(t, l.Log(ctx, models.Event{TenantID: "t1", Type: models.EventUpgradeRecommended, CreatedAt: older}))
	require.NoError(t, l.Log(ctx, models.Event{TenantID: "t1", Type: models.EventUpgradeRecommended, CreatedAt: newer}))

	ev, err = l.LastEvent(ctx, models.EventQueryOpts{TenantID: "t1", Type: models.EventUpgradeRecommended})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, newer.Equal(ev.CreatedAt))
}

func TestStats(t *testing.T) {
	l := newTestLogger(t, 0, nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for range 3 {
		require.NoError(t, l.Log(ctx, models.Event{TenantID: "t1", Type: models.EventNudgeShown, CreatedAt: day}))
	}
	require.NoError(t, l.Log(ctx, models.Event{TenantID: "t1", Type: models.EventBudgetWarned, CreatedAt: day}))

	stats, err := l.Stats(ctx, day.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	counts := map[string]int{}
	for _, s := range stats {
		assert.Equal(t, "2026-03-02", s.Day)
		counts[s.Type] = s.Count
	}
	assert.Equal(t, 3, counts[models.EventNudgeShown])
	assert.Equal(t, 1, counts[models.EventBudgetWarned])
}

func TestCleanup(t *testing.T) {
	now := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	l := newTestLogger(t, 30, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, models.Event{TenantID: "t1", Type: models.EventNudgeShown, CreatedAt: now.AddDate(0, 0, -31)}))
	require.NoError(t, l.Log(ctx, models.Event{TenantID: "t1", Type: models.EventNudgeShown, CreatedAt: now.AddDate(0, 0, -1)}))

	n, err := l.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := l.Query(ctx, models.EventQueryOpts{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCleanupDisabled(t *testing.T) {
	l := newTestLogger(t, 0, nil)
	require.NoError(t, l.Log(context.Background(), models.Event{
		TenantID: "t1", Type: models.EventNudgeShown, CreatedAt: time.Now().AddDate(-5, 0, 0),
	}))
	n, err := l.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.Log(context.Background(), models.Event{TenantID: "t1", Type: "x"}))
}
