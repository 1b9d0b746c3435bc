package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/pario-ai/governor/pkg/models"
	"github.com/pario-ai/governor/pkg/sqlitedb"
)

// Logger writes and queries tenant events in a SQLite database. Besides the
// audit trail, the most recent event of a type is what nudge cooldowns are
// computed from.
type Logger struct {
	db   *sql.DB
	cfg  models.AuditConfig
	now  func() time.Time
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

const createEvents = `
CREATE TABLE IF NOT EXISTS events (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	membership_id TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL,
	actor         TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_lookup ON events(tenant_id, membership_id, type, created_at);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);`

// New opens the event database and starts the retention loop.
func New(cfg models.AuditConfig) (*Logger, error) {
	return newLogger(cfg, time.Now)
}

func newLogger(cfg models.AuditConfig, now func() time.Time) (*Logger, error) {
	db, err := sqlitedb.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := sqlitedb.Migrate(db, createEvents); err != nil {
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:   db,
		cfg:  cfg,
		now:  now,
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

// Log inserts an event. A missing ID or timestamp is filled in.
func (l *Logger) Log(ctx context.Context, ev models.Event) error {
	if l == nil || l.db == nil {
		return nil
	}
	if ev.TenantID == "" || ev.Type == "" {
		return fmt.Errorf("log event: tenant and type are required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	meta := []byte("{}")
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encode event metadata: %w", err)
		}
		meta = b
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (id, tenant_id, membership_id, type, actor, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TenantID, ev.MembershipID, ev.Type, ev.Actor, string(meta), ev.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Query returns events matching opts, newest first. When opts.MetaPath is
// set, only events whose metadata value at that gjson path equals
// opts.MetaValue are returned.
func (l *Logger) Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error) {
	q := `SELECT id, tenant_id, membership_id, type, actor, metadata, created_at
		FROM events WHERE 1=1`
	var args []any

	if opts.TenantID != "" {
		q += " AND tenant_id = ?"
		args = append(args, opts.TenantID)
	}
	if opts.MembershipID != "" || opts.ExactMember {
		q += " AND membership_id = ?"
		args = append(args, opts.MembershipID)
	}
	if opts.Type != "" {
		q += " AND type = ?"
		args = append(args, opts.Type)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY created_at DESC, rowid DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	// metadata filtering happens after the scan, so the limit is applied there
	if opts.MetaPath == "" {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var meta string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.MembershipID, &e.Type, &e.Actor, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if opts.MetaPath != "" && gjson.Get(meta, opts.MetaPath).String() != opts.MetaValue {
			continue
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		events = append(events, e)
		if len(events) == limit {
			break
		}
	}
	return events, rows.Err()
}

// LastEvent returns the newest event matching opts, or nil if there is none.
func (l *Logger) LastEvent(ctx context.Context, opts models.EventQueryOpts) (*models.Event, error) {
	opts.Limit = 1
	events, err := l.Query(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

// Stats returns event counts grouped by type and day since the given time.
func (l *Logger) Stats(ctx context.Context, since time.Time) ([]models.EventStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT type, date(created_at) AS day, count(*) AS cnt
		 FROM events WHERE created_at >= ?
		 GROUP BY type, day ORDER BY day DESC, type`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()

	var stats []models.EventStat
	for rows.Next() {
		var s models.EventStat
		var day sql.NullString
		if err := rows.Scan(&s.Type, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan event stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes events older than the retention period. A non-positive
// retention keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("event cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}
