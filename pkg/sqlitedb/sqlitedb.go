// Package sqlitedb opens the SQLite databases shared by the governor stores.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_time_format=sqlite"

// Open opens dbPath with busy timeout and WAL enabled. Times are written in
// the SQLite text format so date() and range comparisons work on them. Writes are serialised
// through a single connection so counter upserts never race on SQLITE_BUSY.
func Open(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if strings.Contains(dsn, "?") {
		dsn += "&" + pragmas
	} else {
		dsn += "?" + pragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate runs each statement in order, closing db on failure.
func Migrate(db *sql.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return err
		}
	}
	return nil
}
