// Package checkpoint persists the discovered station map and the
// per-station run state in SQLite, so a crashed or interrupted run
// resumes without repeating completed stations.
//
// The database is opened with WAL journaling and a busy timeout;
// writes go through transactions with bounded BUSY retry. SQLite's
// transactional semantics give torn-write safety: a reader always sees
// the last fully committed state.
//
// The caller blank-imports the driver:
//
//	import _ "modernc.org/sqlite"
//	db, err := checkpoint.Open("state.db")
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS map_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS station_map (
	ward_id       TEXT NOT NULL,
	ward_name     TEXT NOT NULL,
	station_id    TEXT NOT NULL,
	station_name  TEXT NOT NULL,
	discovered_at TEXT NOT NULL,
	PRIMARY KEY (ward_id, station_id)
);

CREATE TABLE IF NOT EXISTS station_state (
	station_id TEXT PRIMARY KEY,
	ward_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	reason     TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	done        INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	pending     INTEGER NOT NULL DEFAULT 0,
	records     INTEGER NOT NULL DEFAULT 0
);
`

// Open opens the checkpoint database at path, creating parent
// directories, applying pragmas and the schema.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("checkpoint: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory checkpoint database for tests. It sets
// MaxOpenConns(1) so every query hits the same in-memory database and
// registers cleanup to close it.
func OpenMemory(t testing.TB) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("checkpoint.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

const maxBusyRetries = 3

// isBusy reports whether err indicates an SQLite BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// runTx executes fn inside a transaction with bounded retry on BUSY.
func runTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	for i := 0; i < maxBusyRetries; i++ {
		err := runOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == maxBusyRetries-1 {
			return err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("checkpoint: cancelled during busy retry: %w", ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("checkpoint: busy retries exceeded")
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("checkpoint: commit: %w", err)
	}
	return nil
}
