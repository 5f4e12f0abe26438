// Package sqlite is the SQLite-backed implementation of the repository
// interfaces, used when DB_URL has a sqlite:// scheme — the zero-setup
// single-node default.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Open creates (if necessary) and opens a SQLite database at path, tuned
// for a single writer with many readers: WAL journaling, a busy timeout
// so concurrent Scheduler/Worker access blocks briefly instead of
// erroring, and foreign keys enforced.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// A single open connection serializes every statement from this
	// process, reads included, which avoids SQLITE_BUSY storms under WAL.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}

// applySchema bootstraps the four core tables if absent. Schema evolution
// beyond this baseline is external tooling, not this package's concern.
func applySchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT NOT NULL,
	script_path          TEXT NOT NULL,
	script_args          TEXT NOT NULL DEFAULT '',
	schedule_type        TEXT NOT NULL,
	interval_seconds     INTEGER NOT NULL DEFAULT 0,
	schedule_time        TEXT NOT NULL DEFAULT '',
	schedule_day         INTEGER,
	is_active            INTEGER NOT NULL DEFAULT 1,
	next_run             DATETIME,
	last_dispatched_at   DATETIME,
	dispatch_lock_until  DATETIME,
	created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_name ON scheduled_jobs(name);

CREATE TABLE IF NOT EXISTS worker_registration (
	worker_id       TEXT PRIMARY KEY,
	hostname        TEXT NOT NULL,
	platform        TEXT NOT NULL,
	started_at      DATETIME NOT NULL,
	last_heartbeat  DATETIME NOT NULL,
	status          TEXT NOT NULL,
	jobs_processed  INTEGER NOT NULL DEFAULT 0,
	current_job_id  INTEGER,
	process_id      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS job_dispatch (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id         INTEGER NOT NULL REFERENCES scheduled_jobs(id),
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	claimed_at     DATETIME,
	completed_at   DATETIME,
	status         TEXT NOT NULL,
	worker_id      TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_dispatch_job_id ON job_dispatch(job_id);
CREATE INDEX IF NOT EXISTS idx_job_dispatch_status ON job_dispatch(status);
CREATE INDEX IF NOT EXISTS idx_job_dispatch_created_at ON job_dispatch(created_at);
CREATE INDEX IF NOT EXISTS idx_job_dispatch_claimed_at ON job_dispatch(claimed_at);

CREATE TABLE IF NOT EXISTS job_execution_logs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      INTEGER NOT NULL REFERENCES scheduled_jobs(id),
	run_time    DATETIME NOT NULL,
	status      TEXT NOT NULL,
	log_output  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_job_execution_logs_job_id ON job_execution_logs(job_id);
`
