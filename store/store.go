// Package store persists jobs, executions, notifications, teams, categories
// and Slack settings in SQLite. The database is the source of truth for what
// should be scheduled; the trigger engine is rebuilt from it on every resync.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netresearch/cronhook/core"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ReservedCategorySlug is pre-created on startup and can never be renamed.
const ReservedCategorySlug = "general"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	is_admin INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS pic_teams (
	slug TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	slack_handle TEXT,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS job_categories (
	slug TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	cron_expression TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	end_date TEXT,
	target_url TEXT,
	github_owner TEXT,
	github_repo TEXT,
	github_workflow_name TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	pic_team TEXT,
	category TEXT NOT NULL DEFAULT 'general',
	created_by TEXT,
	enable_email_notifications INTEGER NOT NULL DEFAULT 0,
	notify_on_success INTEGER NOT NULL DEFAULT 0,
	notification_emails TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS job_executions (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	status TEXT NOT NULL DEFAULT 'running',
	trigger_type TEXT NOT NULL DEFAULT 'scheduled',
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	duration_seconds REAL,
	execution_type TEXT,
	target TEXT,
	response_status INTEGER,
	error_message TEXT,
	output TEXT
);
CREATE INDEX IF NOT EXISTS idx_job_executions_job ON job_executions(job_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_job_executions_status ON job_executions(status);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT 'info',
	is_read INTEGER NOT NULL DEFAULT 0,
	read_at TIMESTAMP,
	related_job_id TEXT,
	related_execution_id TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS slack_settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	is_enabled INTEGER NOT NULL DEFAULT 0,
	webhook_url TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP
);
`

// Store wraps the SQLite handle. All methods are safe for concurrent use; the
// driver serializes writers and busy_timeout absorbs short write contention.
type Store struct {
	db     *sql.DB
	logger core.Logger
}

// Open opens (creating if needed) the database behind databaseURL and applies
// the schema. Accepted forms: a bare path, "file:path", "sqlite://path" or
// "sqlite:path".
func Open(databaseURL string, logger core.Logger) (*Store, error) {
	path := normalizePath(databaseURL)
	if path == "" {
		return nil, fmt.Errorf("empty database path")
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, logger: logger}
	s.migrate()

	if err := s.EnsureDefaults(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate runs best-effort column additions for databases created before the
// columns existed. Each statement is a no-op failure when the column is
// already present.
func (s *Store) migrate() {
	_, _ = s.db.Exec(`ALTER TABLE jobs ADD COLUMN end_date TEXT`)
	_, _ = s.db.Exec(`ALTER TABLE jobs ADD COLUMN pic_team TEXT`)
	_, _ = s.db.Exec(`ALTER TABLE pic_teams ADD COLUMN slack_handle TEXT`)
}

// EnsureDefaults seeds rows the scheduler depends on: the reserved "general"
// category and the slack_settings singleton.
func (s *Store) EnsureDefaults(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO job_categories (slug, name, is_active) VALUES (?, ?, 1)`,
		ReservedCategorySlug, "General"); err != nil {
		return fmt.Errorf("seed default category: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO slack_settings (id, is_enabled, webhook_url, channel) VALUES (1, 0, '', '')`); err != nil {
		return fmt.Errorf("seed slack settings: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// DB exposes the raw handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Errorf("tx rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func normalizePath(databaseURL string) string {
	p := strings.TrimSpace(databaseURL)
	switch {
	case strings.HasPrefix(p, "sqlite:///"):
		return strings.TrimPrefix(p, "sqlite:///")
	case strings.HasPrefix(p, "sqlite://"):
		return strings.TrimPrefix(p, "sqlite://")
	case strings.HasPrefix(p, "sqlite:"):
		return strings.TrimPrefix(p, "sqlite:")
	case strings.HasPrefix(p, "file:"):
		return strings.TrimPrefix(p, "file:")
	}
	return p
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
