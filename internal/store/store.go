// Package store provides SQLite-backed persistence for programsync.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store provides access to the programsync SQLite database.
type Store struct {
	db *sqlx.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL mode for better concurrency during batch reconciliation runs
	db, err := sqlx.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		title TEXT NOT NULL,
		length_days INTEGER NOT NULL,
		include_weekends INTEGER NOT NULL DEFAULT 1,
		modules TEXT NOT NULL,
		weeks TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		program_id TEXT NOT NULL,
		cohort_id TEXT,
		started_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL,
		enrollment_id TEXT,
		cohort_id TEXT,
		org_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		include_weekends INTEGER NOT NULL DEFAULT 1,
		weeks TEXT NOT NULL,
		modules TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		instance_id TEXT,
		instance_task_id TEXT,
		day_index INTEGER NOT NULL,
		date TEXT NOT NULL,
		label TEXT NOT NULL,
		list_type TEXT NOT NULL DEFAULT 'backlog',
		status TEXT NOT NULL DEFAULT 'pending',
		client_locked INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT 'program',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(user_id, instance_id, day_index, instance_task_id)
	);

	CREATE TABLE IF NOT EXISTS habits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		org_id TEXT NOT NULL,
		program_id TEXT,
		module_id TEXT,
		text TEXT NOT NULL,
		description TEXT,
		frequency TEXT NOT NULL DEFAULT 'daily',
		days TEXT NOT NULL DEFAULT '[]',
		source TEXT NOT NULL DEFAULT 'user',
		archived INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS org_settings (
		org_id TEXT PRIMARY KEY,
		focus_slot_limit INTEGER NOT NULL DEFAULT 3,
		default_distribution TEXT NOT NULL DEFAULT 'spread',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		synced_today INTEGER NOT NULL,
		synced_tomorrow INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		no_instance INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		habits_created INTEGER NOT NULL,
		habits_updated INTEGER NOT NULL,
		habits_archived INTEGER NOT NULL,
		orphans_removed INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_status ON enrollments(status);
	CREATE INDEX IF NOT EXISTS idx_enrollments_program ON enrollments(program_id);
	CREATE INDEX IF NOT EXISTS idx_enrollments_cohort ON enrollments(cohort_id);
	CREATE INDEX IF NOT EXISTS idx_instances_enrollment ON instances(enrollment_id);
	CREATE INDEX IF NOT EXISTS idx_instances_cohort ON instances(cohort_id);
	CREATE INDEX IF NOT EXISTS idx_instances_program ON instances(program_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_date ON tasks(user_id, date);
	CREATE INDEX IF NOT EXISTS idx_tasks_instance ON tasks(instance_id);
	CREATE INDEX IF NOT EXISTS idx_habits_user ON habits(user_id, source, archived);
	`

	_, err := s.db.Exec(schema)
	return err
}

// nullable maps empty strings to NULL so the idempotency-key unique
// index never collides across user-authored rows.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
