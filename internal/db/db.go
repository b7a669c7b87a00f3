package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDatabaseInit = errors.New("database initialization failed")
)

// DB represents the database connection.
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	// Connection pool limits; SQLite still benefits from bounding open
	// file handles even though writes are serialized.
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks the database connection.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the database schema.
func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS families (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			google_calendar_id TEXT NOT NULL DEFAULT '',
			calendar_name TEXT NOT NULL DEFAULT '',
			last_calendar_sync_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			family_id TEXT NOT NULL,
			email TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			connected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_sync_at DATETIME,
			FOREIGN KEY (family_id) REFERENCES families(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_accounts_family_id ON accounts(family_id)`,

		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			family_id TEXT NOT NULL,
			source_account_id TEXT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			event_date TEXT NOT NULL,
			event_time TEXT NOT NULL DEFAULT '',
			end_time TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			member_names TEXT NOT NULL DEFAULT '',
			source_email_id TEXT NOT NULL DEFAULT '',
			source_email_subject TEXT NOT NULL DEFAULT '',
			requires_action INTEGER NOT NULL DEFAULT 0,
			action_deadline TEXT NOT NULL DEFAULT '',
			action_description TEXT NOT NULL DEFAULT '',
			action_completed INTEGER NOT NULL DEFAULT 0,
			is_confirmed INTEGER NOT NULL DEFAULT 0,
			is_recurring INTEGER NOT NULL DEFAULT 0,
			recurrence_pattern TEXT NOT NULL DEFAULT '',
			recurrence_interval INTEGER NOT NULL DEFAULT 0,
			recurrence_days_of_week TEXT NOT NULL DEFAULT '',
			recurrence_end_type TEXT NOT NULL DEFAULT '',
			recurrence_end_date TEXT NOT NULL DEFAULT '',
			recurrence_end_count INTEGER NOT NULL DEFAULT 0,
			parent_event_id TEXT,
			is_recurring_instance INTEGER NOT NULL DEFAULT 0,
			google_event_id TEXT NOT NULL DEFAULT '',
			sync_status TEXT NOT NULL DEFAULT 'pending',
			sync_error TEXT NOT NULL DEFAULT '',
			sync_retry_count INTEGER NOT NULL DEFAULT 0,
			last_sync_attempt DATETIME,
			last_synced_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (family_id) REFERENCES families(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_events_family_id ON events(family_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_family_date ON events(family_id, event_date)`,
		`CREATE INDEX IF NOT EXISTS idx_events_sync_status ON events(sync_status)`,
		`CREATE INDEX IF NOT EXISTS idx_events_family_sync_status ON events(family_id, sync_status)`,
		`CREATE INDEX IF NOT EXISTS idx_events_google_event_id ON events(google_event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_parent ON events(parent_event_id)`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			run_at DATETIME NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_jobs_status_run_at ON jobs(status, run_at)`,

		`CREATE TABLE IF NOT EXISTS sync_logs (
			id TEXT PRIMARY KEY,
			family_id TEXT NOT NULL,
			event_id TEXT NOT NULL DEFAULT '',
			operation TEXT NOT NULL,
			success INTEGER NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sync_logs_family_id ON sync_logs(family_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON sync_logs(created_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is due to a duplicate column in ALTER TABLE.
func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}
