package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationRuns,
		migrationDeliveries,
		migrationIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

const migrationRuns = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	period TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'pending',
	trigger_kind TEXT NOT NULL,
	preview INTEGER NOT NULL DEFAULT 0,
	error TEXT,

	-- Progress counters
	accounts_total INTEGER NOT NULL DEFAULT 0,
	accounts_succeeded INTEGER NOT NULL DEFAULT 0,
	anomalies_detected INTEGER NOT NULL DEFAULT 0,
	failures TEXT,

	-- Timestamps
	triggered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
`

const migrationDeliveries = `
CREATE TABLE IF NOT EXISTS deliveries (
	period TEXT NOT NULL,
	account_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	recipients TEXT NOT NULL,
	sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

	PRIMARY KEY (period, account_id, kind)
);
`

// idx_runs_period_active prevents two concurrent runs for the same
// period. The insert for a second trigger fails at the database even
// if two API requests race past the application check.
const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_runs_period ON runs(period);
CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_period_active
ON runs(period)
WHERE state IN ('pending', 'fetching', 'analyzing', 'composing', 'delivering');
`
