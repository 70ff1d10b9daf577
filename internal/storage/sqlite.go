package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS applicants (
  name       TEXT PRIMARY KEY,
  days       TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS dispatch_run (
  id               TEXT PRIMARY KEY,
  day              TEXT NOT NULL,
  requested        INTEGER NOT NULL,
  total_dispatched INTEGER NOT NULL DEFAULT 0,
  status           TEXT NOT NULL,
  last_error       TEXT,
  started_at       TEXT NOT NULL,
  completed_at     TEXT
);`,
		`CREATE TABLE IF NOT EXISTS dispatch_unit (
  run_id    TEXT NOT NULL REFERENCES dispatch_run(id) ON DELETE CASCADE,
  unit_id   INTEGER NOT NULL,
  assigned  INTEGER NOT NULL,
  headcount INTEGER,
  failure   TEXT,
  PRIMARY KEY (run_id, unit_id)
);`,
		`CREATE INDEX IF NOT EXISTS dispatch_run_started_at_idx ON dispatch_run(started_at);`,
		`CREATE INDEX IF NOT EXISTS dispatch_run_day_idx ON dispatch_run(day);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
