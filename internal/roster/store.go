package roster

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store is the sqlite-backed roster. It implements Provider.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Import upserts workers by name. A worker keeps its original position in
// the roster when its days are updated.
func (s *Store) Import(ctx context.Context, workers []EligibleWorker) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, w := range workers {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			return 0, fmt.Errorf("worker %d: %w", i, ErrEmptyName)
		}
		days := ParseDays(FormatDays(w.Days))
		if len(days) == 0 {
			return 0, fmt.Errorf("worker %q: %w", name, ErrNoDays)
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO applicants(name, days, created_at)
VALUES(?, ?, ?)
ON CONFLICT(name) DO UPDATE SET days = excluded.days;
`, name, FormatDays(days), now)
		if err != nil {
			return 0, fmt.Errorf("upsert applicant %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return len(workers), nil
}

// All returns the whole roster in insertion order.
func (s *Store) All(ctx context.Context) ([]EligibleWorker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, days FROM applicants ORDER BY rowid ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query applicants: %w", err)
	}
	defer rows.Close()

	var out []EligibleWorker
	for rows.Next() {
		var name, days string
		if err := rows.Scan(&name, &days); err != nil {
			return nil, fmt.Errorf("scan applicant: %w", err)
		}
		out = append(out, EligibleWorker{Name: name, Days: ParseDays(days)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applicants: %w", err)
	}
	return out, nil
}

// Eligible returns the workers available on day, in roster order.
func (s *Store) Eligible(ctx context.Context, day string) ([]EligibleWorker, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return FilterByDay(all, day), nil
}

// File is the yaml roster format accepted by LoadFile.
type File struct {
	Workers []EligibleWorker `yaml:"workers"`
}

// LoadFile reads a yaml roster:
//
//	workers:
//	  - name: ann
//	    days: [monday, tuesday]
func LoadFile(path string) ([]EligibleWorker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster file %s: %w", path, err)
	}
	return f.Workers, nil
}
