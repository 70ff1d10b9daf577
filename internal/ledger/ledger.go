package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const maxErrorBytes = 4 * 1024

type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Record writes a run and its units in one transaction.
func (l *Ledger) Record(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	if run.Status == "" {
		return fmt.Errorf("run status is empty")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	var lastError any
	if run.LastError != nil {
		s := *run.LastError
		if len(s) > maxErrorBytes {
			s = s[:maxErrorBytes]
		}
		lastError = s
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO dispatch_run(id, day, requested, total_dispatched, status, last_error, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, run.ID, run.Day, run.Requested, run.TotalDispatched, run.Status, lastError,
		run.StartedAt.UTC().Format(time.RFC3339Nano), completedAt)
	if err != nil {
		return fmt.Errorf("insert dispatch_run: %w", err)
	}

	for _, u := range run.Units {
		_, err = tx.ExecContext(ctx, `
INSERT INTO dispatch_unit(run_id, unit_id, assigned, headcount, failure)
VALUES(?, ?, ?, ?, ?);
`, run.ID, u.UnitID, u.Assigned, u.Headcount, u.Failure)
		if err != nil {
			return fmt.Errorf("insert dispatch_unit %d: %w", u.UnitID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get loads a run with its units.
func (l *Ledger) Get(ctx context.Context, id string) (*Run, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, day, requested, total_dispatched, status, last_error, started_at, completed_at
FROM dispatch_run
WHERE id = ?;
`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT unit_id, assigned, headcount, failure
FROM dispatch_unit
WHERE run_id = ?
ORDER BY unit_id ASC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			u         Unit
			headcount sql.NullInt64
			failure   sql.NullString
		)
		if err := rows.Scan(&u.UnitID, &u.Assigned, &headcount, &failure); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		if headcount.Valid {
			n := int(headcount.Int64)
			u.Headcount = &n
		}
		if failure.Valid {
			u.Failure = &failure.String
		}
		run.Units = append(run.Units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return run, nil
}

// List returns the most recent runs without their units, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, day, requested, total_dispatched, status, last_error, started_at, completed_at
FROM dispatch_run
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r            Run
		status       string
		lastError    sql.NullString
		startedAtS   string
		completedAtS sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Day, &r.Requested, &r.TotalDispatched, &status, &lastError, &startedAtS, &completedAtS); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		r.StartedAt = t
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			r.CompletedAt = &t
		}
	}
	return &r, nil
}
