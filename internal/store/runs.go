package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is one recorded fill attempt.
type Run struct {
	ID         int
	RunID      string
	Period     string
	Email      string
	Phase      string
	Rows       int
	Mismatches int
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunRow is the outcome of one plan row. Got is only set when the row
// failed verification.
type RunRow struct {
	Index    int
	Date     string
	Hours    string
	Category string
	OK       bool
	Got      string
}

func (db *DB) StartRun(r *Run) (int64, error) {
	result, err := db.Exec(
		`INSERT INTO runs (run_id, period, email, phase, row_count, started_at)
		 VALUES (?, ?, ?, 'running', ?, ?)`,
		r.RunID, r.Period, r.Email, r.Rows,
		r.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return result.LastInsertId()
}

// FinishRun stores the terminal phase of a run together with its rows.
func (db *DB) FinishRun(runID, phase, message string, finishedAt time.Time, rows []RunRow) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	mismatches := 0
	for _, row := range rows {
		if !row.OK {
			mismatches++
		}
		if _, err := tx.Exec(
			`INSERT INTO run_rows (run_id, row_index, date, hours, category, ok, got)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, row_index) DO UPDATE SET ok = excluded.ok, got = excluded.got`,
			runID, row.Index, row.Date, row.Hours, row.Category, row.OK, row.Got,
		); err != nil {
			return fmt.Errorf("inserting run row: %w", err)
		}
	}

	res, err := tx.Exec(
		"UPDATE runs SET phase = ?, message = ?, mismatches = ?, finished_at = ? WHERE run_id = ?",
		phase, message, mismatches, finishedAt.UTC().Format(time.RFC3339), runID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return tx.Commit()
}

// LastDoneRun returns the most recent successful run for period and email,
// or nil.
func (db *DB) LastDoneRun(period, email string) (*Run, error) {
	runs, err := db.queryRuns(
		`SELECT id, run_id, period, email, phase, row_count, mismatches, message, started_at, finished_at
		 FROM runs
		 WHERE period = ? AND email = ? AND phase = 'done'
		 ORDER BY id DESC
		 LIMIT 1`,
		period, email,
	)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// RunByID returns the run recorded under runID, or nil.
func (db *DB) RunByID(runID string) (*Run, error) {
	runs, err := db.queryRuns(
		`SELECT id, run_id, period, email, phase, row_count, mismatches, message, started_at, finished_at
		 FROM runs
		 WHERE run_id = ?`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (db *DB) RecentRuns(limit int) ([]Run, error) {
	return db.queryRuns(
		`SELECT id, run_id, period, email, phase, row_count, mismatches, message, started_at, finished_at
		 FROM runs
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
}

func (db *DB) RunRows(runID string) ([]RunRow, error) {
	rows, err := db.Query(
		`SELECT row_index, date, hours, category, ok, got
		 FROM run_rows
		 WHERE run_id = ?
		 ORDER BY row_index ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying run rows: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var got sql.NullString
		if err := rows.Scan(&r.Index, &r.Date, &r.Hours, &r.Category, &r.OK, &got); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.Got = got.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) queryRuns(query string, args ...interface{}) ([]Run, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var message, finishedStr sql.NullString
		var startedStr string

		if err := rows.Scan(
			&r.ID, &r.RunID, &r.Period, &r.Email, &r.Phase, &r.Rows, &r.Mismatches,
			&message, &startedStr, &finishedStr,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		r.Message = message.String

		if t, err := time.Parse(time.RFC3339, startedStr); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339, finishedStr.String); err == nil {
			r.FinishedAt = t
		}

		runs = append(runs, r)
	}

	return runs, rows.Err()
}
