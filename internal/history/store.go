// Package history keeps a record of past regression invocations and the
// outcome of every task they ran.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/hdl-regress/internal/domain"
	_ "modernc.org/sqlite"
)

// TaskRecord is the persisted form of one task result
type TaskRecord struct {
	InvocationID string
	OrderIndex   int
	Unit         string
	UnitPath     string
	RunIndex     int
	Seed         uint64
	Status       domain.RunStatus
	ExitCode     int
	Coverage     domain.CoverageStatus
	Error        string
	Duration     time.Duration
}

// Store provides SQLite-backed invocation history
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the history database at dbPath
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases and pragmas consistent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordInvocation stores an invocation and its task results in one transaction
func (s *Store) RecordInvocation(inv *domain.Invocation, results []*domain.RunResult) error {
	unitsJSON, err := json.Marshal(inv.Units)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO invocations (id, started_at, finished_at, units, runs, width, total, passed, failed, errored, collected, merge_inputs, merged, report_ok)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			total = excluded.total,
			passed = excluded.passed,
			failed = excluded.failed,
			errored = excluded.errored,
			collected = excluded.collected,
			merge_inputs = excluded.merge_inputs,
			merged = excluded.merged,
			report_ok = excluded.report_ok
	`,
		inv.ID,
		inv.StartedAt,
		inv.FinishedAt,
		string(unitsJSON),
		inv.Runs,
		inv.Width,
		inv.Total,
		inv.Passed,
		inv.Failed,
		inv.Errored,
		inv.Collected,
		inv.MergeInputs,
		inv.Merged,
		inv.ReportOK,
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM task_results WHERE invocation_id = ?`, inv.ID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO task_results (invocation_id, order_index, unit, unit_path, run_index, seed, status, exit_code, coverage, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if r == nil {
			continue
		}
		var msg sql.NullString
		if r.Err != nil {
			msg = sql.NullString{String: r.Err.Error(), Valid: true}
		} else if r.CoverageErr != nil {
			msg = sql.NullString{String: r.CoverageErr.Error(), Valid: true}
		}
		_, err := stmt.Exec(
			inv.ID,
			r.Task.OrderIndex,
			r.Task.Unit.Name,
			r.Task.Unit.RootPath,
			r.Task.RunIndex,
			int64(r.Task.Seed),
			string(r.Status),
			r.ExitCode,
			string(r.Coverage),
			msg,
			r.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting result for %s: %w", r.Task.Describe(), err)
		}
	}

	return tx.Commit()
}

// GetInvocation retrieves an invocation by ID
func (s *Store) GetInvocation(id string) (*domain.Invocation, error) {
	row := s.db.QueryRow(`SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)
	return scanInvocation(row)
}

// ListInvocations returns the most recent invocations first. A limit of zero
// or less returns all of them.
func (s *Store) ListInvocations(limit int) ([]*domain.Invocation, error) {
	query := `SELECT ` + invocationColumns + ` FROM invocations ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invocations []*domain.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

// ListResults returns the task results of an invocation in order
func (s *Store) ListResults(invocationID string) ([]TaskRecord, error) {
	return s.queryResults(`WHERE invocation_id = ? ORDER BY order_index`, invocationID)
}

// FindSeed returns every recorded task that ran with seed, newest first
func (s *Store) FindSeed(seed uint64) ([]TaskRecord, error) {
	return s.queryResults(`WHERE seed = ? ORDER BY id DESC`, int64(seed))
}

func (s *Store) queryResults(where string, args ...interface{}) ([]TaskRecord, error) {
	rows, err := s.db.Query(`
		SELECT invocation_id, order_index, unit, unit_path, run_index, seed, status, exit_code, coverage, error, duration_ms
		FROM task_results `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var seed, durationMS int64
		var status, coverage string
		var msg sql.NullString
		if err := rows.Scan(&rec.InvocationID, &rec.OrderIndex, &rec.Unit, &rec.UnitPath, &rec.RunIndex, &seed, &status, &rec.ExitCode, &coverage, &msg, &durationMS); err != nil {
			return nil, err
		}
		rec.Seed = uint64(seed)
		rec.Status = domain.RunStatus(status)
		rec.Coverage = domain.CoverageStatus(coverage)
		rec.Error = msg.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

const invocationColumns = `id, started_at, finished_at, units, runs, width, total, passed, failed, errored, collected, merge_inputs, merged, report_ok`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInvocation(row scanner) (*domain.Invocation, error) {
	var inv domain.Invocation
	var finished sql.NullTime
	var unitsJSON sql.NullString

	err := row.Scan(&inv.ID, &inv.StartedAt, &finished, &unitsJSON, &inv.Runs, &inv.Width, &inv.Total,
		&inv.Passed, &inv.Failed, &inv.Errored, &inv.Collected, &inv.MergeInputs, &inv.Merged, &inv.ReportOK)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		inv.FinishedAt = finished.Time
	}
	if unitsJSON.Valid && unitsJSON.String != "" && unitsJSON.String != "null" {
		if err := json.Unmarshal([]byte(unitsJSON.String), &inv.Units); err != nil {
			return nil, err
		}
	}
	return &inv, nil
}
