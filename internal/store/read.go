package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const runColumns = `id, seq, scenario, scenario_hash, trace_digest, pass, rounds, elapsed_ms, engine_version, format_version`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRun scans the runColumns followed by any extra destinations.
func scanRun(row rowScanner, extra ...any) (Run, error) {
	var (
		r         Run
		pass      int
		elapsedMS int64
	)
	dest := append([]any{
		&r.ID, &r.Seq, &r.Scenario, &r.ScenarioHash, &r.TraceDigest,
		&pass, &r.Rounds, &elapsedMS, &r.EngineVersion, &r.FormatVersion,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Run{}, err
	}
	r.Pass = pass == 1
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return r, nil
}

// GetRun returns a run with its trace, actor reports and failures.
// Returns ErrNotFound if no run has the given ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var trace string
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+`, trace FROM runs WHERE id = ?`, id)
	r, err := scanRun(row, &trace)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}

	if r.Trace, err = unmarshalTrace(trace); err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	if r.Actors, err = s.readActorReports(ctx, id); err != nil {
		return Run{}, err
	}
	if r.Failures, err = s.readFailures(ctx, id); err != nil {
		return Run{}, err
	}
	r.FailureCount = len(r.Failures)
	return r, nil
}

func (s *Store) readActorReports(ctx context.Context, runID string) ([]ActorReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, state, steps_run, steps_total, last_round
		FROM actor_reports
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query actor reports: %w", err)
	}
	defer rows.Close()

	reports := []ActorReport{}
	for rows.Next() {
		var a ActorReport
		if err := rows.Scan(&a.Name, &a.State, &a.StepsRun, &a.StepsTotal, &a.LastRound); err != nil {
			return nil, fmt.Errorf("scan actor report: %w", err)
		}
		reports = append(reports, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actor reports: %w", err)
	}
	return reports, nil
}

func (s *Store) readFailures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, actor, round, step, op, code, message
		FROM failures
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	failures := []Failure{}
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Kind, &f.Actor, &f.Round, &f.Step, &f.Op, &f.Code, &f.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return failures, nil
}

// ListRuns returns matching runs, newest first, without trace, reports or
// failures. Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListRuns(ctx context.Context, f Filter) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if f.Scenario != "" {
		where = append(where, "scenario = ?")
		args = append(args, f.Scenario)
	}
	if f.ScenarioHash != "" {
		where = append(where, "scenario_hash = ?")
		args = append(args, f.ScenarioHash)
	}
	if f.FailedOnly {
		where = append(where, "pass = 0")
	}

	query := `SELECT ` + runColumns + `,
		(SELECT COUNT(*) FROM failures WHERE failures.run_id = runs.id)
		FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var count int
		r, err := scanRun(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FailureCount = count
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Verdicts returns the pass/fail verdict of every run of a scenario digest,
// oldest first.
func (s *Store) Verdicts(ctx context.Context, scenarioHash string) ([]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pass FROM runs WHERE scenario_hash = ? ORDER BY seq ASC
	`, scenarioHash)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	verdicts := []bool{}
	for rows.Next() {
		var pass int
		if err := rows.Scan(&pass); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		verdicts = append(verdicts, pass == 1)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}
	return verdicts, nil
}

// Stable reports whether every verdict agrees. An empty history is stable.
func Stable(verdicts []bool) bool {
	for _, v := range verdicts {
		if v != verdicts[0] {
			return false
		}
	}
	return true
}
