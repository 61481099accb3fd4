package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WriteRun stores a finished run with its actor reports and failures in one
// transaction, assigning the next seq. Writing a run ID that is already
// stored is a no-op; the stored seq is returned either way.
func (s *Store) WriteRun(ctx context.Context, r Run) (int64, error) {
	if r.ID == "" {
		return 0, errors.New("write run: id is required")
	}
	trace, err := marshalTrace(r.Trace)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write run: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM runs WHERE id = ?`, r.ID).Scan(&seq)
	switch {
	case err == nil:
		return seq, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("write run: lookup: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("write run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, scenario, scenario_hash, trace_digest, pass, rounds, elapsed_ms, trace, engine_version, format_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		seq,
		r.Scenario,
		r.ScenarioHash,
		r.TraceDigest,
		boolToInt(r.Pass),
		r.Rounds,
		r.Elapsed.Milliseconds(),
		trace,
		r.EngineVersion,
		r.FormatVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}

	for i, a := range r.Actors {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO actor_reports
			(run_id, position, name, state, steps_run, steps_total, last_round)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, i, a.Name, a.State, a.StepsRun, a.StepsTotal, a.LastRound)
		if err != nil {
			return 0, fmt.Errorf("write actor report %s: %w", a.Name, err)
		}
	}

	for i, f := range r.Failures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO failures
			(run_id, position, kind, actor, round, step, op, code, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, i, f.Kind, f.Actor, f.Round, f.Step, f.Op, f.Code, f.Message)
		if err != nil {
			return 0, fmt.Errorf("write failure %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write run: commit: %w", err)
	}
	return seq, nil
}

// DeleteRun removes a run and, through foreign keys, its reports and
// failures. Deleting a missing run returns ErrNotFound.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete run %s: %w", id, ErrNotFound)
	}
	return nil
}
