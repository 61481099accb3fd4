package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/lockstep/internal/harness"
	"github.com/roach88/lockstep/internal/ir"
	"github.com/roach88/lockstep/internal/store"
)

// toStoreRun flattens a harness result into a history row.
func toStoreRun(r *harness.Result) store.Run {
	run := store.Run{
		ID:            r.RunID,
		Scenario:      r.Scenario,
		ScenarioHash:  r.ScenarioHash,
		TraceDigest:   r.TraceDigest,
		Pass:          r.Pass,
		Rounds:        r.Rounds,
		Elapsed:       r.Elapsed,
		EngineVersion: ir.Version,
		FormatVersion: ir.FormatVersion,
		Trace:         harness.Snapshot(r).Trace,
		Actors:        make([]store.ActorReport, len(r.Actors)),
		Failures:      make([]store.Failure, len(r.Failures)),
	}
	for i, a := range r.Actors {
		run.Actors[i] = store.ActorReport{
			Name:       a.Name,
			State:      string(a.State),
			StepsRun:   a.StepsRun,
			StepsTotal: a.StepsTotal,
			LastRound:  a.LastRound,
		}
	}
	for i, f := range r.Failures {
		run.Failures[i] = store.Failure(f)
	}
	return run
}

// recordRun writes r to the history database.
func recordRun(ctx context.Context, st *store.Store, r *harness.Result) error {
	if _, err := st.WriteRun(ctx, toStoreRun(r)); err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// openExisting opens a history database. Unlike store.Open it never
// creates one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("database not found: %s", path)
		}
		return nil, err
	}
	return store.Open(path)
}
