package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/lockstep/internal/ir"
)

// createTestStore creates a new store in a temporary directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testRun creates a run with one actor and, if it failed, one failure.
func testRun(id, scenario string, pass bool) Run {
	r := Run{
		ID:            id,
		Scenario:      scenario,
		ScenarioHash:  "hash-" + scenario,
		TraceDigest:   "digest-" + id,
		Pass:          pass,
		Rounds:        2,
		Elapsed:       1500 * time.Millisecond,
		EngineVersion: ir.Version,
		FormatVersion: ir.FormatVersion,
		Trace: []ir.TraceEntry{
			{Actor: "Daemon", Round: 1, Step: 0, Op: "spawn", OK: true},
			{Actor: "Daemon", Round: 2, Step: 1, Op: "signal", OK: pass, Code: codeFor(pass)},
		},
		Actors: []ActorReport{
			{Name: "Daemon", State: "done", StepsRun: 2, StepsTotal: 2, LastRound: 2},
		},
	}
	if !pass {
		r.Failures = []Failure{{
			Kind:    "step",
			Actor:   "Daemon",
			Round:   2,
			Step:    1,
			Op:      "signal",
			Code:    "SIGNAL_TIMEOUT",
			Message: "sysrepod did not exit after terminated",
		}}
	}
	return r
}

func codeFor(pass bool) string {
	if pass {
		return ""
	}
	return "SIGNAL_TIMEOUT"
}

func writeTestRun(t *testing.T, s *Store, r Run) int64 {
	t.Helper()
	seq, err := s.WriteRun(context.Background(), r)
	if err != nil {
		t.Fatalf("WriteRun(%s) failed: %v", r.ID, err)
	}
	return seq
}
