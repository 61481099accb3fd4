package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/lockstep/internal/ir"
)

// TraceSnapshot is the part of a result that must not change between runs
// of the same scenario: verdict and sorted trace, without sequence numbers,
// run IDs or timings.
type TraceSnapshot struct {
	Scenario string          `json:"scenario"`
	Pass     bool            `json:"pass"`
	Rounds   int             `json:"rounds"`
	Trace    []ir.TraceEntry `json:"trace"`
}

// Snapshot extracts the deterministic part of r.
func Snapshot(r *Result) TraceSnapshot {
	return TraceSnapshot{
		Scenario: r.Scenario,
		Pass:     r.Pass,
		Rounds:   r.Rounds,
		Trace:    traceEntries(r.Trace),
	}
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can make further assertions. Returns error
// if the scenario cannot be executed.
func RunWithGolden(t *testing.T, s *ir.Scenario, opts Options) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), s, opts)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, s.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := ir.MarshalCanonical(Snapshot(result))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
