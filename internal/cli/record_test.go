package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/harness"
	"github.com/roach88/lockstep/internal/ir"
	"github.com/roach88/lockstep/internal/store"
)

func testResult() *harness.Result {
	r := harness.NewResult()
	r.RunID = "run-1"
	r.Scenario = "subscribe_unsubscribe"
	r.ScenarioHash = "scenario-hash"
	r.TraceDigest = "trace-digest"
	r.Rounds = 2
	r.Elapsed = 1200 * time.Millisecond
	r.Actors = []engine.ActorReport{
		{Name: "Daemon", State: engine.StateDone, StepsRun: 1, StepsTotal: 1, LastRound: 1},
		{Name: "Subscriber", State: engine.StateDone, StepsRun: 1, StepsTotal: 2, LastRound: 2},
	}
	r.Trace = []engine.TraceEvent{
		{Actor: "Daemon", Round: 1, Step: 0, Op: "spawn", StartSeq: 1, EndSeq: 2, OK: true},
		{Actor: "Subscriber", Round: 2, Step: 1, Op: "expect_notifications", StartSeq: 3, EndSeq: 4, Code: "ASSERTION_MISMATCH"},
	}
	r.AddFailure(harness.Failure{
		Kind: harness.FailureStep, Actor: "Subscriber", Round: 2, Step: 1,
		Op: "expect_notifications", Code: "ASSERTION_MISMATCH", Message: "got 2 records, want 3",
	})
	return r
}

func TestToStoreRun(t *testing.T) {
	run := toStoreRun(testResult())

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "subscribe_unsubscribe", run.Scenario)
	assert.Equal(t, "scenario-hash", run.ScenarioHash)
	assert.Equal(t, "trace-digest", run.TraceDigest)
	assert.False(t, run.Pass)
	assert.Equal(t, 2, run.Rounds)
	assert.Equal(t, 1200*time.Millisecond, run.Elapsed)
	assert.Equal(t, ir.Version, run.EngineVersion)
	assert.Equal(t, ir.FormatVersion, run.FormatVersion)

	assert.Equal(t, []store.ActorReport{
		{Name: "Daemon", State: "done", StepsRun: 1, StepsTotal: 1, LastRound: 1},
		{Name: "Subscriber", State: "done", StepsRun: 1, StepsTotal: 2, LastRound: 2},
	}, run.Actors)

	assert.Equal(t, []ir.TraceEntry{
		{Actor: "Daemon", Round: 1, Step: 0, Op: "spawn", OK: true},
		{Actor: "Subscriber", Round: 2, Step: 1, Op: "expect_notifications", Code: "ASSERTION_MISMATCH"},
	}, run.Trace)

	require.Len(t, run.Failures, 1)
	assert.Equal(t, store.Failure{
		Kind: "step", Actor: "Subscriber", Round: 2, Step: 1,
		Op: "expect_notifications", Code: "ASSERTION_MISMATCH", Message: "got 2 records, want 3",
	}, run.Failures[0])
}

func TestRecordRun(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, recordRun(ctx, st, testResult()))
	// Recording the same run twice keeps one row.
	require.NoError(t, recordRun(ctx, st, testResult()))

	runs, err := st.ListRuns(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, got.Trace, 2)
	assert.Len(t, got.Failures, 1)
}

func TestOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	_, err := openExisting(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not found")

	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = openExisting(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}
