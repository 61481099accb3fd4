package harness

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/config"
	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/ir"
	"github.com/roach88/lockstep/internal/notiflog"
	"github.com/roach88/lockstep/internal/testutil"
)

func loadSubscribeUnsubscribe(t *testing.T) *ir.Scenario {
	t.Helper()
	s, err := LoadScenario("testdata/subscribe_unsubscribe.yaml")
	require.NoError(t, err)
	return s
}

func runScenario(t *testing.T, s *ir.Scenario, opts Options) *Result {
	t.Helper()
	result, err := Run(context.Background(), s, opts)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func failureCodes(r *Result) []string {
	out := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		out[i] = f.Code
	}
	return out
}

func TestRun_SubscribeUnsubscribe(t *testing.T) {
	sys := testutil.InstallSysrepo(t)

	result := runScenario(t, loadSubscribeUnsubscribe(t), Options{})
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	assert.Equal(t, "subscribe_unsubscribe", result.Scenario)
	assert.Equal(t, 9, result.Rounds)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.ScenarioHash, 64)
	assert.Len(t, result.TraceDigest, 64)
	assert.Len(t, result.Trace, 11)

	require.Len(t, result.Observed["Subscriber"], 11)
	require.Len(t, result.Observed["Subscriber2"], 3)
	assert.True(t, notiflog.IsSubsequence(result.Observed["Subscriber2"], result.Observed["Subscriber"]))
	assert.Equal(t, notiflog.R("DELETED", "/ietf-interfaces:interfaces/interface[name='eth0']"), result.Observed["Subscriber"][0])

	for _, a := range result.Actors {
		assert.Equal(t, engine.StateDone, a.State, a.Name)
		assert.Equal(t, a.StepsTotal, a.StepsRun, a.Name)
	}

	assert.ElementsMatch(t, []string{
		"/ietf-interfaces:interfaces",
		"/ietf-interfaces:interfaces/interface/ietf-ip:ipv4/address",
	}, sys.Stopped(t))
	assert.False(t, sys.DaemonRunning())
}

func TestRun_PipeChannel(t *testing.T) {
	testutil.InstallSysrepo(t)

	result := runScenario(t, loadSubscribeUnsubscribe(t), Options{Channel: notiflog.KindPipe})
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Observed["Subscriber"], 11)
	assert.Len(t, result.Observed["Subscriber2"], 3)
}

func TestRun_SameVerdictOnRerun(t *testing.T) {
	s := loadSubscribeUnsubscribe(t)

	testutil.InstallSysrepo(t)
	first := runScenario(t, s, Options{})
	testutil.InstallSysrepo(t)
	second := runScenario(t, s, Options{})

	assert.True(t, first.Pass, "errors: %v", first.Errors)
	assert.Equal(t, first.Pass, second.Pass)
	assert.Equal(t, first.ScenarioHash, second.ScenarioHash)
	assert.Equal(t, first.TraceDigest, second.TraceDigest)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRun_FailureStillCleansUp(t *testing.T) {
	sys := testutil.InstallSysrepo(t)
	s := loadSubscribeUnsubscribe(t)

	// Expect one record fewer than Subscriber2 will produce.
	expect := s.Actors[3].Steps[1].Args
	records := expect["records"].([]any)
	expect["records"] = records[:2]

	cfg := config.Default()
	cfg.Channel.Dir = t.TempDir()

	result := runScenario(t, s, Options{Config: cfg})
	assert.False(t, result.Pass)

	require.Len(t, result.Failures, 1, "errors: %v", result.Errors)
	f := result.Failures[0]
	assert.Equal(t, FailureStep, f.Kind)
	assert.Equal(t, "Subscriber2", f.Actor)
	assert.Equal(t, 7, f.Round)
	assert.Equal(t, 1, f.Step)
	assert.Equal(t, OpExpectNotifications, f.Op)
	assert.Equal(t, string(engine.CodeAssertionMismatch), f.Code)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "[ASSERTION_MISMATCH] Subscriber2 round 7 step 1")

	sub2, ok := findActor(result, "Subscriber2")
	require.True(t, ok)
	assert.Equal(t, 2, sub2.StepsRun)
	assert.Equal(t, 3, sub2.StepsTotal)

	// The skipped signal step is made up for by cleanup, and every channel
	// file is gone.
	assert.Len(t, sys.Stopped(t), 2)
	assert.False(t, sys.DaemonRunning())
	entries, err := os.ReadDir(cfg.Channel.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Post-run assertions see the final records, taken at cleanup.
	assert.Len(t, result.Observed["Subscriber2"], 3)
}

func findActor(r *Result, name string) (engine.ActorReport, bool) {
	for _, a := range r.Actors {
		if a.Name == name {
			return a, true
		}
	}
	return engine.ActorReport{}, false
}

func TestRun_SpawnFailureIsolatedToActor(t *testing.T) {
	s := &ir.Scenario{
		Name: "missing_binary",
		Actors: []ir.Actor{
			{Name: "Broken", Steps: []ir.Step{
				{Op: OpSpawn, Args: map[string]any{"command": "lockstep-no-such-binary"}},
				{Op: OpWait},
			}},
			{Name: "Healthy", Steps: []ir.Step{
				{Op: OpExec, Args: map[string]any{"command": "true"}},
				{Op: OpExec, Args: map[string]any{"command": "true"}},
			}},
		},
	}

	result := runScenario(t, s, Options{})
	assert.False(t, result.Pass)
	assert.Equal(t, []string{string(engine.CodeSpawnFailure)}, failureCodes(result))
	assert.Equal(t, "Broken", result.Failures[0].Actor)

	healthy, ok := findActor(result, "Healthy")
	require.True(t, ok)
	assert.Equal(t, 2, healthy.StepsRun)
}

func TestRun_SpawnCrashReportsStderr(t *testing.T) {
	script := testutil.WriteScript(t, "crasher", "echo 'no datastore' >&2\nexit 3\n")
	s := &ir.Scenario{
		Name: "crash",
		Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{
			{Op: OpSpawn, Args: map[string]any{"command": script, "settle": "500ms"}},
		}}},
	}

	result := runScenario(t, s, Options{})
	require.Equal(t, []string{string(engine.CodeSpawnFailure)}, failureCodes(result))
	assert.Contains(t, result.Failures[0].Message, "no datastore")
}

func TestRun_CrashDuringReadyDelay(t *testing.T) {
	script := testutil.WriteScript(t, "crasher", "echo 'no datastore' >&2\nexit 3\n")
	s := &ir.Scenario{
		Name: "crash_delay",
		Actors: []ir.Actor{{Name: "Daemon", Steps: []ir.Step{
			{Op: OpSpawn, Args: map[string]any{"command": script, "ready": map[string]any{"delay": "100ms"}}},
			{Op: OpSignal, Args: map[string]any{"signal": "TERM"}},
		}}},
	}

	result := runScenario(t, s, Options{})
	assert.False(t, result.Pass)
	require.Equal(t, []string{string(engine.CodeSpawnFailure)}, failureCodes(result))
	assert.Equal(t, "Daemon", result.Failures[0].Actor)
	assert.Contains(t, result.Failures[0].Message, "no datastore")
	assert.Contains(t, result.Failures[0].Message, "exit status 3")
}

func TestRun_SignalAfterCrash(t *testing.T) {
	script := testutil.WriteScript(t, "late_crasher", "sleep 0.1\nexit 5\n")
	s := &ir.Scenario{
		Name: "crash_before_signal",
		Actors: []ir.Actor{{Name: "Daemon", Steps: []ir.Step{
			{Op: OpSpawn, Args: map[string]any{"command": script}},
			{Op: OpExec, Args: map[string]any{"command": "sleep", "args": []any{"0.5"}}},
			{Op: OpSignal, Args: map[string]any{"signal": "TERM"}},
		}}},
	}

	result := runScenario(t, s, Options{})
	assert.False(t, result.Pass)
	require.Equal(t, []string{string(engine.CodeStepFailed)}, failureCodes(result))
	f := result.Failures[0]
	assert.Equal(t, OpSignal, f.Op)
	assert.Contains(t, f.Message, "exited before")
	assert.Contains(t, f.Message, "exit status 5")
}

func TestRun_SignalTimeout(t *testing.T) {
	script := testutil.WriteScript(t, "stubborn", testutil.Stubborn)
	s := &ir.Scenario{
		Name: "stubborn",
		Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{
			{Op: OpSpawn, Args: map[string]any{"command": script, "ready": map[string]any{"delay": "100ms"}}},
			{Op: OpSignal, Args: map[string]any{"signal": "TERM", "grace": "100ms"}},
		}}},
	}

	result := runScenario(t, s, Options{})
	assert.Equal(t, []string{string(engine.CodeSignalTimeout)}, failureCodes(result))
}

func TestRun_ExecExitStatus(t *testing.T) {
	s := &ir.Scenario{
		Name: "exec",
		Actors: []ir.Actor{
			{Name: "Expected", Steps: []ir.Step{
				{Op: OpExec, Args: map[string]any{"command": "sh", "args": []any{"-c", "exit 4"}, "expect_exit": 4}},
			}},
			{Name: "Unexpected", Steps: []ir.Step{
				{Op: OpExec, Args: map[string]any{"command": "sh", "args": []any{"-c", "echo denied; exit 4"}}},
			}},
		},
	}

	result := runScenario(t, s, Options{})
	require.Equal(t, []string{string(engine.CodeStepFailed)}, failureCodes(result))
	f := result.Failures[0]
	assert.Equal(t, "Unexpected", f.Actor)
	assert.Contains(t, f.Message, "exit status 4, want 0")
	assert.Contains(t, f.Message, "denied")
}

func TestRun_ExecTimeout(t *testing.T) {
	s := &ir.Scenario{
		Name: "exec_timeout",
		Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{
			{Op: OpExec, Args: map[string]any{"command": "sleep", "args": []any{"5"}, "timeout": "100ms"}},
		}}},
	}

	start := time.Now()
	result := runScenario(t, s, Options{})
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, []string{string(engine.CodeStepFailed)}, failureCodes(result))
}

func TestRun_BarrierTimeout(t *testing.T) {
	s := &ir.Scenario{
		Name:           "slow_round",
		BarrierTimeout: ir.Duration(100 * time.Millisecond),
		Actors: []ir.Actor{
			{Name: "Slow", Steps: []ir.Step{
				{Op: OpExec, Args: map[string]any{"command": "sleep", "args": []any{"0.5"}}},
			}},
			{Name: "Fast", Steps: []ir.Step{
				{Op: OpWait},
				{Op: OpWait},
			}},
		},
	}

	result := runScenario(t, s, Options{})
	require.Equal(t, []string{string(engine.CodeBarrierTimeout)}, failureCodes(result))
	f := result.Failures[0]
	assert.Equal(t, "Fast", f.Actor)
	assert.Equal(t, 2, f.Round)
	assert.Equal(t, -1, f.Step)

	slow, ok := findActor(result, "Slow")
	require.True(t, ok)
	assert.Equal(t, 1, slow.StepsRun)
}

func TestRun_PostRunAssertionFailure(t *testing.T) {
	testutil.InstallSysrepo(t)
	s := loadSubscribeUnsubscribe(t)
	s.Assertions = []ir.Assertion{
		{Type: ir.AssertSubsequence, Actor: "Subscriber", Of: "Subscriber2"},
		{Type: ir.AssertRecordCount, Actor: "Subscriber", Count: intPtr(11)},
	}

	result := runScenario(t, s, Options{})
	assert.False(t, result.Pass)
	require.Len(t, result.Failures, 1, "errors: %v", result.Errors)
	assert.Equal(t, FailureAssertion, result.Failures[0].Kind)
	assert.Equal(t, string(engine.CodeAssertionMismatch), result.Failures[0].Code)
	assert.Contains(t, result.Failures[0].Message, "assertion 0 (subsequence)")
}

func TestRun_FixedRunID(t *testing.T) {
	s := &ir.Scenario{
		Name:   "noop",
		Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{{Op: OpWait}}}},
	}
	result := runScenario(t, s, Options{IDs: engine.NewFixedGenerator("run-1")})
	assert.True(t, result.Pass)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 1, result.Rounds)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, engine.Operation(OpWait), result.Trace[0].Op)
}

func TestRun_InvalidScenario(t *testing.T) {
	_, err := Run(context.Background(), &ir.Scenario{}, Options{})
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Equal(t, []string{ErrNameRequired, ErrNoActors}, codes(errs))
}

func TestRun_NilScenario(t *testing.T) {
	_, err := Run(context.Background(), nil, Options{})
	require.Error(t, err)
}
