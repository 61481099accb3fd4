package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/ir"
	"github.com/roach88/lockstep/internal/testutil"
)

func TestRunWithGolden_SubscribeUnsubscribe(t *testing.T) {
	testutil.InstallSysrepo(t)

	result, err := RunWithGolden(t, loadSubscribeUnsubscribe(t), Options{IDs: engine.NewFixedGenerator("run-golden")})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_DropsSequenceNumbers(t *testing.T) {
	r := &Result{
		Scenario: "s",
		Pass:     false,
		Rounds:   2,
		Trace: []engine.TraceEvent{
			{Actor: "A", Round: 1, Step: 0, Op: "spawn", StartSeq: 1, EndSeq: 4, OK: true},
			{Actor: "B", Round: 2, Step: 1, Op: "signal", StartSeq: 5, EndSeq: 9, Code: engine.CodeSignalTimeout},
		},
	}

	snap := Snapshot(r)
	assert.Equal(t, []ir.TraceEntry{
		{Actor: "A", Round: 1, Step: 0, Op: "spawn", OK: true},
		{Actor: "B", Round: 2, Step: 1, Op: "signal", Code: "SIGNAL_TIMEOUT"},
	}, snap.Trace)

	data, err := ir.MarshalCanonical(snap)
	require.NoError(t, err)
	assert.Equal(t,
		`{"pass":false,"rounds":2,"scenario":"s","trace":[{"actor":"A","ok":true,"op":"spawn","round":1,"step":0},{"actor":"B","code":"SIGNAL_TIMEOUT","ok":false,"op":"signal","round":2,"step":1}]}`,
		string(data))
}
