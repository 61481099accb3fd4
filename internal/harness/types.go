package harness

import (
	"fmt"
	"time"

	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/notiflog"
)

// Failure kinds.
const (
	FailureStep      = "step"
	FailureCleanup   = "cleanup"
	FailureAssertion = "assertion"
)

// Failure is one recorded problem, flattened for reporting and storage.
// Step is -1 for failures outside any step (barrier, cleanup, assertion).
type Failure struct {
	Kind    string `json:"kind"`
	Actor   string `json:"actor,omitempty"`
	Round   int    `json:"round,omitempty"`
	Step    int    `json:"step"`
	Op      string `json:"op,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true only if no step, cleanup or assertion failed.
	Pass bool `json:"pass"`

	RunID        string `json:"run_id"`
	Scenario     string `json:"scenario"`
	ScenarioHash string `json:"scenario_hash"`

	// TraceDigest hashes the sorted trace. Re-running an unchanged
	// scenario against unchanged binaries yields the same digest.
	TraceDigest string `json:"trace_digest"`

	Rounds int `json:"rounds"`

	// Errors holds one message per failure. Empty if Pass is true.
	Errors   []string  `json:"errors,omitempty"`
	Failures []Failure `json:"failures,omitempty"`

	Actors []engine.ActorReport `json:"actors"`

	// Trace is ordered by round, then actor registration order.
	Trace []engine.TraceEvent `json:"trace"`

	// Observed holds the records each subscriber produced, keyed by actor.
	Observed map[string][]notiflog.Record `json:"observed,omitempty"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		Observed: make(map[string][]notiflog.Record),
	}
}

// AddFailure records f and marks the result as failed.
func (r *Result) AddFailure(f Failure) {
	r.Failures = append(r.Failures, f)
	r.Errors = append(r.Errors, f.String())
	r.Pass = false
}

func (f Failure) String() string {
	switch {
	case f.Actor == "":
		return fmt.Sprintf("[%s] %s", f.Code, f.Message)
	case f.Step < 0 && f.Round > 0:
		return fmt.Sprintf("[%s] %s round %d: %s", f.Code, f.Actor, f.Round, f.Message)
	case f.Step < 0:
		return fmt.Sprintf("[%s] %s: %s", f.Code, f.Actor, f.Message)
	default:
		return fmt.Sprintf("[%s] %s round %d step %d (%s): %s", f.Code, f.Actor, f.Round, f.Step, f.Op, f.Message)
	}
}
