package store

import (
	"time"

	"github.com/roach88/lockstep/internal/ir"
)

// Run is one stored scenario execution.
type Run struct {
	ID            string        `json:"id"`
	Seq           int64         `json:"seq"`
	Scenario      string        `json:"scenario"`
	ScenarioHash  string        `json:"scenario_hash"`
	TraceDigest   string        `json:"trace_digest"`
	Pass          bool          `json:"pass"`
	Rounds        int           `json:"rounds"`
	Elapsed       time.Duration `json:"elapsed_ns"`
	EngineVersion string        `json:"engine_version"`
	FormatVersion string        `json:"format_version"`

	// Trace, Actors and Failures are loaded by GetRun only. ListRuns
	// fills FailureCount instead.
	Trace        []ir.TraceEntry `json:"trace,omitempty"`
	Actors       []ActorReport   `json:"actors,omitempty"`
	Failures     []Failure       `json:"failures,omitempty"`
	FailureCount int             `json:"failure_count"`
}

// ActorReport is the stored summary of one actor.
type ActorReport struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	StepsRun   int    `json:"steps_run"`
	StepsTotal int    `json:"steps_total"`
	LastRound  int    `json:"last_round"`
}

// Failure is one stored failure. Kind is step, cleanup or assertion.
type Failure struct {
	Kind    string `json:"kind"`
	Actor   string `json:"actor,omitempty"`
	Round   int    `json:"round,omitempty"`
	Step    int    `json:"step"`
	Op      string `json:"op,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Filter selects runs for ListRuns. Zero fields match everything.
type Filter struct {
	Scenario     string
	ScenarioHash string
	FailedOnly   bool

	// Limit caps the number of runs returned. Zero means no limit.
	Limit int
}
