package engine

import (
	"errors"
	"sort"
)

// TraceEvent records one executed step. StartSeq and EndSeq come from the
// run's logical clock.
type TraceEvent struct {
	Actor    string    `json:"actor"`
	Round    int       `json:"round"`
	Step     int       `json:"step"`
	Op       Operation `json:"op"`
	StartSeq int64     `json:"start_seq"`
	EndSeq   int64     `json:"end_seq"`
	OK       bool      `json:"ok"`
	Code     ErrorCode `json:"code,omitempty"`
}

// ActorReport summarizes one actor after the run. StepsRun smaller than
// StepsTotal means the actor stopped early.
type ActorReport struct {
	Name       string       `json:"name"`
	State      State        `json:"state"`
	StepsRun   int          `json:"steps_run"`
	StepsTotal int          `json:"steps_total"`
	LastRound  int          `json:"last_round"`
	Failure    *StepFailure `json:"-"`
}

// Report is the outcome of a run.
type Report struct {
	RunID  string `json:"run_id"`
	Pass   bool   `json:"pass"`
	Rounds int    `json:"rounds"`

	Actors          []ActorReport  `json:"actors"`
	Failures        []*StepFailure `json:"-"`
	CleanupFailures []error        `json:"-"`
	Trace           []TraceEvent   `json:"trace"`

	order map[string]int
}

// Err joins every step and cleanup failure, or returns nil on a pass.
func (r *Report) Err() error {
	errs := make([]error, 0, len(r.Failures)+len(r.CleanupFailures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	errs = append(errs, r.CleanupFailures...)
	return errors.Join(errs...)
}

// Actor returns the report of the named actor.
func (r *Report) Actor(name string) (ActorReport, bool) {
	for _, a := range r.Actors {
		if a.Name == name {
			return a, true
		}
	}
	return ActorReport{}, false
}

// SortedTrace returns the trace ordered by round, then actor registration
// order. Unlike Trace, it is identical across runs of the same scenario
// with the same outcome.
func (r *Report) SortedTrace() []TraceEvent {
	out := append([]TraceEvent(nil), r.Trace...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return r.order[out[i].Actor] < r.order[out[j].Actor]
	})
	return out
}
