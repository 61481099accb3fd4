package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// State is an actor's lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateStepOK     State = "step_ok"
	StateStepFailed State = "step_failed"
	StateDone       State = "done"
)

// Process is an external process spawned by an actor. The manager stops
// every reported process that is still running when the run ends.
type Process interface {
	Pid() int
	Exited() bool
	Stop(ctx context.Context) error
}

// CleanupFunc releases a resource an actor created during its steps.
type CleanupFunc func(ctx context.Context) error

// Actor is an independent participant of a scenario: a named sequence of
// steps, each bound to a round.
//
// Steps are appended by the scenario author before the run. During the run
// the actor's own goroutine is the only one executing its steps; the
// failure record, state and process list are guarded for the manager's
// benefit.
type Actor struct {
	name  string
	steps []Step

	mgr    *Manager
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failure  *StepFailure
	stepsRun int
	procs    []Process
	cleanups []CleanupFunc

	// current step, for failures recorded with Fail
	round int
	index int
	op    Operation
}

// NewActor creates an actor with an empty step sequence.
func NewActor(name string) *Actor {
	return &Actor{
		name:   name,
		state:  StatePending,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		index:  -1,
	}
}

// Name returns the actor's name.
func (a *Actor) Name() string {
	return a.name
}

// AddStep schedules op in the round after the actor's last scheduled step.
func (a *Actor) AddStep(op Operation, args Args) *Actor {
	a.steps = append(a.steps, Step{Round: a.LastRound() + 1, Op: op, Args: args})
	return a
}

// AddStepAt schedules op in a specific round. The round must come after
// the actor's last scheduled step; rounds in between are no-ops.
func (a *Actor) AddStepAt(round int, op Operation, args Args) error {
	if last := a.LastRound(); round <= last {
		return fmt.Errorf("actor %s: round %d must be after last scheduled round %d", a.name, round, last)
	}
	a.steps = append(a.steps, Step{Round: round, Op: op, Args: args})
	return nil
}

// Steps returns a copy of the scheduled steps.
func (a *Actor) Steps() []Step {
	out := make([]Step, len(a.steps))
	copy(out, a.steps)
	return out
}

// LastRound returns the round of the last scheduled step, or 0 if none.
func (a *Actor) LastRound() int {
	if len(a.steps) == 0 {
		return 0
	}
	return a.steps[len(a.steps)-1].Round
}

// Logger returns the actor's logger. During a run it carries the run ID
// and actor name.
func (a *Actor) Logger() *slog.Logger {
	return a.logger
}

// State returns the actor's lifecycle state.
func (a *Actor) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Failure returns the actor's failure record, or nil.
func (a *Actor) Failure() *StepFailure {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failure
}

// Fail records err against the step currently executing. The first
// recorded failure wins; it is never cleared. The actor stops after the
// current step returns.
func (a *Actor) Fail(err error) {
	a.mu.Lock()
	f := &StepFailure{Actor: a.name, Round: a.round, Step: a.index, Op: a.op, Err: err}
	a.mu.Unlock()
	a.recordFailure(f)
}

// ReportProcess registers a process spawned by the actor. It is stopped
// during cleanup if still running.
func (a *Actor) ReportProcess(p Process) {
	a.mu.Lock()
	a.procs = append(a.procs, p)
	a.mu.Unlock()

	if a.mgr != nil {
		a.mgr.registerProcess(a.name, p.Pid())
	}
	a.logger.Debug("process reported", "pid", p.Pid())
}

// Processes returns the processes reported by the actor.
func (a *Actor) Processes() []Process {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Process, len(a.procs))
	copy(out, a.procs)
	return out
}

// OnCleanup registers fn to run after the run ends. Hooks run in reverse
// registration order, after the actor's processes have been stopped.
func (a *Actor) OnCleanup(fn CleanupFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleanups = append(a.cleanups, fn)
}

func (a *Actor) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

func (a *Actor) setCurrent(round, index int, op Operation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.round, a.index, a.op = round, index, op
}

// recordFailure stores f unless a failure is already recorded.
// Returns true if f was stored.
func (a *Actor) recordFailure(f *StepFailure) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failure != nil {
		return false
	}
	a.failure = f
	if a.mgr != nil {
		a.mgr.failed.Add(1)
	}
	return true
}

func (a *Actor) markStepRun() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stepsRun++
}

func (a *Actor) report() ActorReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ActorReport{
		Name:       a.name,
		State:      a.state,
		StepsRun:   a.stepsRun,
		StepsTotal: len(a.steps),
		LastRound:  a.LastRound(),
		Failure:    a.failure,
	}
}
