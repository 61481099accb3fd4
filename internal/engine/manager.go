package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Default run bounds.
const (
	DefaultBarrierTimeout = 10 * time.Second
	DefaultStopGrace      = 2 * time.Second
)

// Options configures a Manager.
type Options struct {
	// BarrierTimeout bounds how long any actor waits for the others at a
	// round boundary. Zero or negative means DefaultBarrierTimeout, so a
	// run always terminates.
	BarrierTimeout time.Duration

	// StopGrace bounds how long cleanup waits for each still-running
	// process to stop.
	StopGrace time.Duration

	// StepTimeout, if positive, bounds the context handed to each step.
	StepTimeout time.Duration

	// Logger receives run, round and step logs. Defaults to a discard logger.
	Logger *slog.Logger

	// Clock stamps trace events. Defaults to a fresh Clock.
	Clock *Clock

	// IDs generates the run ID. Defaults to UUIDv7Generator.
	IDs IDGenerator
}

func (o Options) withDefaults() Options {
	if o.BarrierTimeout <= 0 {
		o.BarrierTimeout = DefaultBarrierTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Clock == nil {
		o.Clock = NewClock()
	}
	if o.IDs == nil {
		o.IDs = UUIDv7Generator{}
	}
	return o
}

// ProcessRecord is an entry of the manager's spawned-process registry.
type ProcessRecord struct {
	Actor string
	Pid   int
}

// Manager runs a set of actors in lockstep.
//
// Each registered actor gets its own goroutine. Before every round the
// actor arrives at a shared barrier; round k+1 opens only after every
// still-registered actor has completed round k. Steps within one round run
// concurrently and in no particular order.
//
// A failing actor records its failure, leaves the barrier and stops; the
// others continue. When every actor is done, cleanup runs for each actor in
// registration order, and Run returns a Report with every recorded failure.
type Manager struct {
	handlers Handlers
	opts     Options
	barrier  *Barrier
	failed   atomic.Int32

	mu     sync.Mutex
	actors []*Actor
	names  map[string]bool
	ran    bool

	procMu sync.Mutex
	procs  []ProcessRecord

	traceMu sync.Mutex
	trace   []TraceEvent
}

// NewManager creates a manager dispatching steps through handlers.
func NewManager(handlers Handlers, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		handlers: handlers,
		opts:     opts,
		barrier:  NewBarrier(opts.BarrierTimeout),
		names:    make(map[string]bool),
	}
}

// Register adds an actor to the run. Actor names must be unique and every
// step must name an operation present in the handler table.
func (m *Manager) Register(a *Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ran {
		return ErrAlreadyRun
	}
	if a.name == "" {
		return fmt.Errorf("register: actor name is required")
	}
	if m.names[a.name] {
		return fmt.Errorf("register: duplicate actor %q", a.name)
	}
	if err := m.handlers.validate(a); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	a.mgr = m
	m.names[a.name] = true
	m.actors = append(m.actors, a)
	return nil
}

// Actors returns the registered actors in registration order.
func (m *Manager) Actors() []*Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Actor, len(m.actors))
	copy(out, m.actors)
	return out
}

// Processes returns every process reported so far, in report order.
func (m *Manager) Processes() []ProcessRecord {
	m.procMu.Lock()
	defer m.procMu.Unlock()
	out := make([]ProcessRecord, len(m.procs))
	copy(out, m.procs)
	return out
}

func (m *Manager) registerProcess(actor string, pid int) {
	m.procMu.Lock()
	defer m.procMu.Unlock()
	m.procs = append(m.procs, ProcessRecord{Actor: actor, Pid: pid})
}

// Run executes every registered actor to completion, runs cleanup, and
// returns the aggregated report. The run is bounded by the barrier timeout
// multiplied by the number of rounds, plus the time the slowest step takes.
//
// Returns an error only if the manager cannot run at all.
func (m *Manager) Run(ctx context.Context) (*Report, error) {
	m.mu.Lock()
	if m.ran {
		m.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	m.ran = true
	actors := make([]*Actor, len(m.actors))
	copy(actors, m.actors)
	m.mu.Unlock()

	runID := m.opts.IDs.Generate()
	logger := m.opts.Logger.With("run_id", runID)

	rounds := 0
	for _, a := range actors {
		a.logger = logger.With("actor", a.name)
		if r := a.LastRound(); r > rounds {
			rounds = r
		}
	}

	m.barrier.Register(len(actors))
	m.barrier.OnRelease(func(gen int) {
		logger.Debug("round open", "round", gen+1, "waiting", m.barrier.expected, "failures", m.failed.Load())
	})

	logger.Info("run starting", "actors", len(actors), "rounds", rounds)

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *Actor) {
			defer wg.Done()
			m.runActor(ctx, a)
		}(a)
	}
	wg.Wait()

	cleanupErrs := m.cleanup(ctx, actors, logger)

	report := &Report{
		RunID:           runID,
		Rounds:          rounds,
		Actors:          make([]ActorReport, 0, len(actors)),
		CleanupFailures: cleanupErrs,
		order:           make(map[string]int, len(actors)),
	}
	for i, a := range actors {
		ar := a.report()
		report.Actors = append(report.Actors, ar)
		report.order[a.name] = i
		if ar.Failure != nil {
			report.Failures = append(report.Failures, ar.Failure)
		}
	}
	m.traceMu.Lock()
	report.Trace = append([]TraceEvent(nil), m.trace...)
	m.traceMu.Unlock()
	report.Pass = len(report.Failures) == 0 && len(report.CleanupFailures) == 0

	logger.Info("run finished",
		"pass", report.Pass,
		"failures", len(report.Failures),
		"cleanup_failures", len(report.CleanupFailures),
	)
	return report, nil
}

// runActor is the actor execution loop. It never returns early without
// deregistering from the barrier.
func (m *Manager) runActor(ctx context.Context, a *Actor) {
	defer m.recoverActor(a)
	defer a.setState(StateDone)
	defer m.barrier.Deregister()

	a.setState(StateRunning)
	last := a.LastRound()

	for round := 1; round <= last; round++ {
		if _, err := m.barrier.ArriveAndWait(ctx); err != nil {
			if CodeOf(err) != CodeBarrierTimeout {
				err = NewError(CodeBarrierTimeout, "run cancelled", err)
			}
			a.recordFailure(&StepFailure{Actor: a.name, Round: round, Step: -1, Err: err})
			a.setState(StateStepFailed)
			a.logger.Warn("barrier failed", "round", round, "error", err)
			return
		}

		st, idx, ok := stepAt(a.steps, round)
		if !ok {
			continue
		}

		a.setCurrent(round, idx, st.Op)
		err := m.execStep(ctx, a, st, idx)
		a.markStepRun()

		if err != nil {
			a.recordFailure(&StepFailure{Actor: a.name, Round: round, Step: idx, Op: st.Op, Err: err})
		}
		if f := a.Failure(); f != nil {
			a.setState(StateStepFailed)
			a.logger.Warn("step failed", "round", round, "step", idx, "op", st.Op, "code", f.Code(), "error", f.Err)
			return
		}
		a.setState(StateStepOK)
	}
}

// execStep dispatches one step and records its trace event. Handler panics
// are converted to CodeStepPanic errors.
func (m *Manager) execStep(ctx context.Context, a *Actor, st Step, idx int) (err error) {
	handler, _ := m.handlers.lookup(st.Op)
	ev := TraceEvent{Actor: a.name, Round: st.Round, Step: idx, Op: st.Op, StartSeq: m.opts.Clock.Next()}
	a.logger.Debug("step start", "round", st.Round, "step", idx, "op", st.Op)

	defer func() {
		if r := recover(); r != nil {
			err = Errorf(CodeStepPanic, "operation %s panicked: %v", st.Op, r)
		}
		ev.EndSeq = m.opts.Clock.Next()
		ev.OK = err == nil && a.Failure() == nil
		if !ev.OK {
			ev.Code = CodeOf(err)
			if err == nil {
				ev.Code = a.Failure().Code()
			}
		}
		m.traceMu.Lock()
		m.trace = append(m.trace, ev)
		m.traceMu.Unlock()
		a.logger.Debug("step end", "round", st.Round, "step", idx, "op", st.Op, "ok", ev.OK)
	}()

	if m.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.StepTimeout)
		defer cancel()
	}
	return handler(ctx, StepContext{Actor: a, Round: st.Round, Index: idx, Args: st.Args})
}

// recoverActor catches panics outside handlers so one actor can never take
// the run down.
func (m *Manager) recoverActor(a *Actor) {
	if r := recover(); r != nil {
		a.recordFailure(&StepFailure{Actor: a.name, Step: -1, Err: Errorf(CodeStepPanic, "actor loop panicked: %v", r)})
		a.setState(StateDone)
	}
}

// cleanup stops leftover processes and runs cleanup hooks, actor by actor in
// registration order. It never stops at the first error.
func (m *Manager) cleanup(ctx context.Context, actors []*Actor, logger *slog.Logger) []error {
	base := context.WithoutCancel(ctx)
	var errs []error

	for _, a := range actors {
		for _, p := range a.Processes() {
			if p.Exited() {
				continue
			}
			stopCtx, cancel := context.WithTimeout(base, m.opts.StopGrace)
			err := p.Stop(stopCtx)
			cancel()
			if err != nil {
				errs = append(errs, NewError(CodeCleanupFailure, fmt.Sprintf("actor %s: stop pid %d", a.name, p.Pid()), err))
				continue
			}
			logger.Debug("stopped leftover process", "actor", a.name, "pid", p.Pid())
		}

		a.mu.Lock()
		hooks := make([]CleanupFunc, len(a.cleanups))
		copy(hooks, a.cleanups)
		a.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			if err := runHook(base, hooks[i]); err != nil {
				errs = append(errs, NewError(CodeCleanupFailure, fmt.Sprintf("actor %s: cleanup hook %d", a.name, i), err))
			}
		}
	}

	for _, err := range errs {
		logger.Warn("cleanup failed", "error", err)
	}
	return errs
}

func runHook(ctx context.Context, fn CleanupFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup hook panicked: %v", r)
		}
	}()
	return fn(ctx)
}
