package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/roach88/lockstep/internal/config"
	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/ir"
	"github.com/roach88/lockstep/internal/notiflog"
	"github.com/roach88/lockstep/internal/proc"
)

// Options configures a scenario run.
type Options struct {
	// Config supplies the defaults a scenario does not set itself. The zero
	// value behaves like config.Default.
	Config config.Config

	// Logger receives run logs. Defaults to a discard logger.
	Logger *slog.Logger

	// IDs generates the run ID. Defaults to UUIDv7 run IDs.
	IDs engine.IDGenerator

	// Channel, if set, overrides both the scenario and the config.
	Channel notiflog.Kind

	// StepTimeout, if positive, bounds each step.
	StepTimeout time.Duration
}

// run is the state of one scenario execution shared by the step handlers.
type run struct {
	settle        time.Duration
	readyInterval time.Duration
	readyTimeout  time.Duration
	grace         time.Duration
	channelKind   notiflog.Kind
	channelDir    string
	maxBytes      int64

	// states is filled before the run starts and only read afterwards.
	states map[string]*actorState
}

func (r *run) state(name string) *actorState {
	return r.states[name]
}

// actorState is what the handlers of one actor share across rounds.
type actorState struct {
	mu       sync.Mutex
	proc     *proc.Process
	ch       notiflog.Channel
	observed []notiflog.Record
	seen     bool
}

func (s *actorState) attach(ch notiflog.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ch = ch
}

func (s *actorState) setProcess(p *proc.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proc = p
}

func (s *actorState) process() *proc.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

func (s *actorState) channel() notiflog.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *actorState) observe(records []notiflog.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed = append([]notiflog.Record(nil), records...)
	s.seen = true
}

// snapshot returns the last observed records and whether any were taken.
func (s *actorState) snapshot() ([]notiflog.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notiflog.Record(nil), s.observed...), s.seen
}

// release takes the final snapshot of the actor's records and closes the
// channel. It runs as a cleanup hook, after the producer has been stopped.
func (s *actorState) release(ctx context.Context, logger *slog.Logger) error {
	ch := s.channel()
	if ch == nil {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	if err := ch.Wait(waitCtx); err != nil {
		logger.Debug("notification channel not drained", "error", err)
	}
	cancel()

	records, readErr := ch.Records()
	if readErr == nil {
		s.observe(records)
		logger.Debug("notifications collected", "records", len(records))
	}
	closeErr := ch.Close()

	if readErr != nil {
		readErr = fmt.Errorf("read notifications: %w", readErr)
	}
	return errors.Join(readErr, closeErr)
}

// Run executes s and evaluates its assertions.
//
// A failing scenario is not an error: it yields a Result with Pass false.
// Run returns an error only if the scenario cannot be executed at all.
func Run(ctx context.Context, s *ir.Scenario, opts Options) (*Result, error) {
	if s == nil {
		return nil, errors.New("harness: nil scenario")
	}
	if errs := Validate(s); len(errs) > 0 {
		return nil, errs
	}
	started := time.Now()

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("scenario", s.Name)
	cfg := opts.Config

	scenarioHash, err := ir.ScenarioHash(*s)
	if err != nil {
		return nil, err
	}

	r := &run{
		settle:        cfg.Settle(),
		readyInterval: cfg.ReadyInterval(),
		readyTimeout:  cfg.ReadyTimeout(),
		grace:         cfg.GracePeriod(),
		channelKind:   notiflog.Kind(cfg.ChannelKind()),
		channelDir:    cfg.Channel.Dir,
		maxBytes:      cfg.MaxBytes(),
		states:        make(map[string]*actorState, len(s.Actors)),
	}
	if s.GracePeriod > 0 {
		r.grace = s.GracePeriod.Std()
	}
	if s.Channel != "" {
		r.channelKind = notiflog.Kind(s.Channel)
	}
	if opts.Channel != "" {
		r.channelKind = opts.Channel
	}
	if r.channelDir == "" {
		dir, err := os.MkdirTemp("", "lockstep-")
		if err != nil {
			return nil, fmt.Errorf("create channel dir: %w", err)
		}
		defer os.RemoveAll(dir)
		r.channelDir = dir
	}

	barrierTimeout := cfg.BarrierTimeout()
	if s.BarrierTimeout > 0 {
		barrierTimeout = s.BarrierTimeout.Std()
	}

	mgr := engine.NewManager(r.handlers(), engine.Options{
		BarrierTimeout: barrierTimeout,
		StopGrace:      r.grace,
		StepTimeout:    opts.StepTimeout,
		Logger:         logger,
		IDs:            opts.IDs,
	})
	for _, a := range s.Actors {
		actor, err := buildActor(a)
		if err != nil {
			return nil, err
		}
		r.states[a.Name] = &actorState{}
		if err := mgr.Register(actor); err != nil {
			return nil, err
		}
	}

	report, err := mgr.Run(ctx)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	result.RunID = report.RunID
	result.Scenario = s.Name
	result.ScenarioHash = scenarioHash
	result.Rounds = report.Rounds
	result.Actors = report.Actors
	result.Trace = report.SortedTrace()

	for _, f := range report.Failures {
		result.AddFailure(Failure{
			Kind:    FailureStep,
			Actor:   f.Actor,
			Round:   f.Round,
			Step:    f.Step,
			Op:      string(f.Op),
			Code:    string(f.Code()),
			Message: failureMessage(f.Err),
		})
	}
	for _, err := range report.CleanupFailures {
		result.AddFailure(Failure{
			Kind:    FailureCleanup,
			Step:    -1,
			Code:    string(engine.CodeOf(err)),
			Message: failureMessage(err),
		})
	}

	for _, a := range s.Actors {
		if records, ok := r.states[a.Name].snapshot(); ok {
			result.Observed[a.Name] = records
		}
	}
	for _, f := range evaluateAssertions(s.Assertions, result.Observed) {
		result.AddFailure(f)
	}

	digest, err := ir.TraceDigest(traceEntries(result.Trace))
	if err != nil {
		return nil, err
	}
	result.TraceDigest = digest
	result.Elapsed = time.Since(started)

	logger.Info("scenario finished", "pass", result.Pass, "failures", len(result.Failures), "elapsed", result.Elapsed)
	return result, nil
}

// buildActor turns a scenario actor into an engine actor. Steps without a
// round run in the round after the previous step.
func buildActor(a ir.Actor) (*engine.Actor, error) {
	actor := engine.NewActor(a.Name)
	for _, st := range a.Steps {
		op := engine.Operation(st.Op)
		args := engine.Args(st.Args)
		if st.Round == 0 {
			actor.AddStep(op, args)
			continue
		}
		if err := actor.AddStepAt(st.Round, op, args); err != nil {
			return nil, err
		}
	}
	return actor, nil
}

// failureMessage strips the code prefix engine errors carry, since the
// code is reported separately.
func failureMessage(err error) string {
	var e *engine.Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	return err.Error()
}

func traceEntries(trace []engine.TraceEvent) []ir.TraceEntry {
	entries := make([]ir.TraceEntry, len(trace))
	for i, ev := range trace {
		entries[i] = ir.TraceEntry{
			Actor: ev.Actor,
			Round: ev.Round,
			Step:  ev.Step,
			Op:    string(ev.Op),
			OK:    ev.OK,
			Code:  string(ev.Code),
		}
	}
	return entries
}
