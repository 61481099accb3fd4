package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/ir"
	"github.com/roach88/lockstep/internal/notiflog"
	"github.com/roach88/lockstep/internal/proc"
)

// Operation names.
const (
	OpWait                = "wait"
	OpSpawn               = "spawn"
	OpSignal              = "signal"
	OpExec                = "exec"
	OpExpectNotifications = "expect_notifications"
)

// logPlaceholder in spawn args and ready.path is replaced by the actor's
// notification channel location.
const logPlaceholder = "{log}"

// stderrTail bounds how much child output is quoted in an error.
const stderrTail = 512

// drainTimeout bounds the wait for an exited producer's output to arrive.
const drainTimeout = time.Second

type spawnParams struct {
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args"`
	Dir           string            `yaml:"dir"`
	Env           map[string]string `yaml:"env"`
	Settle        *ir.Duration      `yaml:"settle"`
	Notifications bool              `yaml:"notifications"`
	Ready         readyParams       `yaml:"ready"`
}

type readyParams struct {
	Path     string      `yaml:"path"`
	NonEmpty bool        `yaml:"nonempty"`
	Delay    ir.Duration `yaml:"delay"`
	Timeout  ir.Duration `yaml:"timeout"`
}

type signalParams struct {
	Signal string      `yaml:"signal"`
	Grace  ir.Duration `yaml:"grace"`
}

type execParams struct {
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Dir        string            `yaml:"dir"`
	Env        map[string]string `yaml:"env"`
	ExpectExit int               `yaml:"expect_exit"`
	Timeout    ir.Duration       `yaml:"timeout"`
}

type expectParams struct {
	Records [][]string  `yaml:"records"`
	Within  ir.Duration `yaml:"within"`
}

// opInfo is what validation learns about a step from its arguments.
type opInfo struct {
	spawns       bool
	subscribes   bool
	needsProcess bool
	needsChannel bool
}

// opSpec is one row of the operation table. check decodes and validates
// arguments without side effects; handler runs the step.
type opSpec struct {
	check   func(args map[string]any) (opInfo, error)
	handler func(r *run, ctx context.Context, sc engine.StepContext) error
}

// operations is the fixed table every scenario step resolves through.
var operations = map[string]opSpec{
	OpWait: {},
	OpSpawn: {
		check: func(args map[string]any) (opInfo, error) {
			var p spawnParams
			if err := decodeArgs(args, &p); err != nil {
				return opInfo{}, err
			}
			if strings.TrimSpace(p.Command) == "" {
				return opInfo{}, errors.New("command is required")
			}
			return opInfo{spawns: true, subscribes: p.Notifications}, nil
		},
		handler: (*run).spawn,
	},
	OpSignal: {
		check: func(args map[string]any) (opInfo, error) {
			p, err := decodeSignal(args)
			if err != nil {
				return opInfo{}, err
			}
			_, err = proc.ParseSignal(p.Signal)
			return opInfo{needsProcess: true}, err
		},
		handler: (*run).signal,
	},
	OpExec: {
		check: func(args map[string]any) (opInfo, error) {
			var p execParams
			if err := decodeArgs(args, &p); err != nil {
				return opInfo{}, err
			}
			if strings.TrimSpace(p.Command) == "" {
				return opInfo{}, errors.New("command is required")
			}
			return opInfo{}, nil
		},
		handler: (*run).exec,
	},
	OpExpectNotifications: {
		check: func(args map[string]any) (opInfo, error) {
			_, _, err := decodeExpect(args)
			return opInfo{needsChannel: true}, err
		},
		handler: (*run).expectNotifications,
	},
}

// Operations returns the operation names, sorted.
func Operations() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// handlers binds the operation table to one run.
func (r *run) handlers() engine.Handlers {
	h := engine.Handlers{}
	for name, op := range operations {
		if op.handler == nil {
			continue
		}
		fn := op.handler
		h[engine.Operation(name)] = func(ctx context.Context, sc engine.StepContext) error {
			return fn(r, ctx, sc)
		}
	}
	return h
}

// decodeArgs converts a generic argument tree into a params struct by
// round-tripping through YAML, rejecting unknown keys.
func decodeArgs(args map[string]any, out any) error {
	if len(args) == 0 {
		return nil
	}
	data, err := yaml.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeSignal(args map[string]any) (signalParams, error) {
	p := signalParams{Signal: "TERM"}
	err := decodeArgs(args, &p)
	return p, err
}

func decodeExpect(args map[string]any) (expectParams, []notiflog.Record, error) {
	var p expectParams
	if err := decodeArgs(args, &p); err != nil {
		return p, nil, err
	}
	records := make([]notiflog.Record, 0, len(p.Records))
	for i, rec := range p.Records {
		if len(rec) < 2 {
			return p, nil, fmt.Errorf("records[%d]: want [kind, path], got %d field(s)", i, len(rec))
		}
		records = append(records, notiflog.Record{Kind: rec[0], Path: rec[1], Extra: rec[2:]})
	}
	return p, records, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func stepArgs(sc engine.StepContext) map[string]any {
	return map[string]any(sc.Args)
}

func invalidArgs(op string, err error) error {
	return engine.NewError(engine.CodeStepFailed, op+": invalid arguments", err)
}

func (r *run) spawn(ctx context.Context, sc engine.StepContext) error {
	var p spawnParams
	if err := decodeArgs(stepArgs(sc), &p); err != nil {
		return invalidArgs(OpSpawn, err)
	}
	st := r.state(sc.Actor.Name())
	logger := sc.Actor.Logger()

	cmd := proc.Command{
		Name:   p.Command,
		Args:   append([]string(nil), p.Args...),
		Dir:    p.Dir,
		Env:    envList(p.Env),
		Settle: r.settle,
	}
	if p.Settle != nil {
		cmd.Settle = p.Settle.Std()
	}
	ready := proc.Ready{
		Path:     p.Ready.Path,
		NonEmpty: p.Ready.NonEmpty,
		Delay:    p.Ready.Delay.Std(),
		Timeout:  p.Ready.Timeout.Std(),
		Interval: r.readyInterval,
	}
	if ready.Timeout == 0 {
		ready.Timeout = r.readyTimeout
	}

	var ch notiflog.Channel
	if p.Notifications {
		var err error
		ch, err = notiflog.Open(r.channelKind, r.channelDir, r.maxBytes)
		if err != nil {
			return engine.NewError(engine.CodeSpawnFailure, "open notification channel", err)
		}
		for i, arg := range cmd.Args {
			cmd.Args[i] = strings.ReplaceAll(arg, logPlaceholder, ch.Arg())
		}
		ready.Path = strings.ReplaceAll(ready.Path, logPlaceholder, ch.Arg())
		if len(ch.ExtraFiles()) > 0 && ready.Path == ch.Arg() {
			// An inherited fd path names a different file in this process.
			ready.Path = ""
		}
		cmd.ExtraFiles = ch.ExtraFiles()
		st.attach(ch)
		sc.Actor.OnCleanup(func(ctx context.Context) error {
			return st.release(ctx, logger)
		})
	}

	stderr := &limitedWriter{max: stderrTail}
	cmd.Stderr = stderr

	process, err := proc.Spawn(ctx, cmd)
	if process != nil {
		sc.Actor.ReportProcess(process)
	}
	if ch != nil {
		ch.Started()
	}
	if err != nil {
		return engine.NewError(engine.CodeSpawnFailure, spawnMessage(p.Command, stderr), err)
	}
	st.setProcess(process)
	logger.Info("spawned", "command", p.Command, "pid", process.Pid())

	if err := proc.WaitReady(ctx, process, ready); err != nil {
		return engine.NewError(engine.CodeSpawnFailure, spawnMessage(p.Command, stderr)+": not ready", err)
	}
	return nil
}

func spawnMessage(command string, stderr *limitedWriter) string {
	msg := "spawn " + command
	if s := strings.TrimSpace(stderr.String()); s != "" {
		msg += " (stderr: " + s + ")"
	}
	return msg
}

func (r *run) signal(ctx context.Context, sc engine.StepContext) error {
	p, err := decodeSignal(stepArgs(sc))
	if err != nil {
		return invalidArgs(OpSignal, err)
	}
	sig, err := proc.ParseSignal(p.Signal)
	if err != nil {
		return invalidArgs(OpSignal, err)
	}
	grace := p.Grace.Std()
	if grace == 0 {
		grace = r.grace
	}

	process := r.state(sc.Actor.Name()).process()
	if process == nil {
		return engine.Errorf(engine.CodeStepFailed, "signal %s: actor %s has no process", sig, sc.Actor.Name())
	}
	if exitErr := process.ExitErr(); exitErr != nil {
		return engine.NewError(engine.CodeStepFailed, fmt.Sprintf("%s exited before signal %s", process.Name(), p.Signal), exitErr)
	}

	if err := process.Signal(ctx, sig, grace); err != nil {
		if errors.Is(err, proc.ErrSignalTimeout) {
			return engine.NewError(engine.CodeSignalTimeout, fmt.Sprintf("%s did not exit after %s", process.Name(), sig), err)
		}
		return engine.NewError(engine.CodeStepFailed, "signal "+process.Name(), err)
	}
	sc.Actor.Logger().Info("process exited", "command", process.Name(), "signal", sig.String(), "exit", exitDescription(process.ExitErr()))
	return nil
}

func exitDescription(err error) string {
	if code, ok := proc.ExitCode(err); ok {
		return fmt.Sprintf("status %d", code)
	}
	return "clean"
}

func (r *run) exec(ctx context.Context, sc engine.StepContext) error {
	var p execParams
	if err := decodeArgs(stepArgs(sc), &p); err != nil {
		return invalidArgs(OpExec, err)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout.Std())
		defer cancel()
	}

	output := &limitedWriter{max: stderrTail}
	code, err := proc.Run(ctx, proc.Command{
		Name:   p.Command,
		Args:   p.Args,
		Dir:    p.Dir,
		Env:    envList(p.Env),
		Stdout: output,
		Stderr: output,
	})
	if err != nil {
		if errors.Is(err, proc.ErrUnavailable) {
			return engine.NewError(engine.CodeSpawnFailure, "exec "+p.Command, err)
		}
		return engine.NewError(engine.CodeStepFailed, "exec "+p.Command, err)
	}
	if code != p.ExpectExit {
		msg := fmt.Sprintf("exec %s: exit status %d, want %d", p.Command, code, p.ExpectExit)
		if s := strings.TrimSpace(output.String()); s != "" {
			msg += " (output: " + s + ")"
		}
		return engine.Errorf(engine.CodeStepFailed, "%s", msg)
	}
	sc.Actor.Logger().Debug("exec finished", "command", p.Command, "exit", code)
	return nil
}

func (r *run) expectNotifications(ctx context.Context, sc engine.StepContext) error {
	p, expected, err := decodeExpect(stepArgs(sc))
	if err != nil {
		return invalidArgs(OpExpectNotifications, err)
	}
	st := r.state(sc.Actor.Name())
	ch := st.channel()
	if ch == nil {
		return engine.Errorf(engine.CodeStepFailed, "actor %s has no notification channel", sc.Actor.Name())
	}

	actual, err := collect(ctx, ch, st.process(), len(expected), p.Within.Std(), r.readyInterval)
	if err != nil {
		return engine.NewError(engine.CodeStepFailed, "read notifications", err)
	}
	st.observe(actual)

	if err := notiflog.Compare(expected, actual); err != nil {
		var mm *notiflog.MismatchError
		if errors.As(err, &mm) {
			sc.Actor.Logger().Debug("notification mismatch", "detail", mm.Detail())
		}
		return engine.NewError(engine.CodeAssertionMismatch, "notifications", err)
	}
	return nil
}

// collect reads ch, polling for up to within until want records are
// present. Once the producer has exited the channel is drained first so
// nothing in flight is missed.
func collect(ctx context.Context, ch notiflog.Channel, p *proc.Process, want int, within, interval time.Duration) ([]notiflog.Record, error) {
	if interval <= 0 {
		interval = proc.DefaultReadyInterval
	}
	deadline := time.Now().Add(within)
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if p != nil && p.Exited() {
			waitCtx, cancel := context.WithTimeout(ctx, max(within, drainTimeout))
			err := ch.Wait(waitCtx)
			cancel()
			if err != nil && ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		records, err := ch.Records()
		if err != nil {
			return nil, err
		}
		if len(records) >= want || !time.Now().Before(deadline) {
			return records, nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return records, nil
		}
	}
}

// limitedWriter keeps the first max bytes written and discards the rest.
// It is safe to read while a process is still writing.
type limitedWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (w *limitedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
