package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// DefaultGrace is the grace period Signal uses when none is given.
const DefaultGrace = 5 * time.Second

// waitDelay bounds how long reaping waits on output pipes still held open
// by the process's own children.
const waitDelay = time.Second

// Command describes an external process to start.
type Command struct {
	// Name is the executable, resolved through PATH when it has no slash.
	Name string
	Args []string
	Dir  string

	// Env is appended to the parent environment. Nil inherits it unchanged.
	Env []string

	// Stdout and Stderr default to the null device.
	Stdout io.Writer
	Stderr io.Writer

	// ExtraFiles are inherited by the child starting at fd 3.
	ExtraFiles []*os.File

	// Settle is how long Spawn watches the process after start. A non-zero
	// exit inside the window is reported as ErrExitedEarly.
	Settle time.Duration
}

// Process is a started external process.
//
// Thread-safety: all methods are safe for concurrent use.
type Process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
	err  error // set before done is closed
}

// Spawn starts c and returns once the settle window has passed.
//
// Errors:
//   - ErrUnavailable if the executable cannot be resolved or started
//   - ErrExitedEarly (joined with *ExitError) if it fails inside the settle window
//   - ctx.Err() if ctx ends during the settle window; the process is killed
func Spawn(ctx context.Context, c Command) (*Process, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("%w: empty command", ErrUnavailable)
	}
	path, err := exec.LookPath(c.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, c.Name, err)
	}

	cmd := exec.Command(path, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.ExtraFiles = c.ExtraFiles
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", ErrUnavailable, c.Name, err)
	}

	p := &Process{name: c.Name, cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = wrapExitError(cmd.Wait())
		close(p.done)
	}()

	if c.Settle <= 0 {
		return p, nil
	}

	timer := time.NewTimer(c.Settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return p, nil
	case <-p.done:
		if p.err != nil {
			return p, errors.Join(fmt.Errorf("%w: %s", ErrExitedEarly, c.Name), p.err)
		}
		return p, nil
	case <-ctx.Done():
		_ = p.kill()
		return p, ctx.Err()
	}
}

// Name returns the command name the process was started with.
func (p *Process) Name() string { return p.name }

// Pid returns the operating system process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Exited reports whether the process has exited and been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the terminal error once the process has exited: nil for a
// clean exit, *ExitError otherwise. It returns nil while still running.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the process exits or ctx ends.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signal delivers sig and waits up to grace for the process to exit. If it
// is still running after grace it is killed and ErrSignalTimeout returned.
// Signaling an exited process is a no-op.
func (p *Process) Signal(ctx context.Context, sig os.Signal, grace time.Duration) error {
	if p.Exited() {
		return nil
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	if err := signalProcess(p.cmd.Process, sig); err != nil {
		return fmt.Errorf("signal %s: %w", p.name, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		_ = p.kill()
		return fmt.Errorf("%w: %s after %s (pid %d)", ErrSignalTimeout, sig, grace, p.Pid())
	case <-ctx.Done():
		_ = p.kill()
		return ctx.Err()
	}
}

// Stop terminates the process: SIGTERM, then SIGKILL once ctx ends.
// Safe to call multiple times and on exited processes.
func (p *Process) Stop(ctx context.Context) error {
	if p.Exited() {
		return nil
	}
	if err := signalProcess(p.cmd.Process, syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop %s: %w", p.name, err)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return p.kill()
	}
}

// kill sends SIGKILL and waits for the process to be reaped.
func (p *Process) kill() error {
	if err := signalProcess(p.cmd.Process, os.Kill); err != nil {
		return fmt.Errorf("kill %s: %w", p.name, err)
	}
	<-p.done
	return nil
}

// signalProcess sends sig to a process, returning nil if the process
// has already exited (os.ErrProcessDone).
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// wrapExitError converts a non-zero *exec.ExitError to *ExitError.
// nil → nil, non-ExitError → passthrough, code 0 → nil. Output pipes left
// open past waitDelay by orphaned children do not count as a failure.
func wrapExitError(err error) error {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	code := ee.ExitCode()
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}
