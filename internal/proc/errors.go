package proc

import (
	"errors"
	"strconv"
)

// Sentinel errors for process operations.
var (
	// ErrUnavailable indicates the executable could not be resolved or started.
	ErrUnavailable = errors.New("proc: executable unavailable")

	// ErrExitedEarly indicates the process exited with a non-zero status
	// within its settle window or before it became ready.
	ErrExitedEarly = errors.New("proc: process exited during startup")

	// ErrSignalTimeout indicates a signaled process did not exit within its
	// grace period and had to be killed.
	ErrSignalTimeout = errors.New("proc: process did not exit within grace period")

	// ErrNotReady indicates a readiness condition was not met in time.
	ErrNotReady = errors.New("proc: readiness condition not met")

	// ErrUnknownSignal indicates an unrecognized signal name.
	ErrUnknownSignal = errors.New("proc: unknown signal")
)

// ExitError represents a process that exited with a non-zero status.
// Code semantics: positive = exit status, -1 = killed by a signal.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "proc: exit status " + strconv.Itoa(e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from an error chain containing *ExitError.
// Returns (0, false) if there is none.
func ExitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
