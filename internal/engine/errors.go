package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyRun is returned when Run is called on a Manager a second time.
var ErrAlreadyRun = errors.New("engine: manager already run")

// ErrorCode categorizes failures recorded during a run.
type ErrorCode string

const (
	// CodeSpawnFailure indicates an external executable was missing or crashed immediately.
	CodeSpawnFailure ErrorCode = "SPAWN_FAILURE"

	// CodeSignalTimeout indicates a signaled process did not exit within its grace period.
	CodeSignalTimeout ErrorCode = "SIGNAL_TIMEOUT"

	// CodeAssertionMismatch indicates observed records differ from the expected ones.
	CodeAssertionMismatch ErrorCode = "ASSERTION_MISMATCH"

	// CodeBarrierTimeout indicates an actor never arrived for a round.
	CodeBarrierTimeout ErrorCode = "BARRIER_TIMEOUT"

	// CodeCleanupFailure indicates post-run resource release failed.
	CodeCleanupFailure ErrorCode = "CLEANUP_FAILURE"

	// CodeStepFailed is the code for handler errors that carry no other code.
	CodeStepFailed ErrorCode = "STEP_FAILED"

	// CodeStepPanic indicates a handler panicked.
	CodeStepPanic ErrorCode = "STEP_PANIC"

	// CodeUnknownOperation indicates a step names an operation with no handler.
	CodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"
)

// Error is a failure with a taxonomy code. Handlers return it (usually via
// NewError or Errorf) so the engine can classify the failure; any other
// error is recorded as CodeStepFailed.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error wrapping err.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Errorf creates an Error with a formatted message and no wrapped cause.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain.
// Returns CodeStepFailed for non-nil errors without one, and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStepFailed
}

// IsBarrierTimeout returns true if err is a barrier timeout.
func IsBarrierTimeout(err error) bool {
	return CodeOf(err) == CodeBarrierTimeout
}

// IsAssertionMismatch returns true if err is an assertion mismatch.
func IsAssertionMismatch(err error) bool {
	return CodeOf(err) == CodeAssertionMismatch
}

// IsSpawnFailure returns true if err is a spawn failure.
func IsSpawnFailure(err error) bool {
	return CodeOf(err) == CodeSpawnFailure
}

// StepFailure records the failure of one actor's step.
type StepFailure struct {
	Actor string
	Round int
	// Step is the 0-based index into the actor's step list, or -1 when the
	// failure happened at the barrier rather than inside a step.
	Step int
	Op   Operation
	Err  error
}

// Code returns the taxonomy code of the underlying error.
func (f *StepFailure) Code() ErrorCode {
	return CodeOf(f.Err)
}

func (f *StepFailure) Error() string {
	if f.Step < 0 {
		return fmt.Sprintf("actor %s round %d: %v", f.Actor, f.Round, f.Err)
	}
	return fmt.Sprintf("actor %s round %d step %d (%s): %v", f.Actor, f.Round, f.Step, f.Op, f.Err)
}

func (f *StepFailure) Unwrap() error {
	return f.Err
}
