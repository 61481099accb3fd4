// Package proc starts, signals and stops the external processes a scenario
// drives.
//
// Spawn resolves the executable, starts it and optionally watches a settle
// window so an immediate crash surfaces as ErrExitedEarly rather than a
// confusing failure several rounds later. WaitReady replaces fixed sleeps
// with a paced poll on a file the process creates once it is ready.
//
// Termination follows the same escalation everywhere: a catchable signal,
// a grace period, then SIGKILL. The process is always reaped before a
// Signal or Stop call returns.
package proc
