// Package engine implements lockstep multi-actor orchestration.
//
// A scenario is a set of actors, each with its own private sequence of
// steps tagged by round. The Manager runs every actor in its own goroutine
// and separates rounds with a Barrier, so a racy distributed scenario
// (daemon starts, client mutates, subscriber observes) becomes
// reproducible.
//
// ROUND ORDERING:
//
// For any two actors A and B, A's step in round k completes before B's step
// in round k+1 begins. Steps of the same round run concurrently. An actor
// with nothing scheduled for a round performs the built-in "wait" no-op.
//
// FAILURES:
//
// A step failure is recorded on the failing actor only. That actor leaves
// the barrier so nobody waits for it, and stops; the rest keep going. The
// barrier timeout is the single cancellation mechanism: if an actor never
// arrives, every waiter fails with BARRIER_TIMEOUT instead of hanging. The
// Report carries all failures of the run, not just the first.
//
// CLEANUP:
//
// After every actor is done, cleanup runs in actor registration order,
// whether the run passed or not: leftover processes are stopped, then the
// actor's cleanup hooks run newest first.
package engine
