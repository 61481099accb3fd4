// Package harness turns scenario files into lockstep runs.
//
// A scenario names its actors and, for each, an ordered list of steps drawn
// from a fixed operation table:
//
//	wait                  do nothing this round
//	spawn                 start an external process, optionally with a
//	                      notification channel and a readiness condition
//	signal                deliver a signal to the actor's process and wait
//	                      for it to exit within a grace period
//	exec                  run a blocking client command to completion
//	expect_notifications  compare the records the actor's subscriber wrote
//	                      against an expected list
//
// Scenarios are YAML or CUE. Both decode into ir.Scenario and are checked
// against the embedded CUE schema (schema.cue) and then structurally:
// known operations, increasing rounds, well-formed arguments, and
// assertions that reference real subscribers.
//
// Run compiles the scenario into engine actors, executes it and evaluates
// the post-run assertions over the records each subscriber produced. Those
// records are snapshotted by the subscriber's cleanup hook, after its
// process has stopped and before its channel is removed.
//
// Golden files: RunWithGolden compares the order-independent trace (sorted
// by round, then actor registration order, sequence numbers dropped)
// against testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
