// Package ir provides the canonical representation of a scenario.
//
// Scenario files are authored in YAML or CUE; both decode into the types
// here, and everything downstream (the harness, the run store, the CLI)
// works only with ir values. ir imports nothing internal.
//
// Key design constraints:
//   - Durations are carried as Duration and serialized as Go duration strings
//   - Step arguments are plain JSON-compatible trees (map[string]any, []any)
//   - All JSON tags use snake_case
//   - A scenario's identity is the hash of its canonical JSON, never its
//     file name or formatting
package ir
