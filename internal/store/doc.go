// Package store keeps the history of scenario runs in SQLite.
//
// Each run stores its verdict, the scenario and trace digests, one report
// per actor and every failure. The history is written after a run has
// finished; the orchestration itself never reads it.
//
// # Ordering
//
//   - Runs are ordered by seq, assigned on insert, never by wall time
//   - Actor reports and failures keep their in-run position
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
