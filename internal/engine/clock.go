package engine

import "sync/atomic"

// Clock is a monotonic logical clock shared by every actor of a run.
//
// Trace events are stamped from it instead of wall time, so the
// happens-before relation across rounds can be checked exactly:
// a step that finished in round k always carries a smaller seq
// than any step that started in round k+1.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number. The first call returns 1.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
