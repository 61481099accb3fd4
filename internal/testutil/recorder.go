// Package testutil provides helpers shared by package tests.
package testutil

import (
	"fmt"
	"sort"
	"sync"
)

// Span is one recorded step execution. Start and End come from the
// recorder's own logical clock.
type Span struct {
	Actor string
	Round int
	Start int64
	End   int64
}

// Recorder stamps step executions with a global, strictly increasing
// sequence so round ordering can be checked after a run.
//
// Thread-safety: all methods are safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	seq   int64
	open  map[string]int64
	spans []Span
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{open: make(map[string]int64)}
}

func spanKey(actor string, round int) string {
	return fmt.Sprintf("%s/%d", actor, round)
}

// Begin marks the start of actor's step in round.
func (r *Recorder) Begin(actor string, round int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.open[spanKey(actor, round)] = r.seq
}

// End marks the end of actor's step in round. Begin must have been called.
func (r *Recorder) End(actor string, round int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	key := spanKey(actor, round)
	r.spans = append(r.spans, Span{Actor: actor, Round: round, Start: r.open[key], End: r.seq})
	delete(r.open, key)
}

// Spans returns the completed spans ordered by start.
func (r *Recorder) Spans() []Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Span(nil), r.spans...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// CheckRoundOrder returns an error if any span of round k+1 started before
// some span of round k ended.
func (r *Recorder) CheckRoundOrder() error {
	spans := r.Spans()

	lastEnd := map[int]int64{}
	firstStart := map[int]int64{}
	for _, s := range spans {
		if s.End > lastEnd[s.Round] {
			lastEnd[s.Round] = s.End
		}
		if first, ok := firstStart[s.Round]; !ok || s.Start < first {
			firstStart[s.Round] = s.Start
		}
	}

	rounds := make([]int, 0, len(lastEnd))
	for round := range lastEnd {
		rounds = append(rounds, round)
	}
	sort.Ints(rounds)

	for i := 1; i < len(rounds); i++ {
		prev, cur := rounds[i-1], rounds[i]
		if firstStart[cur] < lastEnd[prev] {
			return fmt.Errorf("round %d started at seq %d before round %d ended at seq %d",
				cur, firstStart[cur], prev, lastEnd[prev])
		}
	}
	return nil
}
