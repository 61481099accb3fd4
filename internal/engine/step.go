package engine

import (
	"context"
	"fmt"
	"sort"
)

// Operation tags what a step does. It is resolved through a Handlers table,
// never by reflection.
type Operation string

// OpWait is the built-in no-op. Actors perform it implicitly in every round
// for which they have no scheduled step.
const OpWait Operation = "wait"

// Args are the arguments bound to a step when it is scheduled.
type Args map[string]any

// Step is one unit of an actor's sequence, bound to exactly one round.
type Step struct {
	Round int
	Op    Operation
	Args  Args
}

// StepContext is passed to a handler for the duration of one step.
type StepContext struct {
	Actor *Actor
	Round int
	// Index is the 0-based position of the step in the actor's sequence.
	Index int
	Args  Args
}

// Handler executes an operation. A returned error becomes the actor's
// failure record; return an *Error to choose its code.
type Handler func(ctx context.Context, sc StepContext) error

// Handlers is the fixed dispatch table from operation tag to handler.
type Handlers map[Operation]Handler

// lookup returns the handler for op. OpWait resolves to a no-op unless the
// table overrides it.
func (h Handlers) lookup(op Operation) (Handler, bool) {
	if fn, ok := h[op]; ok {
		return fn, true
	}
	if op == OpWait {
		return waitHandler, true
	}
	return nil, false
}

// Operations returns the registered operation tags, sorted, including OpWait.
func (h Handlers) Operations() []Operation {
	seen := map[Operation]bool{OpWait: true}
	ops := []Operation{OpWait}
	for op := range h {
		if !seen[op] {
			seen[op] = true
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

func waitHandler(context.Context, StepContext) error {
	return nil
}

// validate checks that every step of the actor can be dispatched.
func (h Handlers) validate(a *Actor) error {
	for i, st := range a.steps {
		if _, ok := h.lookup(st.Op); !ok {
			return Errorf(CodeUnknownOperation, "actor %s step %d: no handler for operation %q", a.name, i, st.Op)
		}
	}
	return nil
}

// stepAt returns the step scheduled for round, if any, and its index.
// steps are sorted by round with no duplicates.
func stepAt(steps []Step, round int) (Step, int, bool) {
	i := sort.Search(len(steps), func(i int) bool { return steps[i].Round >= round })
	if i < len(steps) && steps[i].Round == round {
		return steps[i], i, true
	}
	return Step{}, -1, false
}

func (s Step) String() string {
	return fmt.Sprintf("round %d: %s", s.Round, s.Op)
}
