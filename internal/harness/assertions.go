package harness

import (
	"fmt"

	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/ir"
	"github.com/roach88/lockstep/internal/notiflog"
)

// evaluateAssertions checks every post-run assertion against the records
// each actor produced. All assertions are evaluated, even after a failure.
func evaluateAssertions(assertions []ir.Assertion, observed map[string][]notiflog.Record) []Failure {
	var failures []Failure
	for i, as := range assertions {
		if err := evaluateAssertion(as, observed); err != nil {
			failures = append(failures, Failure{
				Kind:    FailureAssertion,
				Actor:   as.Actor,
				Step:    -1,
				Code:    string(engine.CodeAssertionMismatch),
				Message: fmt.Sprintf("assertion %d (%s): %v", i, as.Type, err),
			})
		}
	}
	return failures
}

func evaluateAssertion(as ir.Assertion, observed map[string][]notiflog.Record) error {
	actual, ok := observed[as.Actor]
	if !ok {
		return fmt.Errorf("no records observed for %s", as.Actor)
	}

	switch as.Type {
	case ir.AssertSubsequence:
		super, ok := observed[as.Of]
		if !ok {
			return fmt.Errorf("no records observed for %s", as.Of)
		}
		if err := notiflog.CheckSubsequence(actual, super); err != nil {
			return fmt.Errorf("%s is not a subsequence of %s: %w", as.Actor, as.Of, err)
		}
		return nil

	case ir.AssertRecordCount:
		want := 0
		if as.Count != nil {
			want = *as.Count
		}
		if len(actual) != want {
			return fmt.Errorf("%s produced %d record(s), want %d", as.Actor, len(actual), want)
		}
		return nil

	default:
		return fmt.Errorf("unknown assertion type %q", as.Type)
	}
}
