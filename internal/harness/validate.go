package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/lockstep/internal/ir"
	"github.com/roach88/lockstep/internal/notiflog"
)

// Validation error codes (E200-E299)
const (
	// Schema errors (E200)
	ErrSchema = "E200" // scenario does not match the CUE schema

	// Scenario errors (E201-E209)
	ErrNameRequired    = "E201" // scenario name is required
	ErrNoActors        = "E202" // at least one actor required
	ErrDuplicateActor  = "E203" // actor names must be unique and non-empty
	ErrUnknownOp       = "E204" // step names an operation with no handler
	ErrRoundOrder      = "E205" // explicit rounds must strictly increase
	ErrInvalidArgs     = "E206" // step arguments do not decode
	ErrNoProcess       = "E207" // signal or expect_notifications before any spawn
	ErrInvalidChannel  = "E208" // channel must be file or pipe
	ErrNoSubscriptions = "E209" // expect_notifications without notifications: true

	// Assertion errors (E210-E219)
	ErrUnknownAssertion = "E210" // unknown assertion type
	ErrUnknownActor     = "E211" // assertion references an unknown actor
	ErrAssertionField   = "E212" // assertion is missing a required field
	ErrNotSubscriber    = "E213" // assertion actor never collects notifications
)

// ValidationError represents one problem found in a scenario.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is every problem found in one scenario.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Validate checks a decoded scenario. Returns all errors found (does not
// fail fast).
func Validate(s *ir.Scenario) ValidationErrors {
	var errs ValidationErrors
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(s.Name) == "" {
		add(ErrNameRequired, "name", "name is required")
	}
	switch notiflog.Kind(s.Channel) {
	case "", notiflog.KindFile, notiflog.KindPipe:
	default:
		add(ErrInvalidChannel, "channel", "must be file or pipe, got %q", s.Channel)
	}
	if len(s.Actors) == 0 {
		add(ErrNoActors, "actors", "at least one actor is required")
	}

	seen := map[string]bool{}
	subscribers := map[string]bool{}
	for i, a := range s.Actors {
		field := fmt.Sprintf("actors[%d]", i)
		switch {
		case strings.TrimSpace(a.Name) == "":
			add(ErrDuplicateActor, field+".name", "name is required")
		case seen[a.Name]:
			add(ErrDuplicateActor, field+".name", "duplicate actor %q", a.Name)
		}
		seen[a.Name] = true

		round := 0
		spawned, subscribed := false, false
		for j, st := range a.Steps {
			stepField := fmt.Sprintf("%s.steps[%d]", field, j)
			if st.Round > 0 {
				if st.Round <= round {
					add(ErrRoundOrder, stepField+".round", "round %d does not follow round %d", st.Round, round)
				}
				round = st.Round
			} else {
				round++
			}

			op, ok := operations[st.Op]
			if !ok {
				add(ErrUnknownOp, stepField+".op", "unknown operation %q (known: %s)", st.Op, strings.Join(Operations(), ", "))
				continue
			}
			if op.check == nil {
				continue
			}
			info, err := op.check(st.Args)
			if err != nil {
				add(ErrInvalidArgs, stepField+".args", "%v", err)
				continue
			}
			if info.needsProcess && !spawned {
				add(ErrNoProcess, stepField, "%s requires an earlier spawn in actor %q", st.Op, a.Name)
			}
			if info.needsChannel && !subscribed {
				add(ErrNoSubscriptions, stepField, "%s requires an earlier spawn with notifications: true", st.Op)
			}
			spawned = spawned || info.spawns
			subscribed = subscribed || info.subscribes
		}
		if subscribed {
			subscribers[a.Name] = true
		}
	}

	for i, as := range s.Assertions {
		field := fmt.Sprintf("assertions[%d]", i)
		checkActor := func(key, name string) {
			switch {
			case name == "":
				add(ErrAssertionField, field+"."+key, "%s is required for %s", key, as.Type)
			case !seen[name]:
				add(ErrUnknownActor, field+"."+key, "unknown actor %q", name)
			case !subscribers[name]:
				add(ErrNotSubscriber, field+"."+key, "actor %q never spawns with notifications: true", name)
			}
		}

		switch as.Type {
		case ir.AssertSubsequence:
			checkActor("actor", as.Actor)
			checkActor("of", as.Of)
		case ir.AssertRecordCount:
			checkActor("actor", as.Actor)
			switch {
			case as.Count == nil:
				add(ErrAssertionField, field+".count", "count is required for record_count")
			case *as.Count < 0:
				add(ErrAssertionField, field+".count", "count must be non-negative")
			}
		default:
			add(ErrUnknownAssertion, field+".type", "unknown assertion type %q", as.Type)
		}
	}

	return errs
}
