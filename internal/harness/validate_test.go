package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/ir"
)

func intPtr(n int) *int { return &n }

func subscriberActor(name string) ir.Actor {
	return ir.Actor{
		Name: name,
		Steps: []ir.Step{
			{Op: OpSpawn, Args: map[string]any{"command": "sub", "args": []any{"{log}"}, "notifications": true}},
			{Op: OpExpectNotifications, Args: map[string]any{"records": []any{[]any{"DELETED", "/a"}}}},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	s := &ir.Scenario{
		Name:   "ok",
		Actors: []ir.Actor{subscriberActor("A"), subscriberActor("B")},
		Assertions: []ir.Assertion{
			{Type: ir.AssertSubsequence, Actor: "B", Of: "A"},
			{Type: ir.AssertRecordCount, Actor: "A", Count: intPtr(0)},
		},
	}
	assert.Empty(t, Validate(s))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		scenario ir.Scenario
		want     []string
	}{
		{
			name:     "empty scenario",
			scenario: ir.Scenario{},
			want:     []string{ErrNameRequired, ErrNoActors},
		},
		{
			name: "invalid channel",
			scenario: ir.Scenario{
				Name:    "x",
				Channel: "socket",
				Actors:  []ir.Actor{{Name: "A", Steps: []ir.Step{{Op: OpWait}}}},
			},
			want: []string{ErrInvalidChannel},
		},
		{
			name: "duplicate and unnamed actors",
			scenario: ir.Scenario{
				Name: "x",
				Actors: []ir.Actor{
					{Name: "A"},
					{Name: "A"},
					{Name: " "},
				},
			},
			want: []string{ErrDuplicateActor, ErrDuplicateActor},
		},
		{
			name: "unknown operation",
			scenario: ir.Scenario{
				Name:   "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{{Op: "teleport"}}}},
			},
			want: []string{ErrUnknownOp},
		},
		{
			name: "round does not increase",
			scenario: ir.Scenario{
				Name: "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{
					{Op: OpWait, Round: 2},
					{Op: OpWait, Round: 2},
				}}},
			},
			want: []string{ErrRoundOrder},
		},
		{
			name: "implicit round then lower pin",
			scenario: ir.Scenario{
				Name: "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{
					{Op: OpWait},
					{Op: OpWait},
					{Op: OpWait, Round: 2},
				}}},
			},
			want: []string{ErrRoundOrder},
		},
		{
			name: "spawn without command",
			scenario: ir.Scenario{
				Name:   "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{{Op: OpSpawn, Args: map[string]any{"args": []any{"-d"}}}}}},
			},
			want: []string{ErrInvalidArgs},
		},
		{
			name: "spawn with unknown argument",
			scenario: ir.Scenario{
				Name:   "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{{Op: OpSpawn, Args: map[string]any{"command": "d", "retries": 3}}}}},
			},
			want: []string{ErrInvalidArgs},
		},
		{
			name: "signal before spawn",
			scenario: ir.Scenario{
				Name:   "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{{Op: OpSignal}}}},
			},
			want: []string{ErrNoProcess},
		},
		{
			name: "unknown signal",
			scenario: ir.Scenario{
				Name: "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{
					{Op: OpSpawn, Args: map[string]any{"command": "d"}},
					{Op: OpSignal, Args: map[string]any{"signal": "SIGFOO"}},
				}}},
			},
			want: []string{ErrInvalidArgs},
		},
		{
			name: "exec without command",
			scenario: ir.Scenario{
				Name:   "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{{Op: OpExec}}}},
			},
			want: []string{ErrInvalidArgs},
		},
		{
			name: "expect without subscription",
			scenario: ir.Scenario{
				Name: "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{
					{Op: OpSpawn, Args: map[string]any{"command": "d"}},
					{Op: OpExpectNotifications},
				}}},
			},
			want: []string{ErrNoSubscriptions},
		},
		{
			name: "expect record too short",
			scenario: ir.Scenario{
				Name: "x",
				Actors: []ir.Actor{{Name: "A", Steps: []ir.Step{
					{Op: OpSpawn, Args: map[string]any{"command": "d", "notifications": true}},
					{Op: OpExpectNotifications, Args: map[string]any{"records": []any{[]any{"DELETED"}}}},
				}}},
			},
			want: []string{ErrInvalidArgs},
		},
		{
			name: "assertion problems",
			scenario: ir.Scenario{
				Name: "x",
				Actors: []ir.Actor{
					subscriberActor("A"),
					{Name: "Plain", Steps: []ir.Step{{Op: OpWait}}},
				},
				Assertions: []ir.Assertion{
					{Type: "eventually", Actor: "A"},
					{Type: ir.AssertSubsequence, Actor: "Ghost", Of: "A"},
					{Type: ir.AssertSubsequence, Actor: "A"},
					{Type: ir.AssertRecordCount, Actor: "Plain", Count: intPtr(1)},
					{Type: ir.AssertRecordCount, Actor: "A"},
				},
			},
			want: []string{ErrUnknownAssertion, ErrUnknownActor, ErrAssertionField, ErrNotSubscriber, ErrAssertionField},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(&tt.scenario)
			assert.Equal(t, tt.want, codes(errs), "errors: %v", errs)
		})
	}
}

func TestValidate_ReportsEveryError(t *testing.T) {
	s := &ir.Scenario{
		Actors: []ir.Actor{
			{Name: "A", Steps: []ir.Step{{Op: "teleport"}, {Op: OpSignal}}},
		},
	}
	errs := Validate(s)
	require.Len(t, errs, 3)
	assert.Equal(t, "name", errs[0].Field)
	assert.Equal(t, "actors[0].steps[0].op", errs[1].Field)
	assert.Equal(t, "actors[0].steps[1]", errs[2].Field)
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "actors[0].name", Message: "name is required", Code: ErrDuplicateActor}
	assert.Equal(t, "[E203] actors[0].name: name is required", e.Error())

	e.Line = 4
	assert.Equal(t, "[E203] line 4: actors[0].name: name is required", e.Error())

	errs := ValidationErrors{e, {Field: "name", Message: "name is required", Code: ErrNameRequired}}
	assert.Equal(t, "[E203] line 4: actors[0].name: name is required\n[E201] name: name is required", errs.Error())
}
