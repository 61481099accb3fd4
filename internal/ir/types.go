package ir

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a complete lockstep test: the actors, their steps and the
// checks applied once every actor has finished.
type Scenario struct {
	Name           string      `json:"name" yaml:"name"`
	Description    string      `json:"description,omitempty" yaml:"description,omitempty"`
	BarrierTimeout Duration    `json:"barrier_timeout,omitempty" yaml:"barrier_timeout,omitempty"`
	GracePeriod    Duration    `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`
	Channel        string      `json:"channel,omitempty" yaml:"channel,omitempty"`
	Actors         []Actor     `json:"actors" yaml:"actors"`
	Assertions     []Assertion `json:"assertions,omitempty" yaml:"assertions,omitempty"`
}

// Actor is a named sequence of steps.
type Actor struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step is one operation. Round 0 means the round after the previous step.
type Step struct {
	Op    string         `json:"op" yaml:"op"`
	Round int            `json:"round,omitempty" yaml:"round,omitempty"`
	Args  map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// Assertion types.
const (
	AssertSubsequence = "subsequence"
	AssertRecordCount = "record_count"
)

// Assertion is a check over observed notification records, evaluated
// after the run.
type Assertion struct {
	Type  string `json:"type" yaml:"type"`
	Actor string `json:"actor" yaml:"actor"`
	Of    string `json:"of,omitempty" yaml:"of,omitempty"`
	Count *int   `json:"count,omitempty" yaml:"count,omitempty"`
}

// Rounds returns the number of rounds the scenario spans.
func (s Scenario) Rounds() int {
	maxRound := 0
	for _, a := range s.Actors {
		round := 0
		for _, st := range a.Steps {
			if st.Round > 0 {
				round = st.Round
			} else {
				round++
			}
		}
		maxRound = max(maxRound, round)
	}
	return maxRound
}

// Duration is a time.Duration that reads and writes as a duration string
// such as "150ms".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration parses a Go duration string.
func ParseDuration(s string) (Duration, error) {
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(v), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = v
	return nil
}
