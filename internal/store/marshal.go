package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/lockstep/internal/ir"
)

// marshalTrace converts a trace to canonical JSON TEXT for storage, so equal
// traces are stored byte for byte the same.
func marshalTrace(trace []ir.TraceEntry) (string, error) {
	if trace == nil {
		trace = []ir.TraceEntry{}
	}
	data, err := ir.MarshalCanonical(trace)
	if err != nil {
		return "", fmt.Errorf("marshal trace: %w", err)
	}
	return string(data), nil
}

// unmarshalTrace parses canonical JSON TEXT back into a trace.
func unmarshalTrace(data string) ([]ir.TraceEntry, error) {
	trace := []ir.TraceEntry{}
	if data == "" || data == "[]" {
		return trace, nil
	}
	if err := json.Unmarshal([]byte(data), &trace); err != nil {
		return nil, fmt.Errorf("unmarshal trace: %w", err)
	}
	return trace, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
