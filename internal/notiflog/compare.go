package notiflog

import (
	"fmt"
	"strings"
)

// MismatchError describes how observed records differ from expected ones.
// Index is the first differing position, or -1 when only the lengths differ.
type MismatchError struct {
	Index    int
	Expected []Record
	Actual   []Record
	Reason   string
}

func (e *MismatchError) Error() string {
	return e.Reason
}

// Detail renders both sequences side by side for logs and reports.
func (e *MismatchError) Detail() string {
	var b strings.Builder
	b.WriteString(e.Reason)
	b.WriteString("\n")
	n := max(len(e.Expected), len(e.Actual))
	for i := 0; i < n; i++ {
		marker := " "
		if i >= len(e.Expected) || i >= len(e.Actual) || !e.Expected[i].Same(e.Actual[i]) {
			marker = "!"
		}
		fmt.Fprintf(&b, "%s %3d  %-40s  %s\n", marker, i, at(e.Expected, i), at(e.Actual, i))
	}
	return b.String()
}

func at(records []Record, i int) string {
	if i < len(records) {
		return records[i].String()
	}
	return "-"
}

// Compare checks actual against expected: equal length, then equal kind
// and path at every index.
func Compare(expected, actual []Record) error {
	if len(expected) != len(actual) {
		return &MismatchError{
			Index:    -1,
			Expected: expected,
			Actual:   actual,
			Reason:   fmt.Sprintf("record count: expected %d, got %d", len(expected), len(actual)),
		}
	}
	for i := range expected {
		if !expected[i].Same(actual[i]) {
			return &MismatchError{
				Index:    i,
				Expected: expected,
				Actual:   actual,
				Reason:   fmt.Sprintf("record %d: expected %s, got %s", i, expected[i], actual[i]),
			}
		}
	}
	return nil
}

// IsSubsequence reports whether every record of sub appears in super in
// the same relative order.
func IsSubsequence(sub, super []Record) bool {
	return CheckSubsequence(sub, super) == nil
}

// CheckSubsequence is IsSubsequence with an error naming the first record
// of sub that could not be matched.
func CheckSubsequence(sub, super []Record) error {
	j := 0
	for i, rec := range sub {
		for j < len(super) && !super[j].Same(rec) {
			j++
		}
		if j == len(super) {
			return &MismatchError{
				Index:    i,
				Expected: super,
				Actual:   sub,
				Reason:   fmt.Sprintf("record %d (%s) not found in order among %d records", i, rec, len(super)),
			}
		}
		j++
	}
	return nil
}
