package notiflog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// Separator delimits fields within a record line.
	Separator = "|"

	maxLine = 1 << 20
)

// ErrMalformed indicates a line that does not carry at least a kind and a path.
var ErrMalformed = errors.New("notiflog: malformed record")

// Record is one observed change event.
type Record struct {
	Kind  string
	Path  string
	Extra []string
}

// R is shorthand for a Record with no extra fields.
func R(kind, path string) Record {
	return Record{Kind: kind, Path: path}
}

// Same reports whether r and o have the same kind and path. Extra fields
// are ignored.
func (r Record) Same(o Record) bool {
	return r.Kind == o.Kind && r.Path == o.Path
}

func (r Record) String() string {
	return r.Kind + Separator + r.Path
}

// ParseLine parses a single record line. The line must already be free of
// its terminator.
func ParseLine(line string) (Record, error) {
	fields := strings.Split(line, Separator)
	if len(fields) < 2 {
		return Record{}, fmt.Errorf("%w: %q has %d field(s), want at least 2", ErrMalformed, line, len(fields))
	}
	rec := Record{Kind: fields[0], Path: fields[1]}
	if len(fields) > 2 {
		rec.Extra = fields[2:]
	}
	return rec, nil
}

// Parse reads records from r in order.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var records []Record
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			return records, fmt.Errorf("line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

// ReadLog parses the log file at path.
func ReadLog(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
