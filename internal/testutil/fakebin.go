package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteScript writes an executable /bin/sh script named name into a fresh
// test directory and returns its path. body is everything after the
// shebang line.
func WriteScript(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return path
}

// Daemon is a script body that runs until SIGINT or SIGTERM and
// then exits 0. If the first argument is set, the script writes its pid
// there once its traps are installed.
const Daemon = `trap 'exit 0' INT TERM
if [ -n "$1" ]; then echo $$ > "$1"; fi
while :; do sleep 0.02; done
`

// Stubborn is a script body that ignores SIGINT and SIGTERM so only
// SIGKILL stops it.
const Stubborn = `trap '' INT TERM
while :; do sleep 0.02; done
`

// Crash is a script body that exits 3 immediately.
const Crash = `exit 3
`
