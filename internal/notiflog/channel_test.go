package notiflog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/proc"
)

func TestFileChannel(t *testing.T) {
	dir := t.TempDir()
	ch := NewFileChannel(dir, 0)

	assert.Equal(t, dir, filepath.Dir(ch.Arg()))
	assert.Nil(t, ch.ExtraFiles())

	records, err := ch.Records()
	require.NoError(t, err, "missing file holds no records")
	assert.Empty(t, records)

	require.NoError(t, os.WriteFile(ch.Arg(), []byte("DELETED|/a\nDELETED|/b\n"), 0o644))
	records, err = ch.Records()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	require.NoError(t, ch.Close())
	_, err = os.Stat(ch.Arg())
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoError(t, ch.Close(), "close is idempotent")
}

func TestFileChannel_UniqueNames(t *testing.T) {
	dir := t.TempDir()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		name := NewFileChannel(dir, 0).Arg()
		assert.False(t, seen[name], "duplicate %s", name)
		seen[name] = true
	}
}

func TestFileChannel_Overflow(t *testing.T) {
	ch := NewFileChannel(t.TempDir(), 16)
	require.NoError(t, os.WriteFile(ch.Arg(), []byte(strings.Repeat("DELETED|/a\n", 4)), 0o644))

	_, err := ch.Records()
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestFileChannel_HoldsBackPartialLine(t *testing.T) {
	tests := []struct {
		name    string
		content string
		running []Record
		final   []Record
	}{
		{
			name:    "cut inside path",
			content: "DELETED|/a\nDELETED|/a/na",
			running: []Record{R("DELETED", "/a")},
			final:   []Record{R("DELETED", "/a"), R("DELETED", "/a/na")},
		},
		{
			name:    "cut before separator",
			content: "DELETED|/a\nDELET",
			running: []Record{R("DELETED", "/a")},
		},
		{
			name:    "no complete line yet",
			content: "DELETED|/a",
			final:   []Record{R("DELETED", "/a")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewFileChannel(t.TempDir(), 0)
			require.NoError(t, os.WriteFile(ch.Arg(), []byte(tt.content), 0o644))

			records, err := ch.Records()
			require.NoError(t, err)
			assert.Equal(t, tt.running, records)

			require.NoError(t, ch.Wait(context.Background()))
			records, err = ch.Records()
			if tt.final == nil {
				assert.ErrorIs(t, err, ErrMalformed, "a partial line left by an exited producer is reported")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.final, records)
		})
	}
}

func TestPipeChannel_FromProcess(t *testing.T) {
	ch, err := NewPipeChannel(0)
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, "/dev/fd/3", ch.Arg())

	p, err := proc.Spawn(context.Background(), proc.Command{
		Name:       "/bin/sh",
		Args:       []string{"-c", `printf 'DELETED|/a\nDELETED|/a/b\n' > "$0"`, ch.Arg()},
		ExtraFiles: ch.ExtraFiles(),
	})
	require.NoError(t, err)
	ch.Started()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, ch.Wait(ctx))

	records, err := ch.Records()
	require.NoError(t, err)
	assert.Equal(t, []Record{R("DELETED", "/a"), R("DELETED", "/a/b")}, records)
}

func TestPipeChannel_HoldsBackPartialLine(t *testing.T) {
	ch, err := NewPipeChannel(0)
	require.NoError(t, err)
	defer ch.Close()

	marker := filepath.Join(t.TempDir(), "go")
	script := `printf 'DELETED|/a\nDELETED|/b' >&3
while [ ! -e "$0" ]; do sleep 0.01; done
printf '\n' >&3
`
	p, err := proc.Spawn(context.Background(), proc.Command{
		Name:       "/bin/sh",
		Args:       []string{"-c", script, marker},
		ExtraFiles: ch.ExtraFiles(),
	})
	require.NoError(t, err)
	ch.Started()

	require.Eventually(t, func() bool {
		records, err := ch.Records()
		return err == nil && len(records) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, ch.Wait(ctx))

	records, err := ch.Records()
	require.NoError(t, err)
	assert.Equal(t, []Record{R("DELETED", "/a"), R("DELETED", "/b")}, records)
}

func TestPipeChannel_Overflow(t *testing.T) {
	ch, err := NewPipeChannel(8)
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.ExtraFiles()[0].WriteString("DELETED|/a\nDELETED|/b\n")
	require.NoError(t, err)
	ch.Started()
	require.NoError(t, ch.Wait(context.Background()))

	_, err = ch.Records()
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestPipeChannel_CloseWithoutStart(t *testing.T) {
	ch, err := NewPipeChannel(0)
	require.NoError(t, err)

	require.NoError(t, ch.Wait(context.Background()))
	records, err := ch.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
}

func TestOpen(t *testing.T) {
	ch, err := Open(KindFile, t.TempDir(), 0)
	require.NoError(t, err)
	assert.IsType(t, &FileChannel{}, ch)

	ch, err = Open(KindPipe, "", 0)
	require.NoError(t, err)
	assert.IsType(t, &PipeChannel{}, ch)
	require.NoError(t, ch.Close())

	_, err = Open("socket", "", 0)
	assert.Error(t, err)
}
