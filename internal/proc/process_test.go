package proc

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/testutil"
)

// startDaemon spawns the Daemon fake and waits for its pid file so its
// signal traps are known to be installed.
func startDaemon(t *testing.T) *Process {
	t.Helper()
	bin := testutil.WriteScript(t, "daemon", testutil.Daemon)
	pidFile := filepath.Join(t.TempDir(), "daemon.pid")

	p, err := Spawn(context.Background(), Command{Name: bin, Args: []string{pidFile}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.kill() })

	require.NoError(t, WaitReady(context.Background(), p, Ready{Path: pidFile, NonEmpty: true, Timeout: 5 * time.Second}))

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(p.Pid()), strings.TrimSpace(string(data)))
	return p
}

func TestSpawn_Missing(t *testing.T) {
	_, err := Spawn(context.Background(), Command{Name: "lockstep-no-such-binary"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = Spawn(context.Background(), Command{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSpawn_CrashDuringSettle(t *testing.T) {
	bin := testutil.WriteScript(t, "crash", testutil.Crash)

	p, err := Spawn(context.Background(), Command{Name: bin, Settle: 2 * time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExitedEarly)

	code, ok := ExitCode(err)
	require.True(t, ok)
	assert.Equal(t, 3, code)
	require.NotNil(t, p)
	assert.True(t, p.Exited())
}

func TestSpawn_CleanExitDuringSettle(t *testing.T) {
	bin := testutil.WriteScript(t, "ok", "exit 0\n")

	p, err := Spawn(context.Background(), Command{Name: bin, Settle: 2 * time.Second})
	require.NoError(t, err)
	assert.True(t, p.Exited())
	assert.NoError(t, p.ExitErr())
}

func TestSpawn_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	bin := testutil.WriteScript(t, "env", `echo "$LOCKSTEP_TEST" > out.txt`+"\n")

	code, err := Run(context.Background(), Command{Name: bin, Dir: dir, Env: []string{"LOCKSTEP_TEST=hello"}})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestRun_ExitStatus(t *testing.T) {
	bin := testutil.WriteScript(t, "crash", testutil.Crash)

	code, err := Run(context.Background(), Command{Name: bin})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestRun_ContextKills(t *testing.T) {
	bin := testutil.WriteScript(t, "stubborn", testutil.Stubborn)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, Command{Name: bin})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSignal_ExitsWithinGrace(t *testing.T) {
	p := startDaemon(t)

	err := p.Signal(context.Background(), syscall.SIGINT, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, p.Exited())
	assert.NoError(t, p.ExitErr(), "daemon traps INT and exits 0")
}

func TestSignal_TimeoutKills(t *testing.T) {
	bin := testutil.WriteScript(t, "stubborn", testutil.Stubborn)

	// The settle window gives the shell time to install its traps.
	p, err := Spawn(context.Background(), Command{Name: bin, Settle: 200 * time.Millisecond})
	require.NoError(t, err)

	err = p.Signal(context.Background(), syscall.SIGTERM, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignalTimeout)
	assert.True(t, p.Exited(), "process is reaped after the kill")
}

func TestSignal_AlreadyExited(t *testing.T) {
	bin := testutil.WriteScript(t, "ok", "exit 0\n")

	p, err := Spawn(context.Background(), Command{Name: bin})
	require.NoError(t, err)
	require.NoError(t, p.Wait(context.Background()))

	assert.NoError(t, p.Signal(context.Background(), syscall.SIGINT, time.Second))
}

func TestStop(t *testing.T) {
	t.Run("graceful", func(t *testing.T) {
		p := startDaemon(t)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, p.Stop(ctx))
		assert.True(t, p.Exited())
	})

	t.Run("escalates to kill", func(t *testing.T) {
		bin := testutil.WriteScript(t, "stubborn", testutil.Stubborn)
		p, err := Spawn(context.Background(), Command{Name: bin, Settle: 200 * time.Millisecond})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		require.NoError(t, p.Stop(ctx))
		assert.True(t, p.Exited())

		code, ok := ExitCode(p.ExitErr())
		require.True(t, ok)
		assert.Equal(t, -1, code, "killed by signal")
	})

	t.Run("idempotent", func(t *testing.T) {
		p := startDaemon(t)
		ctx := context.Background()
		require.NoError(t, p.Stop(ctx))
		require.NoError(t, p.Stop(ctx))
	})
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in   string
		want syscall.Signal
	}{
		{"INT", syscall.SIGINT},
		{"sigterm", syscall.SIGTERM},
		{"SIGKILL", syscall.SIGKILL},
		{" hup ", syscall.SIGHUP},
		{"USR1", syscall.SIGUSR1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSignal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSignal("WINCH")
	require.ErrorIs(t, err, ErrUnknownSignal)
	assert.Contains(t, err.Error(), "INT")
}
