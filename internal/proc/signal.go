package proc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"syscall"
)

var signals = map[string]syscall.Signal{
	"INT":  syscall.SIGINT,
	"TERM": syscall.SIGTERM,
	"KILL": syscall.SIGKILL,
	"HUP":  syscall.SIGHUP,
	"QUIT": syscall.SIGQUIT,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

// ParseSignal resolves a signal name such as "INT", "sigterm" or "SIGUSR1".
func ParseSignal(name string) (syscall.Signal, error) {
	key := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG")
	sig, ok := signals[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q (known: %s)", ErrUnknownSignal, name, strings.Join(SignalNames(), ", "))
	}
	return sig, nil
}

// SignalNames returns the accepted signal names, sorted.
func SignalNames() []string {
	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run starts c, waits for it to exit and returns its exit status. A
// non-zero status is not an error; only failing to start or ctx ending is.
// When ctx ends the process is killed.
func Run(ctx context.Context, c Command) (int, error) {
	c.Settle = 0
	p, err := Spawn(ctx, c)
	if err != nil {
		return 0, err
	}
	if err := p.Wait(ctx); err != nil {
		if code, ok := ExitCode(err); ok {
			return code, nil
		}
		if ctx.Err() != nil {
			_ = p.kill()
		}
		return 0, err
	}
	return 0, nil
}
