package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// Readiness defaults.
const (
	DefaultReadyTimeout  = 5 * time.Second
	DefaultReadyInterval = 20 * time.Millisecond
)

// Ready describes when a freshly spawned process counts as ready.
type Ready struct {
	// Path is a file the process creates once it is ready. Empty means
	// there is no observable condition and only Delay applies.
	Path string

	// NonEmpty additionally requires Path to have a non-zero size.
	NonEmpty bool

	// Delay is a fixed pause used when Path is empty. A non-zero exit of
	// the process during the pause still fails.
	Delay time.Duration

	Timeout  time.Duration
	Interval time.Duration
}

// WaitReady blocks until r is satisfied for p. The file is polled at
// r.Interval through a rate limiter. p may be nil; when set, an exit
// before readiness fails fast with ErrExitedEarly.
//
// Errors:
//   - ErrNotReady if the condition is not met within r.Timeout
//   - ErrExitedEarly if p exits first
//   - ctx.Err() if the parent context ends
func WaitReady(ctx context.Context, p *Process, r Ready) error {
	if r.Path == "" {
		return watch(ctx, p, r.Delay)
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultReadyTimeout
	}
	if r.Interval <= 0 {
		r.Interval = DefaultReadyInterval
	}

	pollCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(r.Interval), 1)
	for {
		if ready(r) {
			return nil
		}
		if p != nil && p.Exited() {
			err := fmt.Errorf("%w: %s exited before %s appeared", ErrExitedEarly, p.Name(), r.Path)
			if exitErr := p.ExitErr(); exitErr != nil {
				return errors.Join(err, exitErr)
			}
			return err
		}
		if err := limiter.Wait(pollCtx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Last look before giving up.
			if ready(r) {
				return nil
			}
			return fmt.Errorf("%w: %s not present after %s", ErrNotReady, r.Path, r.Timeout)
		}
	}
}

func ready(r Ready) bool {
	info, err := os.Stat(r.Path)
	if err != nil {
		return false
	}
	return !r.NonEmpty || info.Size() > 0
}

// watch pauses for d. A clean exit of p inside the pause is accepted, since
// daemons that fork into the background exit 0 right away.
func watch(ctx context.Context, p *Process, d time.Duration) error {
	var done <-chan struct{}
	if p != nil {
		done = p.done
	}
	if d <= 0 {
		if p != nil && p.Exited() {
			return exitedEarly(p)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		if p != nil && p.Exited() {
			return exitedEarly(p)
		}
		return nil
	case <-done:
		if err := exitedEarly(p); err != nil {
			return err
		}
		// Exited cleanly; finish the pause anyway.
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exitedEarly returns ErrExitedEarly joined with p's exit error, or nil
// when p exited cleanly.
func exitedEarly(p *Process) error {
	exitErr := p.ExitErr()
	if exitErr == nil {
		return nil
	}
	return errors.Join(fmt.Errorf("%w: %s", ErrExitedEarly, p.Name()), exitErr)
}
