package engine

import (
	"context"
	"sync"
	"time"
)

// generation is one use of the barrier. done is closed exactly once, either
// on release (err nil) or when the barrier breaks (err set).
type generation struct {
	n    int
	done chan struct{}
	err  error
}

// Barrier is a reusable rendezvous for a changing set of actors.
//
// Every registered participant calls ArriveAndWait once per round. The last
// arrival releases everyone and opens the next generation; the arrival
// count is reset in the same critical section that advances the
// generation, so a slow waiter can never mistake a new generation for the
// one it arrived at. A participant that will not arrive again must call
// Deregister, which may itself release the current generation.
//
// If a waiter's timeout elapses before the generation releases, the barrier
// breaks: every current waiter and every later arrival receives a
// CodeBarrierTimeout error. Breaking is permanent.
type Barrier struct {
	mu       sync.Mutex
	expected int
	arrived  int
	cur      *generation
	broken   error
	timeout  time.Duration

	// onRelease runs under the barrier lock after each release, with the
	// number of the generation that was just released. It must not call
	// back into the barrier.
	onRelease func(gen int)
}

// NewBarrier creates a barrier with no participants.
// A timeout of zero disables the timeout.
func NewBarrier(timeout time.Duration) *Barrier {
	return &Barrier{
		timeout: timeout,
		cur:     &generation{done: make(chan struct{})},
	}
}

// OnRelease sets a hook invoked once per released generation.
// Must be called before any participant arrives.
func (b *Barrier) OnRelease(fn func(gen int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRelease = fn
}

// Register adds n expected participants.
func (b *Barrier) Register(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expected += n
}

// Deregister removes one expected participant. If every remaining
// participant has already arrived, the current generation is released.
func (b *Barrier) Deregister() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.expected > 0 {
		b.expected--
	}
	if b.broken == nil && b.arrived > 0 && b.arrived >= b.expected {
		b.releaseLocked()
	}
}

// ArriveAndWait blocks until every registered participant has arrived for
// the current generation, and returns that generation's number.
//
// Returns a CodeBarrierTimeout error if the barrier is or becomes broken,
// and ctx.Err() if ctx is done first (the arrival is withdrawn).
func (b *Barrier) ArriveAndWait(ctx context.Context) (int, error) {
	b.mu.Lock()
	if b.broken != nil {
		n := b.cur.n
		b.mu.Unlock()
		return n, b.broken
	}
	g := b.cur
	b.arrived++
	if b.arrived >= b.expected {
		b.releaseLocked()
		b.mu.Unlock()
		return g.n, nil
	}
	b.mu.Unlock()

	var expired <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-g.done:
		return g.n, g.err
	case <-expired:
		return g.n, b.breakGeneration(g)
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.cur == g && b.broken == nil {
			b.arrived--
			return g.n, ctx.Err()
		}
		// Released or broken while we were selecting.
		<-g.done
		return g.n, g.err
	}
}

// Expected returns the number of participants the current generation waits for.
func (b *Barrier) Expected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expected
}

// Generation returns the number of the generation currently accepting arrivals.
func (b *Barrier) Generation() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur.n
}

// Err returns the error the barrier broke with, or nil.
func (b *Barrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}

// releaseLocked opens the next generation and wakes the current waiters.
func (b *Barrier) releaseLocked() {
	g := b.cur
	b.arrived = 0
	b.cur = &generation{n: g.n + 1, done: make(chan struct{})}
	if b.onRelease != nil {
		b.onRelease(g.n)
	}
	close(g.done)
}

// breakGeneration breaks the barrier at g unless g already released.
func (b *Barrier) breakGeneration(g *generation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cur != g {
		return g.err
	}
	if b.broken == nil {
		b.broken = Errorf(CodeBarrierTimeout, "generation %d: %d of %d actors arrived within %s",
			g.n, b.arrived, b.expected, b.timeout)
		g.err = b.broken
		close(g.done)
	}
	return b.broken
}
