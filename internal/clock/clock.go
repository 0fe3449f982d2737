// Package clock provides the fixed-cadence tick source that drives the
// bridge's transport schedule, plus a virtual clock so cadence logic can be
// tested without real time delays.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time measurement and waiting. The bridge uses [Real] in
// production and [Virtual] in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep waits for d or until ctx is cancelled, returning ctx.Err() in
	// the latter case. A non-positive d returns immediately.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is a [Clock] backed by the wall clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Sleep waits for d or context cancellation.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FrameClock produces a monotonic cadence of fixed-period ticks. Each tick's
// scheduled time is start + n·period and the clock sleeps for scheduled−now,
// so scheduling jitter never accumulates into drift.
type FrameClock struct {
	period time.Duration
	clock  Clock
}

// NewFrameClock creates a FrameClock with the given period. A nil clk uses
// [Real].
func NewFrameClock(period time.Duration, clk Clock) *FrameClock {
	if clk == nil {
		clk = Real{}
	}
	return &FrameClock{period: period, clock: clk}
}

// Period returns the tick period.
func (c *FrameClock) Period() time.Duration { return c.period }

// Run invokes fn once per tick, passing the tick index starting at 0, until
// ctx is cancelled. fn runs on the caller's goroutine; if it overruns the
// period the clock skips the sleep and catches up rather than stretching the
// schedule. Returns ctx.Err() on cancellation.
func (c *FrameClock) Run(ctx context.Context, fn func(tick uint64)) error {
	start := c.clock.Now()
	for n := uint64(0); ; n++ {
		scheduled := start.Add(time.Duration(n) * c.period)
		if err := c.clock.Sleep(ctx, scheduled.Sub(c.clock.Now())); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(n)
	}
}

// Virtual is a deterministic [Clock] for tests. Time only moves when
// [Virtual.Advance] is called; sleepers whose deadline passes are released in
// deadline order.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	done     chan struct{}
}

// NewVirtual creates a Virtual clock starting at t.
func NewVirtual(t time.Time) *Virtual {
	return &Virtual{now: t}
}

// Now returns the current virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Sleep blocks until Advance moves the clock past now+d or ctx is cancelled.
func (v *Virtual) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	v.mu.Lock()
	w := &waiter{deadline: v.now.Add(d), done: make(chan struct{})}
	v.waiters = append(v.waiters, w)
	v.mu.Unlock()

	select {
	case <-ctx.Done():
		v.remove(w)
		return ctx.Err()
	case <-w.done:
		return nil
	}
}

// Advance moves the virtual clock forward by d and releases every sleeper
// whose deadline has passed.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	v.now = v.now.Add(d)
	remaining := v.waiters[:0]
	for _, w := range v.waiters {
		if !w.deadline.After(v.now) {
			close(w.done)
		} else {
			remaining = append(remaining, w)
		}
	}
	v.waiters = remaining
	v.mu.Unlock()
}

// Sleepers returns the number of goroutines currently blocked in Sleep.
// Tests use this to synchronise with the code under test before advancing.
func (v *Virtual) Sleepers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.waiters)
}

func (v *Virtual) remove(target *waiter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, w := range v.waiters {
		if w == target {
			v.waiters = append(v.waiters[:i], v.waiters[i+1:]...)
			return
		}
	}
}
