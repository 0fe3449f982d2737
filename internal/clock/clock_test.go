package clock_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dev-ansung/pipebridge/internal/clock"
)

func TestVirtualSleepReleasesOnAdvance(t *testing.T) {
	t.Parallel()

	v := clock.NewVirtual(time.Unix(0, 0))
	done := make(chan error, 1)
	go func() { done <- v.Sleep(context.Background(), 100*time.Millisecond) }()

	waitForSleepers(t, v, 1)

	select {
	case <-done:
		t.Fatal("Sleep returned before Advance")
	case <-time.After(10 * time.Millisecond):
	}

	v.Advance(100 * time.Millisecond)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Sleep: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestVirtualSleepCancellation(t *testing.T) {
	t.Parallel()

	v := clock.NewVirtual(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Sleep(ctx, time.Hour) }()

	waitForSleepers(t, v, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Sleep = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after cancellation")
	}
	if v.Sleepers() != 0 {
		t.Fatalf("Sleepers = %d after cancellation, want 0", v.Sleepers())
	}
}

func TestFrameClockTickCount(t *testing.T) {
	t.Parallel()

	v := clock.NewVirtual(time.Unix(0, 0))
	fc := clock.NewFrameClock(20*time.Millisecond, v)

	var ticks atomic.Uint64
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fc.Run(ctx, func(uint64) { ticks.Add(1) }) }()

	// Tick 0 fires without any sleep; then each 20 ms advance releases
	// exactly one more tick.
	const n = 50
	for range n {
		waitForSleepers(t, v, 1)
		v.Advance(20 * time.Millisecond)
	}
	waitForSleepers(t, v, 1)
	cancel()
	v.Advance(20 * time.Millisecond)

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if got := ticks.Load(); got != n+1 {
		t.Fatalf("ticks = %d, want %d", got, n+1)
	}
}

func TestFrameClockDriftCorrection(t *testing.T) {
	t.Parallel()

	v := clock.NewVirtual(time.Unix(0, 0))
	fc := clock.NewFrameClock(20*time.Millisecond, v)

	var scheduled []time.Time
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- fc.Run(ctx, func(uint64) { scheduled = append(scheduled, v.Now()) })
	}()

	// Advance in over-sized steps: the clock must not stretch the schedule.
	// Each tick remains pinned to start + n·period, so a late wakeup is
	// followed by a short (here zero) sleep, not a full period.
	waitForSleepers(t, v, 1)
	v.Advance(30 * time.Millisecond) // wakes tick 1 late, at t=30ms
	waitForSleepers(t, v, 1)
	v.Advance(10 * time.Millisecond) // tick 2 due at t=40ms exactly
	waitForSleepers(t, v, 1)
	cancel()
	v.Advance(time.Hour)
	<-done

	if len(scheduled) != 3 {
		t.Fatalf("got %d ticks, want 3", len(scheduled))
	}
	t2 := scheduled[2].Sub(time.Unix(0, 0))
	if t2 != 40*time.Millisecond {
		t.Fatalf("tick 2 fired at %v, want 40ms (drift not corrected)", t2)
	}
}

func TestRealSleepHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (clock.Real{}).Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep = %v, want context.Canceled", err)
	}
}

// waitForSleepers spins until the virtual clock has n blocked sleepers.
func waitForSleepers(t *testing.T, v *clock.Virtual, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for v.Sleepers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sleepers", n)
		}
		time.Sleep(time.Millisecond)
	}
}
