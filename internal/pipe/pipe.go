// Package pipe manages the lifecycle of filesystem FIFOs (named pipes): the
// local byte-stream endpoints that external producers and consumers attach
// to. An [Endpoint] owns exactly one FIFO in one direction and walks an
// explicit state machine from creation through open, drain, close, and
// unlink.
//
// POSIX FIFO open semantics are the awkward part: a blocking open waits
// indefinitely for a peer on the other end. [Endpoint.OpenBlocking] makes
// that wait explicit and cancellable by opening in non-blocking mode and
// retrying with backoff while watching the caller's context.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Sentinel errors surfaced by Endpoint operations.
var (
	// ErrNotAPipe reports that the endpoint path exists but is not a FIFO.
	// Fatal to the endpoint; the caller must pick a different path.
	ErrNotAPipe = errors.New("pipe: path exists and is not a FIFO")

	// ErrOpenTimeout reports that no peer attached within the configured
	// bound. Non-fatal; the owning path may retry or fall back to silence.
	ErrOpenTimeout = errors.New("pipe: no peer attached within timeout")

	// ErrNoPeer reports a single non-blocking open attempt that found no
	// reader on the other end (ENXIO).
	ErrNoPeer = errors.New("pipe: no peer attached")

	// ErrNoData reports that a non-blocking read found nothing buffered.
	ErrNoData = errors.New("pipe: no data available")

	// ErrClosed reports an operation on an endpoint in a terminal state.
	ErrClosed = errors.New("pipe: endpoint closed")
)

// Direction selects which end of the FIFO this endpoint owns.
type Direction int

const (
	// Read opens the FIFO for reading (the speaker-input side).
	Read Direction = iota

	// Write opens the FIFO for writing (the listener-output side).
	Write
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unknown"
	}
}

// State tracks where an endpoint is in its lifecycle. Closed and Failed are
// terminal.
type State int

const (
	Unopened State = iota
	Opening
	Open
	Draining
	Closed
	Failed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Open retry backoff bounds. The first attempt retries quickly so an
// already-attached peer is picked up with minimal latency; the cap keeps the
// poll from spinning while the pipe sits idle.
const (
	openBackoffMin = 5 * time.Millisecond
	openBackoffMax = 250 * time.Millisecond
)

// Endpoint owns one named pipe in one direction. It is designed for a single
// owning path object; concurrent use from two owners is a programming
// error, though Close and Unlink are internally idempotent and safe to call
// from a teardown goroutine racing the owner.
type Endpoint struct {
	path string
	dir  Direction

	mu          sync.Mutex
	state       State
	fd          int
	created     bool // we made the FIFO node, so we unlink it on teardown
	openTimeout time.Duration
}

// New returns an Endpoint for the FIFO at path in the given direction. The
// filesystem node is not touched until [Endpoint.Create].
func New(path string, dir Direction) *Endpoint {
	return &Endpoint{path: path, dir: dir, state: Unopened, fd: -1}
}

// Path returns the filesystem path of the FIFO.
func (e *Endpoint) Path() string { return e.path }

// Direction returns the endpoint's direction.
func (e *Endpoint) Direction() Direction { return e.dir }

// State returns the current lifecycle state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Create idempotently creates the FIFO node. An existing FIFO at the path is
// reused; any other file type fails with [ErrNotAPipe] and moves the
// endpoint to Failed.
func (e *Endpoint) Create() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Closed || e.state == Failed {
		return ErrClosed
	}

	info, err := os.Stat(e.path)
	switch {
	case err == nil:
		if info.Mode()&os.ModeNamedPipe == 0 {
			e.state = Failed
			return fmt.Errorf("%w: %s", ErrNotAPipe, e.path)
		}
		return nil
	case !errors.Is(err, os.ErrNotExist):
		e.state = Failed
		return fmt.Errorf("pipe: stat %s: %w", e.path, err)
	}

	if err := unix.Mkfifo(e.path, 0o644); err != nil {
		e.state = Failed
		return fmt.Errorf("pipe: mkfifo %s: %w", e.path, err)
	}
	e.created = true
	slog.Debug("fifo created", "path", e.path, "direction", e.dir)
	return nil
}

// SetOpenTimeout bounds how long [Endpoint.OpenBlocking] waits for a peer.
// Zero, the default, waits indefinitely.
func (e *Endpoint) SetOpenTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openTimeout = d
}

// OpenBlocking opens the FIFO for the endpoint's direction, waiting until a
// peer opens the complementary end, ctx is cancelled, or the bound set by
// [Endpoint.SetOpenTimeout] elapses, in which case it returns
// [ErrOpenTimeout]. The wait is a non-blocking-open/backoff loop, never an
// indefinitely blocking syscall, so cancellation always returns promptly.
//
// For the read direction POSIX lets a non-blocking open succeed without a
// writer; the open returns immediately and reads report [ErrNoData] until a
// writer attaches, which the owning path treats as silence.
func (e *Endpoint) OpenBlocking(ctx context.Context) error {
	e.mu.Lock()
	timeout := e.openTimeout
	e.mu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	backoff := openBackoffMin
	for {
		err := e.tryOpen()
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, ErrNoPeer):
			return err
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrOpenTimeout, e.path, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > openBackoffMax {
			backoff = openBackoffMax
		}
	}
}

// TryOpen makes a single non-blocking open attempt, returning [ErrNoPeer]
// when no peer is attached. Used by lazy sinks that prefer dropping data
// over waiting.
func (e *Endpoint) TryOpen() error {
	return e.tryOpen()
}

func (e *Endpoint) tryOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Closed, Failed:
		return ErrClosed
	case Open:
		return nil
	}
	e.state = Opening

	flags := unix.O_NONBLOCK
	if e.dir == Read {
		flags |= unix.O_RDONLY
	} else {
		flags |= unix.O_WRONLY
	}

	fd, err := unix.Open(e.path, flags, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			// No reader on the other end yet.
			return ErrNoPeer
		}
		e.state = Failed
		return fmt.Errorf("pipe: open %s for %s: %w", e.path, e.dir, err)
	}

	e.fd = fd
	e.state = Open
	slog.Debug("fifo opened", "path", e.path, "direction", e.dir)
	return nil
}

// Read performs a non-blocking read into p. It returns [ErrNoData] both when
// the pipe is empty and when the writer has closed (EOF); the owning path
// cannot tell the two apart and treats both as "no live source".
func (e *Endpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	fd, state := e.fd, e.state
	e.mu.Unlock()

	if state != Open {
		return 0, ErrClosed
	}

	n, err := unix.Read(fd, p)
	switch {
	case err != nil:
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrNoData
		}
		return 0, fmt.Errorf("pipe: read %s: %w", e.path, err)
	case n == 0:
		// Writer closed its end.
		return 0, ErrNoData
	}
	return n, nil
}

// Write performs a non-blocking write of p. A vanished or saturated reader
// surfaces as [ErrNoPeer] so the owner can lazily reattach, matching the
// pipes-auto-heal design assumption.
func (e *Endpoint) Write(p []byte) (int, error) {
	e.mu.Lock()
	fd, state := e.fd, e.state
	e.mu.Unlock()

	if state != Open {
		return 0, ErrClosed
	}

	n, err := unix.Write(fd, p)
	if err != nil {
		if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.EAGAIN) {
			return 0, ErrNoPeer
		}
		return 0, fmt.Errorf("pipe: write %s: %w", e.path, err)
	}
	return n, nil
}

// Drain opens the FIFO for non-blocking read on a throwaway descriptor and
// discards up to maxBytes of buffered stale data, returning the count
// discarded. Used after a reconnect so the consumer resumes at the live tail
// instead of replaying minutes of stale audio.
func (e *Endpoint) Drain(maxBytes int) (int, error) {
	e.mu.Lock()
	if e.state == Closed || e.state == Failed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	prev := e.state
	e.state = Draining
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.state == Draining {
			e.state = prev
		}
		e.mu.Unlock()
	}()

	fd, err := unix.Open(e.path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return 0, fmt.Errorf("pipe: open %s for drain: %w", e.path, err)
	}
	defer unix.Close(fd)

	buf := make([]byte, 32*1024)
	discarded := 0
	for discarded < maxBytes {
		chunk := min(len(buf), maxBytes-discarded)
		n, err := unix.Read(fd, buf[:chunk])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				break // swept to the live tail
			}
			return discarded, fmt.Errorf("pipe: drain %s: %w", e.path, err)
		}
		if n == 0 {
			break
		}
		discarded += n
	}

	if discarded > 0 {
		slog.Debug("fifo drained", "path", e.path, "bytes", discarded)
	}
	return discarded, nil
}

// Detach releases the open descriptor but, unlike Close, leaves the endpoint
// reusable: a later open attempt may reattach. Used by lazy writers whose
// reader comes and goes.
func (e *Endpoint) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Open && e.state != Opening {
		return
	}
	if e.fd >= 0 {
		_ = unix.Close(e.fd)
		e.fd = -1
	}
	e.state = Unopened
	slog.Debug("fifo detached", "path", e.path, "direction", e.dir)
}

// Close releases the open descriptor and moves the endpoint to Closed.
// Idempotent; safe on an endpoint that never opened.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Closed || e.state == Failed {
		return nil
	}

	var err error
	if e.fd >= 0 {
		err = unix.Close(e.fd)
		e.fd = -1
	}
	e.state = Closed
	if err != nil {
		return fmt.Errorf("pipe: close %s: %w", e.path, err)
	}
	return nil
}

// Unlink removes the FIFO node if this process created it. Idempotent; a
// node that is already gone is not an error.
func (e *Endpoint) Unlink() error {
	e.mu.Lock()
	created := e.created
	e.created = false
	e.mu.Unlock()

	if !created {
		return nil
	}
	if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("pipe: unlink %s: %w", e.path, err)
	}
	slog.Debug("fifo removed", "path", e.path)
	return nil
}
