package sink

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dev-ansung/pipebridge/internal/pipe"
)

// Compile-time interface assertion.
var _ Sink = (*LazyPipe)(nil)

// LazyPipe writes frames to a named pipe, attaching only once a reader opens
// the other end. Frames written before a reader appears are dropped. A
// vanished reader resets the sink back to detached so a returning reader
// picks the stream up again.
type LazyPipe struct {
	ep       *pipe.Endpoint
	attached bool
	dropped  uint64
}

// NewLazyPipe wraps a write-direction endpoint whose FIFO node already
// exists. The endpoint is not opened until the first frame finds a reader.
func NewLazyPipe(ep *pipe.Endpoint) *LazyPipe {
	return &LazyPipe{ep: ep}
}

// WriteFrame writes one frame, lazily attaching to the reader. A missing or
// vanished reader is not an error: the frame is dropped and the next write
// retries the attach.
func (l *LazyPipe) WriteFrame(frame []byte) error {
	if !l.attached {
		switch err := l.ep.TryOpen(); {
		case err == nil:
			l.attached = true
			slog.Info("listener pipe connected", "path", l.ep.Path())
		case errors.Is(err, pipe.ErrNoPeer):
			l.dropped++
			return nil
		default:
			return fmt.Errorf("sink: attach %s: %w", l.ep.Path(), err)
		}
	}

	if _, err := l.ep.Write(frame); err != nil {
		if errors.Is(err, pipe.ErrNoPeer) {
			// Reader disconnected or stopped consuming. Reset and reattach
			// on a later write.
			l.ep.Detach()
			l.attached = false
			l.dropped++
			slog.Info("listener pipe reader lost, detached", "path", l.ep.Path())
			return nil
		}
		return fmt.Errorf("sink: write %s: %w", l.ep.Path(), err)
	}
	return nil
}

// Dropped returns the number of frames discarded while no reader was
// attached.
func (l *LazyPipe) Dropped() uint64 { return l.dropped }

// Close closes the underlying endpoint. The FIFO node itself is unlinked by
// the session that created it.
func (l *LazyPipe) Close() error {
	return l.ep.Close()
}
