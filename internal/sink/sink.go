// Package sink defines where the listener path delivers received audio: a
// lazily-attached named pipe, a subprocess fed on stdin (e.g. a real-time
// MP3 encoder), or any other consumer of fixed-size PCM frames.
package sink

import "errors"

// ErrSubprocessExit reports that a subprocess sink's process died
// unexpectedly. The listener path surfaces it once and keeps running with
// frames dropped; it never crashes the session.
var ErrSubprocessExit = errors.New("sink: subprocess exited")

// Sink consumes the listener path's combined PCM frames. Implementations
// must tolerate frame-rate writes (one per 20 ms tick) without blocking the
// caller for extended periods.
type Sink interface {
	// WriteFrame delivers one frame of bridge-format PCM.
	WriteFrame(frame []byte) error

	// Close releases the sink. Idempotent.
	Close() error
}

// ParticipantSink is the optional demultiplexing capability: sinks that can
// keep remote speakers separate receive per-participant frames instead of
// one mixed stream. The listener path selects the mode from configuration
// and only when the sink reports the capability.
type ParticipantSink interface {
	Sink

	// WriteParticipantFrame delivers one frame attributed to a single remote
	// participant.
	WriteParticipantFrame(participant string, frame []byte) error
}
