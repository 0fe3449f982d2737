package bridge

import "time"

// Stats receives counters and gauges from the paths and the session. The
// observe package provides the OpenTelemetry implementation; NopStats keeps
// tests and minimal wiring quiet. Implementations must not block.
type Stats interface {
	// SilenceTick records one heartbeat tick with no live source audio,
	// with the current consecutive-silence run length.
	SilenceTick(consecutive uint64)

	// LiveFrame records one tick carrying real source audio.
	LiveFrame()

	// DecodeFault records one inbound packet absorbed by the fault barrier.
	DecodeFault()

	// EncodeFault records one outbound frame absorbed by the fault barrier.
	EncodeFault()

	// Drained records stale bytes discarded from a pipe during activation.
	Drained(bytes int)

	// FrameDropped records one frame lost to a full buffer or a dead sink.
	FrameDropped()

	// ParticipantCount reports the current number of live remote streams.
	ParticipantCount(n int)

	// TickJitter records how far a tick fired from its scheduled time.
	TickJitter(d time.Duration)

	// StateChange reports a session lifecycle transition.
	StateChange(s State)
}

// NopStats discards everything.
type NopStats struct{}

func (NopStats) SilenceTick(uint64)       {}
func (NopStats) LiveFrame()               {}
func (NopStats) DecodeFault()             {}
func (NopStats) EncodeFault()             {}
func (NopStats) Drained(int)              {}
func (NopStats) FrameDropped()            {}
func (NopStats) ParticipantCount(int)     {}
func (NopStats) TickJitter(time.Duration) {}
func (NopStats) StateChange(State)        {}

var _ Stats = NopStats{}
