package observe

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dev-ansung/pipebridge/internal/bridge"
)

// BridgeStats implements [bridge.Stats] on top of OTel instruments. It also
// keeps plain atomic copies of every counter so the WebSocket monitor can
// serve live snapshots without reading back through the metrics SDK.
type BridgeStats struct {
	m *Metrics

	silenceTicks  atomic.Uint64
	consecutive   atomic.Uint64
	liveFrames    atomic.Uint64
	decodeFaults  atomic.Uint64
	encodeFaults  atomic.Uint64
	drainedBytes  atomic.Uint64
	droppedFrames atomic.Uint64
	participants  atomic.Int64
	state         atomic.Int64
}

// NewBridgeStats creates a [BridgeStats] recording into m.
func NewBridgeStats(m *Metrics) *BridgeStats {
	return &BridgeStats{m: m}
}

var _ bridge.Stats = (*BridgeStats)(nil)

// SilenceTick records one heartbeat tick with no live source audio.
func (s *BridgeStats) SilenceTick(consecutive uint64) {
	s.silenceTicks.Add(1)
	s.consecutive.Store(consecutive)
	s.m.SilenceTicks.Add(context.Background(), 1)
}

// LiveFrame records one tick carrying real source audio.
func (s *BridgeStats) LiveFrame() {
	s.consecutive.Store(0)
	s.liveFrames.Add(1)
	s.m.LiveFrames.Add(context.Background(), 1)
}

// DecodeFault records one inbound packet absorbed by the fault barrier.
func (s *BridgeStats) DecodeFault() {
	s.decodeFaults.Add(1)
	s.m.DecodeFaults.Add(context.Background(), 1)
}

// EncodeFault records one outbound frame absorbed by the fault barrier.
func (s *BridgeStats) EncodeFault() {
	s.encodeFaults.Add(1)
	s.m.EncodeFaults.Add(context.Background(), 1)
}

// Drained records stale bytes discarded from a pipe during activation.
func (s *BridgeStats) Drained(bytes int) {
	s.drainedBytes.Add(uint64(bytes))
	s.m.DrainedBytes.Add(context.Background(), int64(bytes))
}

// FrameDropped records one frame lost to a full buffer or a dead sink.
func (s *BridgeStats) FrameDropped() {
	s.droppedFrames.Add(1)
	s.m.DroppedFrames.Add(context.Background(), 1)
}

// ParticipantCount reports the current number of live remote streams. The
// UpDownCounter receives the delta from the previous report.
func (s *BridgeStats) ParticipantCount(n int) {
	prev := s.participants.Swap(int64(n))
	if delta := int64(n) - prev; delta != 0 {
		s.m.ActiveParticipants.Add(context.Background(), delta)
	}
}

// TickJitter records how far a tick fired from its scheduled time.
func (s *BridgeStats) TickJitter(d time.Duration) {
	s.m.TickJitter.Record(context.Background(), d.Seconds())
}

// StateChange reports a session lifecycle transition.
func (s *BridgeStats) StateChange(st bridge.State) {
	s.state.Store(int64(st))
	s.m.StateTransitions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("state", st.String())),
	)
}

// Snapshot is a point-in-time copy of the bridge counters, serialised to
// monitor clients as JSON.
type Snapshot struct {
	State              string    `json:"state"`
	Participants       int64     `json:"participants"`
	SilenceTicks       uint64    `json:"silence_ticks"`
	ConsecutiveSilence uint64    `json:"consecutive_silence"`
	LiveFrames         uint64    `json:"live_frames"`
	DecodeFaults       uint64    `json:"decode_faults"`
	EncodeFaults       uint64    `json:"encode_faults"`
	DrainedBytes       uint64    `json:"drained_bytes"`
	DroppedFrames      uint64    `json:"dropped_frames"`
	Timestamp          time.Time `json:"timestamp"`
}

// Snapshot returns the current counter values.
func (s *BridgeStats) Snapshot() Snapshot {
	return Snapshot{
		State:              bridge.State(s.state.Load()).String(),
		Participants:       s.participants.Load(),
		SilenceTicks:       s.silenceTicks.Load(),
		ConsecutiveSilence: s.consecutive.Load(),
		LiveFrames:         s.liveFrames.Load(),
		DecodeFaults:       s.decodeFaults.Load(),
		EncodeFaults:       s.encodeFaults.Load(),
		DrainedBytes:       s.drainedBytes.Load(),
		DroppedFrames:      s.droppedFrames.Load(),
		Timestamp:          time.Now().UTC(),
	}
}
