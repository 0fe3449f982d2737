// Package transport defines the narrow interface between the bridge core and
// the voice gateway. The gateway is an opaque bidirectional packet channel:
// the bridge pushes encoded outbound packets at clock cadence and receives
// encoded inbound packets keyed by remote participant, plus the lifecycle
// events that drive session state.
//
// Implementations live in adapter subpackages (transport/discord); a
// channel-backed fake lives in transport/mock for tests.
package transport

// Packet is one encoded inbound audio packet from a remote participant.
type Packet struct {
	// Participant is the gateway-specific identifier of the remote speaker.
	Participant string

	// Data is the encoded (Opus) payload.
	Data []byte
}

// EventType classifies transport lifecycle events.
type EventType int

const (
	// EventReady is emitted when the gateway session is established and
	// audio can flow.
	EventReady EventType = iota

	// EventResume is emitted when the gateway reconnected an interrupted
	// session. The bridge responds with a drain cycle so no stale buffered
	// audio leaks into the resumed stream.
	EventResume

	// EventDisconnect is emitted on an orderly gateway disconnect.
	EventDisconnect

	// EventFatal is emitted on an unrecoverable transport error. Err carries
	// the cause.
	EventFatal
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "READY"
	case EventResume:
		return "RESUME"
	case EventDisconnect:
		return "DISCONNECT"
	case EventFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Event is a lifecycle change on the transport.
type Event struct {
	Type EventType

	// Err is set for EventFatal.
	Err error
}

// Transport is an active gateway session. All channels are closed when the
// transport terminates.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Send transmits one encoded outbound packet. Send must not block on a
	// congested gateway beyond a small internal buffer; excess frames are
	// dropped rather than stalling the caller's cadence.
	Send(packet []byte) error

	// Packets returns the inbound packet stream. Per-participant packet
	// order matches network arrival order; no ordering holds across
	// participants.
	Packets() <-chan Packet

	// Events returns the lifecycle event stream.
	Events() <-chan Event

	// Close tears down the gateway session. Idempotent.
	Close() error
}
