// Package mock provides a channel-backed [transport.Transport] fake for
// bridge tests: inbound packets and lifecycle events are injected by the
// test, outbound packets are captured for assertions.
package mock

import (
	"sync"

	"github.com/dev-ansung/pipebridge/internal/transport"
)

// Compile-time interface assertion.
var _ transport.Transport = (*Transport)(nil)

// Transport is a test double for the gateway.
type Transport struct {
	packets chan transport.Packet
	events  chan transport.Event

	mu   sync.Mutex
	sent [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a mock transport with buffered inject channels.
func New() *Transport {
	return &Transport{
		packets: make(chan transport.Packet, 256),
		events:  make(chan transport.Event, 16),
		closed:  make(chan struct{}),
	}
}

// Send captures the outbound packet.
func (t *Transport) Send(packet []byte) error {
	cp := make([]byte, len(packet))
	copy(cp, packet)
	t.mu.Lock()
	t.sent = append(t.sent, cp)
	t.mu.Unlock()
	return nil
}

// Sent returns a snapshot of all captured outbound packets.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentCount returns the number of captured outbound packets.
func (t *Transport) SentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// Packets returns the inbound packet stream.
func (t *Transport) Packets() <-chan transport.Packet { return t.packets }

// Events returns the lifecycle event stream.
func (t *Transport) Events() <-chan transport.Event { return t.events }

// InjectPacket delivers an inbound packet to the bridge.
func (t *Transport) InjectPacket(participant string, data []byte) {
	t.packets <- transport.Packet{Participant: participant, Data: data}
}

// InjectEvent delivers a lifecycle event to the bridge.
func (t *Transport) InjectEvent(ev transport.Event) {
	t.events <- ev
}

// Close closes the inject channels. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		close(t.packets)
		close(t.events)
	})
	return nil
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}
