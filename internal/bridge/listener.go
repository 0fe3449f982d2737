package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dev-ansung/pipebridge/internal/clock"
	"github.com/dev-ansung/pipebridge/internal/codec"
	"github.com/dev-ansung/pipebridge/internal/sink"
	"github.com/dev-ansung/pipebridge/internal/transport"
	"github.com/dev-ansung/pipebridge/pkg/pcm"
)

// DefaultSilenceTimeout is how long a participant stream may go without
// packets before its decoder is released.
const DefaultSilenceTimeout = 15 * time.Second

// ListenerConfig assembles a [ListenerPath].
type ListenerConfig struct {
	// Packets is the inbound packet stream from the transport.
	Packets <-chan transport.Packet

	// Sink receives the combined (or per-participant) PCM frames.
	Sink sink.Sink

	// Demux forwards participant streams independently instead of mixing.
	// Honored only when Sink implements [sink.ParticipantSink].
	Demux bool

	// NewDecoder allocates one decoder per participant stream.
	NewDecoder func() (codec.Decoder, error)

	// Clock drives the mixing tick and idle reaping. Nil uses the wall
	// clock.
	Clock clock.Clock

	// SilenceTimeout releases idle participant streams. Zero uses
	// DefaultSilenceTimeout.
	SilenceTimeout time.Duration

	Stats Stats
}

// participantStream is the decode state for one remote speaker. The decoder
// is owned exclusively by this stream. pending holds the stream's latest
// decoded frame awaiting the tick flush; a faster-than-cadence producer
// overwrites it (latest wins, overwritten frame counted as dropped).
type participantStream struct {
	barrier  *codec.DecodeBarrier
	pending  []byte
	lastSeen time.Time
}

// ListenerPath bridges inbound per-participant packets into a sink. All
// stream state lives on the Run goroutine; packets and ticks are serialized
// through one select loop, so no locking is needed.
//
// Each stream contributes at most its latest frame per tick window; the
// flush sums the distinct streams sample-wise with saturation into one
// combined frame, so a single speaker never adds onto itself. With Demux
// set and a capable sink, each stream is forwarded separately instead.
type ListenerPath struct {
	cfg   ListenerConfig
	psink sink.ParticipantSink

	streams map[string]*participantStream

	sinkDown bool
}

// NewListenerPath assembles a listener path from cfg.
func NewListenerPath(cfg ListenerConfig) *ListenerPath {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.Stats == nil {
		cfg.Stats = NopStats{}
	}

	p := &ListenerPath{
		cfg:     cfg,
		streams: make(map[string]*participantStream),
	}
	if cfg.Demux {
		ps, ok := cfg.Sink.(sink.ParticipantSink)
		if !ok {
			slog.Warn("sink cannot demultiplex participants, falling back to mixing")
		} else {
			p.psink = ps
		}
	}
	return p
}

// Run consumes packets until ctx is cancelled or the transport closes its
// packet channel. Cancellation and transport close are clean stops (nil).
// The only fatal error is a decoder that fails to initialise.
func (p *ListenerPath) Run(ctx context.Context) error {
	ticks := make(chan struct{}, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fc := clock.NewFrameClock(pcm.FrameDuration, p.cfg.Clock)
		return fc.Run(gctx, func(uint64) {
			select {
			case ticks <- struct{}{}:
			default:
			}
		})
	})
	g.Go(func() error {
		defer p.releaseAll()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case pkt, ok := <-p.cfg.Packets:
				if !ok {
					return errStreamEnd
				}
				if err := p.handlePacket(pkt); err != nil {
					return err
				}
			case <-ticks:
				p.flush()
				p.reapIdle()
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, errStreamEnd) {
		return nil
	}
	return err
}

// errStreamEnd unwinds the errgroup when the transport closes its packet
// channel.
var errStreamEnd = errors.New("bridge: packet stream ended")

// handlePacket decodes one packet through the owning stream's fault barrier
// and either forwards it per-participant or parks it as the stream's pending
// frame for the next tick flush.
func (p *ListenerPath) handlePacket(pkt transport.Packet) error {
	s := p.streams[pkt.Participant]
	if s == nil {
		dec, err := p.cfg.NewDecoder()
		if err != nil {
			return fmt.Errorf("bridge: decoder for participant %s: %w", pkt.Participant, err)
		}
		s = &participantStream{barrier: codec.NewDecodeBarrier(dec, p.cfg.Stats.DecodeFault)}
		p.streams[pkt.Participant] = s
		p.cfg.Stats.ParticipantCount(len(p.streams))
		slog.Info("participant stream opened", "participant", pkt.Participant)
	}
	s.lastSeen = p.cfg.Clock.Now()

	frame := s.barrier.Decode(pkt.Data)

	if p.psink != nil {
		if err := p.psink.WriteParticipantFrame(pkt.Participant, frame); err != nil {
			p.sinkFault(err)
		}
		return nil
	}

	if s.pending != nil {
		p.cfg.Stats.FrameDropped()
	}
	s.pending = frame
	return nil
}

// flush mixes the pending frame of every stream into one combined frame for
// the finished tick and writes it, if any speaker contributed.
func (p *ListenerPath) flush() {
	var mix []byte
	for _, s := range p.streams {
		if s.pending == nil {
			continue
		}
		if mix == nil {
			mix = pcm.Silence()
		}
		pcm.SumSaturate(mix, s.pending)
		s.pending = nil
	}
	if mix == nil {
		return
	}

	if err := p.cfg.Sink.WriteFrame(mix); err != nil {
		p.sinkFault(err)
	}
}

// reapIdle releases streams that have been silent past the timeout,
// bounding decoder memory on churny channels.
func (p *ListenerPath) reapIdle() {
	now := p.cfg.Clock.Now()
	for id, s := range p.streams {
		if now.Sub(s.lastSeen) >= p.cfg.SilenceTimeout {
			delete(p.streams, id)
			slog.Info("participant stream reaped", "participant", id, "decodeFaults", s.barrier.Faults())
		}
	}
	p.cfg.Stats.ParticipantCount(len(p.streams))
}

// sinkFault absorbs a sink write error. A dead subprocess sink is logged
// once and frames keep flowing into the void; the session never dies for a
// sink.
func (p *ListenerPath) sinkFault(err error) {
	p.cfg.Stats.FrameDropped()
	if errors.Is(err, sink.ErrSubprocessExit) {
		if !p.sinkDown {
			p.sinkDown = true
			slog.Error("listener sink process died, dropping frames", "error", err)
		}
		return
	}
	slog.Warn("listener sink write failed", "error", err)
}

func (p *ListenerPath) releaseAll() {
	for id := range p.streams {
		delete(p.streams, id)
	}
	p.cfg.Stats.ParticipantCount(0)
}

// Participants returns the number of currently tracked remote streams. Only
// meaningful between Run activations or from tests that serialize with the
// run loop.
func (p *ListenerPath) Participants() int { return len(p.streams) }
