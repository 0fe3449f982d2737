package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smallnest/ringbuffer"
	"golang.org/x/sync/errgroup"

	"github.com/dev-ansung/pipebridge/internal/clock"
	"github.com/dev-ansung/pipebridge/internal/codec"
	"github.com/dev-ansung/pipebridge/internal/pipe"
	"github.com/dev-ansung/pipebridge/pkg/pcm"
)

const (
	// speakerRingFrames bounds how much pipe audio can sit between the
	// reader worker and the tick loop. Producers that run ahead of real
	// time block on the FIFO long before this fills.
	speakerRingFrames = 64

	// readPollInterval is how long the reader worker waits before retrying
	// an empty pipe.
	readPollInterval = 5 * time.Millisecond

	// DefaultDrainMaxBytes caps the stale-backlog sweep on activation.
	DefaultDrainMaxBytes = 1 << 20
)

// SpeakerPath bridges one read-direction pipe endpoint into the outbound
// transport. A dedicated worker pulls bytes from the pipe into a bounded
// ring buffer; the tick loop takes at most one frame per tick, runs it
// through the silence mixer and the encode barrier, and hands the packet to
// the transport. A pipe with no writer, or one whose writer left, produces
// silence indefinitely rather than an error.
type SpeakerPath struct {
	ep    *pipe.Endpoint
	enc   *codec.EncodeBarrier
	send  func(packet []byte) error
	clk   clock.Clock
	stats Stats

	mixer *SilenceMixer
	ring  *ringbuffer.RingBuffer

	drainMax int
	start    time.Time
}

// NewSpeakerPath assembles a speaker path. ep must be a read-direction
// endpoint whose FIFO node already exists. A nil clk uses the wall clock;
// drainMax <= 0 uses DefaultDrainMaxBytes.
func NewSpeakerPath(ep *pipe.Endpoint, enc *codec.EncodeBarrier, send func([]byte) error, clk clock.Clock, stats Stats, drainMax int) *SpeakerPath {
	if clk == nil {
		clk = clock.Real{}
	}
	if stats == nil {
		stats = NopStats{}
	}
	if drainMax <= 0 {
		drainMax = DefaultDrainMaxBytes
	}
	p := &SpeakerPath{
		ep:       ep,
		enc:      enc,
		send:     send,
		clk:      clk,
		stats:    stats,
		ring:     ringbuffer.New(speakerRingFrames * pcm.FrameBytes),
		drainMax: drainMax,
	}
	p.mixer = NewSilenceMixer(func(consecutive uint64) {
		stats.SilenceTick(consecutive)
	})
	return p
}

// Run opens the endpoint, drains the stale backlog, and pumps frames until
// ctx is cancelled. An open timeout is not fatal: the path keeps the tick
// cadence alive with pure silence instead of reading the pipe. On return the
// endpoint is detached, not closed, so the session can reactivate the path
// after a resume. Cancellation is a clean stop (nil); only structural pipe
// errors are returned.
func (p *SpeakerPath) Run(ctx context.Context) error {
	attached := true
	if err := p.ep.OpenBlocking(ctx); err != nil {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil
		case errors.Is(err, pipe.ErrOpenTimeout):
			attached = false
			slog.Warn("speaker pipe never attached, sending silence only", "path", p.ep.Path(), "error", err)
		default:
			return fmt.Errorf("bridge: speaker open: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if attached {
		defer p.ep.Detach()

		n, err := p.ep.Drain(p.drainMax)
		if err != nil {
			return fmt.Errorf("bridge: speaker drain: %w", err)
		}
		if n > 0 {
			slog.Info("discarded stale speaker audio", "path", p.ep.Path(), "bytes", n)
		}
		p.stats.Drained(n)
		p.ring.Reset()

		g.Go(func() error { return p.readLoop(gctx) })
	}
	g.Go(func() error {
		p.start = p.clk.Now()
		fc := clock.NewFrameClock(pcm.FrameDuration, p.clk)
		return fc.Run(gctx, p.tick)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// readLoop moves bytes from the pipe into the ring buffer. Blocking
// filesystem semantics stay on this goroutine so the tick schedule never
// waits on I/O.
func (p *SpeakerPath) readLoop(ctx context.Context) error {
	buf := make([]byte, pcm.FrameBytes)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := p.ep.Read(buf)
		switch {
		case err == nil:
			p.buffer(buf[:n])
		case errors.Is(err, pipe.ErrNoData):
			if err := p.clk.Sleep(ctx, readPollInterval); err != nil {
				return err
			}
		case errors.Is(err, pipe.ErrClosed):
			return nil
		default:
			return fmt.Errorf("bridge: speaker read: %w", err)
		}
	}
}

// buffer appends b to the ring, discarding the oldest audio when full so
// the path stays near the live tail of the stream.
func (p *SpeakerPath) buffer(b []byte) {
	if free := p.ring.Free(); free < len(b) {
		discard := make([]byte, len(b)-free)
		p.ring.Read(discard)
		p.stats.FrameDropped()
		slog.Debug("speaker ring full, dropped oldest audio", "bytes", len(discard))
	}
	p.ring.Write(b)
}

// tick emits exactly one packet for one clock tick.
func (p *SpeakerPath) tick(n uint64) {
	scheduled := p.start.Add(time.Duration(n) * pcm.FrameDuration)
	p.stats.TickJitter(p.clk.Now().Sub(scheduled))

	var live []byte
	if avail := p.ring.Length(); avail > 0 {
		if avail > pcm.FrameBytes {
			avail = pcm.FrameBytes
		}
		live = make([]byte, avail)
		p.ring.Read(live)
	}

	frame, wasLive := p.mixer.Mix(live)
	if wasLive {
		p.stats.LiveFrame()
	}

	packet, ok := p.enc.Encode(frame)
	if !ok {
		p.stats.FrameDropped()
		return
	}
	if err := p.send(packet); err != nil {
		p.stats.FrameDropped()
		slog.Warn("transport rejected outbound frame", "error", err)
	}
}
