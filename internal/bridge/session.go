// Package bridge contains the full-duplex audio core: the silence mixer,
// the speaker and listener paths, and the session state machine that wires
// them to a voice transport and a pair of named pipes.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dev-ansung/pipebridge/internal/clock"
	"github.com/dev-ansung/pipebridge/internal/codec"
	"github.com/dev-ansung/pipebridge/internal/pipe"
	"github.com/dev-ansung/pipebridge/internal/sink"
	"github.com/dev-ansung/pipebridge/internal/transport"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentify
	StateResume
	StateReady
	StateStreaming
	StateDraining
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentify:
		return "identify"
	case StateResume:
		return "resume"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SinkFactory builds the listener sink once the listener endpoint exists.
// listenerEP is nil when no listener pipe path is configured (subprocess and
// transcript sinks need no FIFO).
type SinkFactory func(listenerEP *pipe.Endpoint) (sink.Sink, error)

// SessionConfig carries the caller-tunable knobs of a session.
type SessionConfig struct {
	// SpeakerPipePath is the FIFO external producers write PCM into.
	SpeakerPipePath string

	// ListenerPipePath is the FIFO external consumers read PCM from. Empty
	// skips FIFO creation; the sink factory then receives nil.
	ListenerPipePath string

	// DrainMaxBytes caps the stale-backlog sweep on path activation.
	DrainMaxBytes int

	// OpenTimeout bounds how long a path waits for a pipe peer; after it the
	// path proceeds with silence only. Zero waits indefinitely.
	OpenTimeout time.Duration

	// SilenceTimeout releases idle participant decoders.
	SilenceTimeout time.Duration

	// Demux selects per-participant forwarding over mixing.
	Demux bool
}

// Session owns one voice-channel attachment for its whole lifetime: the two
// pipe endpoints, the sink, the encoder, and the speaker and listener paths.
// The transport's lifecycle events drive the state machine; Run returns only
// on clean stop (nil) or a terminal failure.
type Session struct {
	ID uuid.UUID

	cfg    SessionConfig
	tr     transport.Transport
	mkSink SinkFactory
	clk    clock.Clock
	stats  Stats

	speakerEP  *pipe.Endpoint
	listenerEP *pipe.Endpoint
	snk        sink.Sink
	enc        *codec.EncodeBarrier

	mu    sync.Mutex
	state State

	stopPaths func()
	pathDone  chan error
}

// NewSession creates a session over an already-connected transport. The
// pipes are not created until the transport signals ready.
func NewSession(tr transport.Transport, mkSink SinkFactory, clk clock.Clock, stats Stats, cfg SessionConfig) *Session {
	if clk == nil {
		clk = clock.Real{}
	}
	if stats == nil {
		stats = NopStats{}
	}
	return &Session{
		ID:     uuid.New(),
		cfg:    cfg,
		tr:     tr,
		mkSink: mkSink,
		clk:    clk,
		stats:  stats,
		state:  StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		slog.Info("session state", "session", s.ID, "from", prev.String(), "to", st.String())
		s.stats.StateChange(st)
	}
}

// Run drives the session until ctx is cancelled, the transport disconnects
// cleanly, or a terminal failure occurs. On return all pipes are closed and
// unlinked, the sink is closed, path workers are joined, and the transport
// is closed.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StateConnecting)

	enc, err := codec.NewOpusEncoder()
	if err != nil {
		s.teardown(StateFailed)
		return fmt.Errorf("bridge: session %s: %w", s.ID, err)
	}
	s.enc = codec.NewEncodeBarrier(enc, s.stats.EncodeFault)
	s.pathDone = make(chan error, 1)

	s.setState(StateIdentify)

	for {
		select {
		case <-ctx.Done():
			s.teardown(StateDisconnected)
			return nil

		case err := <-s.pathDone:
			s.teardown(StateFailed)
			return fmt.Errorf("bridge: session %s path failed: %w", s.ID, err)

		case ev, ok := <-s.tr.Events():
			if !ok {
				s.teardown(StateDisconnected)
				return nil
			}
			if err := s.handleEvent(ctx, ev); err != nil {
				if errors.Is(err, errClean) {
					return nil
				}
				return err
			}
		}
	}
}

// errClean marks an event that ends the session without error.
var errClean = errors.New("bridge: clean stop")

func (s *Session) handleEvent(ctx context.Context, ev transport.Event) error {
	switch ev.Type {
	case transport.EventReady:
		if s.State() == StateStreaming {
			return nil
		}
		s.setState(StateReady)
		if err := s.setup(); err != nil {
			s.teardown(StateFailed)
			return fmt.Errorf("bridge: session %s: %w", s.ID, err)
		}
		s.activatePaths(ctx)
		return nil

	case transport.EventResume:
		// Stale audio buffered during the gap must not leak into the
		// resumed stream; the speaker path drains on reactivation.
		s.setState(StateResume)
		s.deactivatePaths()
		s.setState(StateReady)
		s.activatePaths(ctx)
		return nil

	case transport.EventDisconnect:
		s.teardown(StateDisconnected)
		return errClean

	case transport.EventFatal:
		s.teardown(StateFailed)
		return fmt.Errorf("bridge: session %s transport failure: %w", s.ID, ev.Err)

	default:
		slog.Warn("ignoring unknown transport event", "session", s.ID, "type", int(ev.Type))
		return nil
	}
}

// setup creates the FIFO nodes and the sink on first ready. Idempotent
// across resumes.
func (s *Session) setup() error {
	if s.speakerEP == nil {
		s.speakerEP = pipe.New(s.cfg.SpeakerPipePath, pipe.Read)
		s.speakerEP.SetOpenTimeout(s.cfg.OpenTimeout)
		if err := s.speakerEP.Create(); err != nil {
			return err
		}
	}
	if s.listenerEP == nil && s.cfg.ListenerPipePath != "" {
		s.listenerEP = pipe.New(s.cfg.ListenerPipePath, pipe.Write)
		if err := s.listenerEP.Create(); err != nil {
			return err
		}
	}
	if s.snk == nil {
		snk, err := s.mkSink(s.listenerEP)
		if err != nil {
			return fmt.Errorf("sink: %w", err)
		}
		s.snk = snk
	}
	return nil
}

// activatePaths starts the speaker and listener workers and moves the
// session to Streaming. A structural path error surfaces on pathDone.
func (s *Session) activatePaths(ctx context.Context) {
	pathCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(pathCtx)

	speaker := NewSpeakerPath(s.speakerEP, s.enc, s.tr.Send, s.clk, s.stats, s.cfg.DrainMaxBytes)
	listener := NewListenerPath(ListenerConfig{
		Packets: s.tr.Packets(),
		Sink:    s.snk,
		Demux:   s.cfg.Demux,
		NewDecoder: func() (codec.Decoder, error) {
			return codec.NewOpusDecoder()
		},
		Clock:          s.clk,
		SilenceTimeout: s.cfg.SilenceTimeout,
		Stats:          s.stats,
	})

	g.Go(func() error { return speaker.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case s.pathDone <- err:
			default:
			}
		}
	}()

	s.stopPaths = func() {
		cancel()
		<-done
	}
	s.setState(StateStreaming)
}

// deactivatePaths cancels the path workers and waits for them to join.
func (s *Session) deactivatePaths() {
	if s.stopPaths != nil {
		s.stopPaths()
		s.stopPaths = nil
	}
}

// teardown performs the ordered cleanup: stop paths, close the sink, close
// and unlink the pipes, close the transport, then land in the final state.
// Safe to call more than once.
func (s *Session) teardown(final State) {
	s.setState(StateDraining)
	s.deactivatePaths()

	if s.snk != nil {
		if err := s.snk.Close(); err != nil {
			slog.Warn("sink close", "session", s.ID, "error", err)
		}
		s.snk = nil
	}
	for _, ep := range []*pipe.Endpoint{s.speakerEP, s.listenerEP} {
		if ep == nil {
			continue
		}
		if err := ep.Close(); err != nil {
			slog.Warn("pipe close", "session", s.ID, "path", ep.Path(), "error", err)
		}
		if err := ep.Unlink(); err != nil {
			slog.Warn("pipe unlink", "session", s.ID, "path", ep.Path(), "error", err)
		}
	}
	if err := s.tr.Close(); err != nil {
		slog.Warn("transport close", "session", s.ID, "error", err)
	}
	s.setState(final)
}
