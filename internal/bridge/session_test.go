package bridge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dev-ansung/pipebridge/internal/pipe"
	"github.com/dev-ansung/pipebridge/internal/sink"
	"github.com/dev-ansung/pipebridge/internal/transport"
	"github.com/dev-ansung/pipebridge/internal/transport/mock"
)

type sessionFixture struct {
	session *Session
	tr      *mock.Transport
	snk     *memSink
	factory *countingFactory
	cfg     SessionConfig
}

type countingFactory struct {
	snk   *memSink
	calls int
}

func (f *countingFactory) make(*pipe.Endpoint) (sink.Sink, error) {
	f.calls++
	return f.snk, nil
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := SessionConfig{
		SpeakerPipePath:  filepath.Join(dir, "speaker.pcm"),
		ListenerPipePath: filepath.Join(dir, "listener.pcm"),
	}
	f := &sessionFixture{
		tr:      mock.New(),
		snk:     newMemSink(false),
		cfg:     cfg,
		factory: &countingFactory{},
	}
	f.factory.snk = f.snk
	f.session = NewSession(f.tr, f.factory.make, nil, nil, cfg)
	return f
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("session state = %v, want %v", s.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func isFIFO(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode()&os.ModeNamedPipe != 0
}

func TestSessionReadyActivatesStreaming(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.session.Run(ctx) }()

	f.tr.InjectEvent(transport.Event{Type: transport.EventReady})
	waitState(t, f.session, StateStreaming)

	if !isFIFO(f.cfg.SpeakerPipePath) {
		t.Error("speaker FIFO was not created on ready")
	}
	if !isFIFO(f.cfg.ListenerPipePath) {
		t.Error("listener FIFO was not created on ready")
	}
	if f.factory.calls != 1 {
		t.Errorf("sink factory calls = %d, want 1", f.factory.calls)
	}

	// The speaker path heartbeats even though nothing writes the pipe.
	deadline := time.Now().Add(5 * time.Second)
	for f.tr.SentCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("transport received %d packets, want at least 3", f.tr.SentCount())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() after cancel = %v, want nil", err)
	}
	waitState(t, f.session, StateDisconnected)
}

func TestSessionDisconnectTearsDownCleanly(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t)
	done := make(chan error, 1)
	go func() { done <- f.session.Run(context.Background()) }()

	f.tr.InjectEvent(transport.Event{Type: transport.EventReady})
	waitState(t, f.session, StateStreaming)

	f.tr.InjectEvent(transport.Event{Type: transport.EventDisconnect})
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after disconnect = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after disconnect")
	}

	if f.session.State() != StateDisconnected {
		t.Errorf("final state = %v, want %v", f.session.State(), StateDisconnected)
	}
	if _, err := os.Stat(f.cfg.SpeakerPipePath); !errors.Is(err, os.ErrNotExist) {
		t.Error("speaker FIFO still exists after teardown")
	}
	if _, err := os.Stat(f.cfg.ListenerPipePath); !errors.Is(err, os.ErrNotExist) {
		t.Error("listener FIFO still exists after teardown")
	}
	if !f.tr.Closed() {
		t.Error("transport was not closed")
	}
}

func TestSessionResumeRestartsPaths(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.session.Run(ctx) }()

	f.tr.InjectEvent(transport.Event{Type: transport.EventReady})
	waitState(t, f.session, StateStreaming)

	f.tr.InjectEvent(transport.Event{Type: transport.EventResume})
	waitState(t, f.session, StateStreaming)

	if f.factory.calls != 1 {
		t.Errorf("sink factory calls after resume = %d, want 1", f.factory.calls)
	}
	if !isFIFO(f.cfg.SpeakerPipePath) {
		t.Error("speaker FIFO vanished across resume")
	}

	// Heartbeat keeps flowing after the resume cycle.
	before := f.tr.SentCount()
	deadline := time.Now().Add(5 * time.Second)
	for f.tr.SentCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("no packets sent after resume")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() after cancel = %v, want nil", err)
	}
}

func TestSessionFatalTransportError(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t)
	done := make(chan error, 1)
	go func() { done <- f.session.Run(context.Background()) }()

	f.tr.InjectEvent(transport.Event{Type: transport.EventReady})
	waitState(t, f.session, StateStreaming)

	cause := errors.New("gateway handshake rejected")
	f.tr.InjectEvent(transport.Event{Type: transport.EventFatal, Err: cause})

	select {
	case err := <-done:
		if !errors.Is(err, cause) {
			t.Errorf("Run() = %v, want wrapped %v", err, cause)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after fatal event")
	}

	if f.session.State() != StateFailed {
		t.Errorf("final state = %v, want %v", f.session.State(), StateFailed)
	}
	if _, err := os.Stat(f.cfg.SpeakerPipePath); !errors.Is(err, os.ErrNotExist) {
		t.Error("speaker FIFO still exists after failure cleanup")
	}
}

func TestSessionFailsOnPipePathConflict(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t)
	// Occupy the speaker path with a regular file.
	if err := os.WriteFile(f.cfg.SpeakerPipePath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- f.session.Run(context.Background()) }()
	f.tr.InjectEvent(transport.Event{Type: transport.EventReady})

	select {
	case err := <-done:
		if !errors.Is(err, pipe.ErrNotAPipe) {
			t.Errorf("Run() = %v, want ErrNotAPipe", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after create conflict")
	}
	if f.session.State() != StateFailed {
		t.Errorf("final state = %v, want %v", f.session.State(), StateFailed)
	}
}

func TestSessionStateStrings(t *testing.T) {
	t.Parallel()

	states := []State{
		StateDisconnected, StateConnecting, StateIdentify, StateResume,
		StateReady, StateStreaming, StateDraining, StateFailed,
	}
	seen := make(map[string]bool)
	for _, s := range states {
		name := s.String()
		if name == "unknown" || name == "" {
			t.Errorf("State(%d).String() = %q", int(s), name)
		}
		if seen[name] {
			t.Errorf("duplicate state name %q", name)
		}
		seen[name] = true
	}
	if got := State(99).String(); got != "unknown" {
		t.Errorf("State(99).String() = %q, want unknown", got)
	}
	if !strings.Contains(StateStreaming.String(), "stream") {
		t.Errorf("StateStreaming.String() = %q", StateStreaming.String())
	}
}
