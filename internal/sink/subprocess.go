package sink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Compile-time interface assertion.
var _ Sink = (*Subprocess)(nil)

// termGrace is how long Close waits after SIGTERM before escalating to
// SIGKILL on the process group.
const termGrace = 5 * time.Second

// Subprocess feeds frames to a child process's standard input. Writes go
// straight to the OS pipe with no userspace buffering, so every frame is
// flushed as it is written and nothing is lost if either side dies
// mid-stream. The child runs in its own process group so termination signals
// reach any helpers it spawned.
type Subprocess struct {
	cmd   *exec.Cmd
	stdin *writeCloser

	exited  chan struct{}
	exitErr error

	closeOnce sync.Once
}

type writeCloser struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (wc *writeCloser) Write(p []byte) (int, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.closed {
		return 0, ErrSubprocessExit
	}
	return wc.w.Write(p)
}

func (wc *writeCloser) Close() error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.closed {
		return nil
	}
	wc.closed = true
	return wc.w.Close()
}

// StartSubprocess launches name with args and returns a sink writing to its
// stdin. The child's stderr is discarded.
func StartSubprocess(name string, args ...string) (*Subprocess, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sink: stdin pipe for %s: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sink: start %s: %w", name, err)
	}

	s := &Subprocess{
		cmd:    cmd,
		stdin:  &writeCloser{w: stdin},
		exited: make(chan struct{}),
	}

	go func() {
		s.exitErr = cmd.Wait()
		close(s.exited)
	}()

	slog.Info("subprocess sink started", "command", name, "pid", cmd.Process.Pid)
	return s, nil
}

// MP3EncoderArgs returns the ffmpeg invocation that encodes bridge-format
// PCM from stdin to an MP3 file in real time.
func MP3EncoderArgs(outputPath string) (name string, args []string) {
	return "ffmpeg", []string{
		"-y",
		"-f", "s16le",
		"-ar", "48000",
		"-ac", "2",
		"-i", "pipe:0",
		"-acodec", "libmp3lame",
		"-b:a", "192k",
		outputPath,
	}
}

// WriteFrame writes one frame to the child's stdin. A dead child surfaces as
// [ErrSubprocessExit]; the caller decides whether to keep dropping frames.
func (s *Subprocess) WriteFrame(frame []byte) error {
	select {
	case <-s.exited:
		return fmt.Errorf("%w: %v", ErrSubprocessExit, s.exitErr)
	default:
	}
	if _, err := s.stdin.Write(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrSubprocessExit, err)
	}
	return nil
}

// Exited returns a channel closed when the child terminates for any reason.
func (s *Subprocess) Exited() <-chan struct{} { return s.exited }

// Close signals graceful termination to the child's process group, waits up
// to termGrace, then escalates to SIGKILL. Idempotent.
func (s *Subprocess) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// Closing stdin lets well-behaved encoders finish their file.
		_ = s.stdin.Close()

		pgid := -s.cmd.Process.Pid
		_ = syscall.Kill(pgid, syscall.SIGTERM)

		select {
		case <-s.exited:
		case <-time.After(termGrace):
			slog.Warn("subprocess ignored SIGTERM, killing", "pid", s.cmd.Process.Pid)
			_ = syscall.Kill(pgid, syscall.SIGKILL)
			<-s.exited
		}

		if s.exitErr != nil {
			// Dying to our own signal is a clean shutdown, not an error.
			var exitErr *exec.ExitError
			if errors.As(s.exitErr, &exitErr) {
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					return
				}
			}
			err = fmt.Errorf("sink: subprocess exit: %w", s.exitErr)
		}
	})
	return err
}
