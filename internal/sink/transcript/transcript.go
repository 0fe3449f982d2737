// Package transcript provides a [sink.ParticipantSink] that transcribes
// received audio in near-real-time using the whisper.cpp Go bindings and
// appends timestamped lines to a text file.
//
// Audio is buffered per participant in ~4 second chunks, downmixed to mono,
// decimated from 48 kHz to 16 kHz, and handed to whisper. Inference runs on
// a single worker goroutine because whisper contexts are not thread-safe. A
// backlogged worker drops frames rather than stalling the caller.
package transcript

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/dev-ansung/pipebridge/internal/sink"
	"github.com/dev-ansung/pipebridge/pkg/pcm"
)

// Compile-time interface assertion.
var _ sink.ParticipantSink = (*Sink)(nil)

const (
	// chunkBytes is roughly 4 seconds of bridge-format PCM per inference.
	chunkBytes = 4 * pcm.SampleRate * pcm.Channels * pcm.BytesPerSample

	// whisperRate is the sample rate whisper models expect.
	whisperRate = 16000

	frameQueueLen = 512

	// mixedStream keys frames delivered through the single-stream WriteFrame
	// path.
	mixedStream = "mix"
)

type job struct {
	participant string
	frame       []byte
}

// Sink transcribes listener audio to a text file.
type Sink struct {
	model    whisperlib.Model
	out      *os.File
	language string

	jobs    chan job
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped uint64
}

// Option configures a [Sink].
type Option func(*Sink)

// WithLanguage sets the transcription language code (e.g. "en"). Defaults
// to whisper's auto-detection.
func WithLanguage(lang string) Option {
	return func(s *Sink) { s.language = lang }
}

// New loads the whisper model at modelPath and opens outputPath for
// appending transcript lines.
func New(modelPath, outputPath string, opts ...Option) (*Sink, error) {
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("transcript: load model %q: %w", modelPath, err)
	}

	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = model.Close()
		return nil, fmt.Errorf("transcript: open %q: %w", outputPath, err)
	}

	s := &Sink{
		model: model,
		out:   out,
		jobs:  make(chan job, frameQueueLen),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	s.wg.Add(1)
	go s.processLoop()

	slog.Info("transcript sink started", "model", modelPath, "output", outputPath)
	return s, nil
}

// WriteFrame queues one mixed frame for transcription.
func (s *Sink) WriteFrame(frame []byte) error {
	return s.WriteParticipantFrame(mixedStream, frame)
}

// WriteParticipantFrame queues one per-participant frame for transcription.
// A backlogged worker drops the frame silently.
func (s *Sink) WriteParticipantFrame(participant string, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	select {
	case <-s.done:
		return errors.New("transcript: sink closed")
	case s.jobs <- job{participant: participant, frame: cp}:
		return nil
	default:
		s.dropped++
		return nil
	}
}

// Close flushes pending buffers, stops the worker, and releases the model.
// Idempotent.
func (s *Sink) Close() error {
	s.once.Do(func() {
		close(s.done)
		close(s.jobs)
		s.wg.Wait()
	})

	var errs []error
	if err := s.out.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, err)
	}
	if err := s.model.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// processLoop buffers frames per participant and runs inference on full
// chunks. Single goroutine; owns all buffer state.
func (s *Sink) processLoop() {
	defer s.wg.Done()

	buffers := make(map[string][]byte)

	for j := range s.jobs {
		buf := append(buffers[j.participant], j.frame...)
		if len(buf) < chunkBytes {
			buffers[j.participant] = buf
			continue
		}
		buffers[j.participant] = nil
		s.transcribe(j.participant, buf)
	}

	// Flush whatever remains on shutdown.
	for participant, buf := range buffers {
		if len(buf) > 0 {
			s.transcribe(participant, buf)
		}
	}
}

// transcribe downmixes, decimates, and runs whisper inference on one chunk,
// appending any recognised text to the output file.
func (s *Sink) transcribe(participant string, buf []byte) {
	mono := pcm.StereoToMono(buf)
	m16 := pcm.DecimateMono16(mono, pcm.SampleRate/whisperRate)

	samples := make([]float32, len(m16)/2)
	for i, v := range pcm.BytesToInt16s(m16) {
		samples[i] = float32(v) / 32768
	}

	text, err := s.infer(samples)
	if err != nil {
		slog.Error("transcription failed", "participant", participant, "error", err)
		return
	}
	if text == "" {
		return
	}

	line := fmt.Sprintf("[%s] %s: %s\n", time.Now().Format("15:04:05"), participant, text)
	if _, err := s.out.WriteString(line); err != nil {
		slog.Error("transcript write failed", "error", err)
		return
	}
	_ = s.out.Sync()
}

// infer runs whisper.cpp on the prepared samples using a fresh context.
func (s *Sink) infer(samples []float32) (string, error) {
	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcript: create context: %w", err)
	}
	if s.language != "" {
		if err := wctx.SetLanguage(s.language); err != nil {
			slog.Warn("transcript: failed to set language", "language", s.language, "error", err)
		}
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcript: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcript: read segment: %w", err)
		}
		if t := strings.TrimSpace(segment.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}
