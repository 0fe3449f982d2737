// Package config provides the configuration schema, loader, and file watcher
// for the pipebridge daemon.
package config

import (
	"time"

	"github.com/dev-ansung/pipebridge/internal/transport/discord"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SinkKind selects where received audio is delivered.
type SinkKind string

const (
	// SinkPipe writes PCM frames to the listener FIFO.
	SinkPipe SinkKind = "pipe"

	// SinkSubprocess feeds PCM to an encoder subprocess (MP3 recording).
	SinkSubprocess SinkKind = "subprocess"

	// SinkTranscript transcribes audio to a text file via whisper.cpp.
	SinkTranscript SinkKind = "transcript"
)

// IsValid reports whether k is a recognised sink kind.
func (k SinkKind) IsValid() bool {
	switch k {
	case SinkPipe, SinkSubprocess, SinkTranscript:
		return true
	}
	return false
}

// MixingMode selects how simultaneous remote speakers are combined.
type MixingMode string

const (
	// MixCombine sums all speakers into one stream with saturation.
	MixCombine MixingMode = "mix"

	// MixDemux forwards each speaker separately. Requires a sink that can
	// keep participants apart.
	MixDemux MixingMode = "demux"
)

// IsValid reports whether m is a recognised mixing mode.
func (m MixingMode) IsValid() bool {
	return m == MixCombine || m == MixDemux
}

// Default pipe locations, shared with the documentation and the VLC helper.
const (
	DefaultSpeakerPipe  = "/tmp/pipebridge-speaker.pcm"
	DefaultListenerPipe = "/tmp/pipebridge-listener.pcm"
)

// Config is the root configuration structure for pipebridge. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Discord discord.Config `yaml:"discord"`
	Pipes   PipesConfig    `yaml:"pipes"`
	Sink    SinkConfig     `yaml:"sink"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz, /readyz and
	// the live monitor socket (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// PipesConfig holds the FIFO locations and drain tuning.
type PipesConfig struct {
	// Speaker is the FIFO external producers write PCM into. It must be
	// distinct from Listener so speaking and listening never collide.
	Speaker string `yaml:"speaker"`

	// Listener is the FIFO external consumers read PCM from. Ignored when
	// the sink kind is not "pipe".
	Listener string `yaml:"listener"`

	// DrainMaxBytes caps how much stale buffered audio is discarded when a
	// path activates. Zero uses the built-in default (1 MiB).
	DrainMaxBytes int `yaml:"drain_max_bytes"`

	// OpenTimeout bounds how long an opening path waits for a pipe peer
	// before falling back to silence. Zero waits indefinitely.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// SinkConfig selects and tunes the listener sink.
type SinkConfig struct {
	// Kind selects the sink implementation.
	Kind SinkKind `yaml:"kind"`

	// Mixing selects combined or per-participant forwarding.
	Mixing MixingMode `yaml:"mixing"`

	// Output is the sink's destination file: the MP3 path for "subprocess",
	// the transcript text file for "transcript". Unused for "pipe".
	Output string `yaml:"output"`

	// ModelPath points at the whisper.cpp model file. Transcript sink only.
	ModelPath string `yaml:"model_path"`

	// Language is the transcription language code (e.g., "en"). Empty lets
	// the model auto-detect. Transcript sink only.
	Language string `yaml:"language"`

	// SilenceTimeout releases per-participant decoders after this much
	// inactivity. Zero uses the built-in default (15s).
	SilenceTimeout time.Duration `yaml:"silence_timeout"`
}
