package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in the optional fields a minimal config omits.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Pipes.Speaker == "" {
		cfg.Pipes.Speaker = DefaultSpeakerPipe
	}
	if cfg.Pipes.Listener == "" {
		cfg.Pipes.Listener = DefaultListenerPipe
	}
	if cfg.Sink.Kind == "" {
		cfg.Sink.Kind = SinkPipe
	}
	if cfg.Sink.Mixing == "" {
		cfg.Sink.Mixing = MixCombine
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}
	if cfg.Discord.ChannelID == "" {
		errs = append(errs, errors.New("discord.channel_id is required"))
	}
	if cfg.Discord.Token == "" {
		// The token usually arrives via DISCORD_TOKEN instead of the file;
		// main resolves that before the session starts.
		slog.Debug("discord.token not set in config, expecting environment variable")
	}

	if cfg.Pipes.Speaker == "" {
		errs = append(errs, errors.New("pipes.speaker is required"))
	}
	if cfg.Pipes.Speaker != "" && cfg.Pipes.Speaker == cfg.Pipes.Listener {
		errs = append(errs, fmt.Errorf("pipes.speaker and pipes.listener are both %q; they must be distinct paths", cfg.Pipes.Speaker))
	}
	if cfg.Pipes.DrainMaxBytes < 0 {
		errs = append(errs, fmt.Errorf("pipes.drain_max_bytes %d is negative", cfg.Pipes.DrainMaxBytes))
	}
	if cfg.Pipes.OpenTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipes.open_timeout %s is negative", cfg.Pipes.OpenTimeout))
	}

	if !cfg.Sink.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("sink.kind %q is invalid; valid values: pipe, subprocess, transcript", cfg.Sink.Kind))
	}
	if !cfg.Sink.Mixing.IsValid() {
		errs = append(errs, fmt.Errorf("sink.mixing %q is invalid; valid values: mix, demux", cfg.Sink.Mixing))
	}
	switch cfg.Sink.Kind {
	case SinkSubprocess:
		if cfg.Sink.Output == "" {
			errs = append(errs, errors.New("sink.output is required when sink.kind is subprocess"))
		}
	case SinkTranscript:
		if cfg.Sink.Output == "" {
			errs = append(errs, errors.New("sink.output is required when sink.kind is transcript"))
		}
		if cfg.Sink.ModelPath == "" {
			errs = append(errs, errors.New("sink.model_path is required when sink.kind is transcript"))
		}
	}
	if cfg.Sink.Mixing == MixDemux && cfg.Sink.Kind == SinkPipe {
		// A single FIFO carries one stream; demux needs a sink that can
		// keep participants apart.
		errs = append(errs, errors.New("sink.mixing \"demux\" is not supported with sink.kind \"pipe\""))
	}
	if cfg.Sink.SilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("sink.silence_timeout %s is negative", cfg.Sink.SilenceTimeout))
	}

	return errors.Join(errs...)
}
