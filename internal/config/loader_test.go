package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/dev-ansung/pipebridge/internal/config"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: debug
discord:
  token: "abc123"
  guild_id: "123456789"
  channel_id: "987654321"
pipes:
  speaker: /tmp/test-speaker.pcm
  listener: /tmp/test-listener.pcm
  open_timeout: 5s
sink:
  kind: pipe
  mixing: mix
  silence_timeout: 30s
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Discord.GuildID != "123456789" {
		t.Errorf("guild_id = %q", cfg.Discord.GuildID)
	}
	if cfg.Pipes.Speaker != "/tmp/test-speaker.pcm" {
		t.Errorf("speaker pipe = %q", cfg.Pipes.Speaker)
	}
	if cfg.Sink.SilenceTimeout != 30*time.Second {
		t.Errorf("silence_timeout = %s, want 30s", cfg.Sink.SilenceTimeout)
	}
	if cfg.Pipes.OpenTimeout != 5*time.Second {
		t.Errorf("open_timeout = %s, want 5s", cfg.Pipes.OpenTimeout)
	}
}

func TestValidate_NegativeOpenTimeout(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  guild_id: "1"
  channel_id: "2"
pipes:
  open_timeout: -1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative open_timeout, got nil")
	}
	if !strings.Contains(err.Error(), "open_timeout") {
		t.Errorf("error should mention open_timeout, got: %v", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := validYAML + "\nplaylist: []\n"
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestValidate_MissingDiscordIDs(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  token: "abc"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing guild/channel IDs, got nil")
	}
	if !strings.Contains(err.Error(), "guild_id") {
		t.Errorf("error should mention guild_id, got: %v", err)
	}
	if !strings.Contains(err.Error(), "channel_id") {
		t.Errorf("error should mention channel_id, got: %v", err)
	}
}

func TestValidate_PipePathCollision(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  guild_id: "1"
  channel_id: "2"
pipes:
  speaker: /tmp/same.pcm
  listener: /tmp/same.pcm
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for identical pipe paths, got nil")
	}
	if !strings.Contains(err.Error(), "distinct") {
		t.Errorf("error should mention distinct paths, got: %v", err)
	}
}

func TestValidate_SubprocessRequiresOutput(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  guild_id: "1"
  channel_id: "2"
sink:
  kind: subprocess
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for subprocess sink without output, got nil")
	}
	if !strings.Contains(err.Error(), "sink.output") {
		t.Errorf("error should mention sink.output, got: %v", err)
	}
}

func TestValidate_TranscriptRequiresModel(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  guild_id: "1"
  channel_id: "2"
sink:
  kind: transcript
  output: /tmp/transcript.txt
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for transcript sink without model, got nil")
	}
	if !strings.Contains(err.Error(), "model_path") {
		t.Errorf("error should mention model_path, got: %v", err)
	}
}

func TestValidate_DemuxNeedsCapableSink(t *testing.T) {
	t.Parallel()
	yaml := `
discord:
  guild_id: "1"
  channel_id: "2"
sink:
  kind: pipe
  mixing: demux
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for demux over a single pipe, got nil")
	}
	if !strings.Contains(err.Error(), "demux") {
		t.Errorf("error should mention demux, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: shouty
sink:
  kind: tape
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "sink.kind") {
		t.Errorf("error should mention sink.kind, got: %v", err)
	}
}
