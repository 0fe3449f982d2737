// Package vlccmd builds the VLC invocation that feeds media into the
// speaker pipe. VLC transcodes any source it can play into raw s16le
// 48 kHz stereo PCM and writes it to the FIFO via its sout chain; this
// package only assembles the command string and never launches a process.
package vlccmd

import (
	"fmt"
	"strings"
)

// Defaults for [Config] fields left at their zero value.
const (
	DefaultBinary  = "vlc"
	DefaultLatency = 300
)

// Config describes the VLC invocation to generate.
type Config struct {
	// Binary is the VLC executable. Empty selects [DefaultBinary].
	Binary string

	// Source is the input media (file path, URL, or anything VLC plays).
	// Empty leaves VLC waiting for input.
	Source string

	// Pipe is the FIFO path the transcoded PCM is written to.
	Pipe string

	// MuteLocal disables the duplicate output to the local audio device,
	// sending audio only to the pipe.
	MuteLocal bool

	// Volume is a gain multiplier applied in the transcode chain. Values
	// other than 1.0 insert a gain filter; zero means 1.0.
	Volume float64

	// Latency is the file and network caching in milliseconds. Zero
	// selects [DefaultLatency].
	Latency int

	// Headless runs VLC with the dummy interface.
	Headless bool

	// Verbose enables VLC verbose logging.
	Verbose bool
}

// Build assembles the full shell command for the given config.
func Build(cfg Config) string {
	bin := cfg.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	volume := cfg.Volume
	if volume == 0 {
		volume = 1.0
	}
	latency := cfg.Latency
	if latency == 0 {
		latency = DefaultLatency
	}

	// Transcode segment: raw PCM s16l, 48 kHz, stereo, optional gain.
	gain := ""
	if volume != 1.0 {
		gain = fmt.Sprintf(",afilter=gain{gain=%g}", volume)
	}
	transcode := fmt.Sprintf(
		"transcode{acodec=s16l,channels=2,samplerate=48000%s}:std{access=file,mux=raw,dst=%s}",
		gain, cfg.Pipe,
	)

	// Routing: duplicate to the local audio device unless muted.
	var sout string
	if cfg.MuteLocal {
		sout = fmt.Sprintf("'#%s'", transcode)
	} else {
		sout = fmt.Sprintf("'#duplicate{dst=display,dst=\"%s\"}'", transcode)
	}

	verbose := 0
	if cfg.Verbose {
		verbose = 1
	}

	args := []string{bin}
	if cfg.Headless {
		args = append(args, "-I dummy")
	}
	if cfg.Source != "" {
		args = append(args, quote(cfg.Source))
	}
	args = append(args,
		fmt.Sprintf("--file-caching=%d", latency),
		fmt.Sprintf("--network-caching=%d", latency),
		fmt.Sprintf("--verbose=%d", verbose),
		fmt.Sprintf("--sout=%s", sout),
	)

	return strings.Join(args, " ")
}

// quote wraps s in single quotes for shell safety, escaping embedded single
// quotes. Plain words pass through unquoted.
func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>()*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
