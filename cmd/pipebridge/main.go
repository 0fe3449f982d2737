// Command pipebridge bridges a Discord voice channel with local named pipes
// carrying raw PCM audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dev-ansung/pipebridge/internal/bridge"
	"github.com/dev-ansung/pipebridge/internal/config"
	"github.com/dev-ansung/pipebridge/internal/health"
	"github.com/dev-ansung/pipebridge/internal/observe"
	"github.com/dev-ansung/pipebridge/internal/pipe"
	"github.com/dev-ansung/pipebridge/internal/sink"
	"github.com/dev-ansung/pipebridge/internal/sink/transcript"
	"github.com/dev-ansung/pipebridge/internal/transport/discord"
	"github.com/dev-ansung/pipebridge/internal/vlccmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	printVLC := flag.Bool("print-vlc", false, "print the VLC command that feeds the speaker pipe, then exit")
	vlcSource := flag.String("vlc-source", "", "input media for -print-vlc (file path or URL)")
	vlcMute := flag.Bool("vlc-mute-local", false, "omit the local audio output in -print-vlc")
	vlcVolume := flag.Float64("vlc-volume", 1.0, "gain multiplier for -print-vlc")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pipebridge: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pipebridge: %v\n", err)
		}
		return 1
	}

	if *printVLC {
		fmt.Println(vlccmd.Build(vlccmd.Config{
			Source:    *vlcSource,
			Pipe:      cfg.Pipes.Speaker,
			MuteLocal: *vlcMute,
			Volume:    *vlcVolume,
			Headless:  true,
		}))
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("pipebridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"sink", cfg.Sink.Kind,
	)

	// ── Discord token fallback ────────────────────────────────────────────────
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = os.Getenv("DISCORD_TOKEN")
	}
	if cfg.Discord.Token == "" {
		slog.Error("no Discord token: set discord.token or the DISCORD_TOKEN environment variable")
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Compare(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.RestartRequired {
			slog.Warn("config change requires restart", "changed", d.Changed)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Observability ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	stats := observe.NewBridgeStats(observe.DefaultMetrics())

	// ── Sink registry ─────────────────────────────────────────────────────────
	reg := sink.NewRegistry()
	registerBuiltinSinks(reg)

	printStartupSummary(cfg)

	// ── Transport ─────────────────────────────────────────────────────────────
	tr, err := discord.Connect(ctx, cfg.Discord)
	if err != nil {
		slog.Error("failed to connect to Discord", "err", err)
		return 1
	}
	slog.Info("discord connected", "guild_id", cfg.Discord.GuildID, "channel_id", cfg.Discord.ChannelID)

	// ── Session ───────────────────────────────────────────────────────────────
	listenerPath := ""
	if cfg.Sink.Kind == config.SinkPipe {
		listenerPath = cfg.Pipes.Listener
	}
	session := bridge.NewSession(tr,
		func(listenerEP *pipe.Endpoint) (sink.Sink, error) {
			return reg.Create(string(cfg.Sink.Kind), sink.Options{
				ListenerEndpoint: listenerEP,
				Output:           cfg.Sink.Output,
				ModelPath:        cfg.Sink.ModelPath,
				Language:         cfg.Sink.Language,
			})
		},
		nil, stats,
		bridge.SessionConfig{
			SpeakerPipePath:  cfg.Pipes.Speaker,
			ListenerPipePath: listenerPath,
			DrainMaxBytes:    cfg.Pipes.DrainMaxBytes,
			OpenTimeout:      cfg.Pipes.OpenTimeout,
			SilenceTimeout:   cfg.Sink.SilenceTimeout,
			Demux:            cfg.Sink.Mixing == config.MixDemux,
		})
	slog.Info("session created", "id", session.ID)

	// ── Observability server ──────────────────────────────────────────────────
	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = newObservabilityServer(cfg.Server.ListenAddr, stats, session)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability server error", "err", err)
			}
		}()
		slog.Info("observability server listening", "addr", cfg.Server.ListenAddr)
	}

	// ── Run until signalled ───────────────────────────────────────────────────
	runErr := session.Run(ctx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("observability server shutdown error", "err", err)
		}
	}

	if runErr != nil {
		slog.Error("session failed", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerBuiltinSinks wires the sink implementations that ship with
// pipebridge into reg.
func registerBuiltinSinks(reg *sink.Registry) {
	reg.Register(string(config.SinkPipe), func(opts sink.Options) (sink.Sink, error) {
		if opts.ListenerEndpoint == nil {
			return nil, errors.New("pipe sink requires a listener pipe path")
		}
		return sink.NewLazyPipe(opts.ListenerEndpoint), nil
	})

	reg.Register(string(config.SinkSubprocess), func(opts sink.Options) (sink.Sink, error) {
		name, args := sink.MP3EncoderArgs(opts.Output)
		return sink.StartSubprocess(name, args...)
	})

	reg.Register(string(config.SinkTranscript), func(opts sink.Options) (sink.Sink, error) {
		var topts []transcript.Option
		if opts.Language != "" {
			topts = append(topts, transcript.WithLanguage(opts.Language))
		}
		return transcript.New(opts.ModelPath, opts.Output, topts...)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       pipebridge, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Guild", cfg.Discord.GuildID)
	printRow("Channel", cfg.Discord.ChannelID)
	printRow("Speaker pipe", cfg.Pipes.Speaker)
	if cfg.Sink.Kind == config.SinkPipe {
		printRow("Listener pipe", cfg.Pipes.Listener)
	} else {
		printRow("Sink output", cfg.Sink.Output)
	}
	printRow("Sink", string(cfg.Sink.Kind)+" / "+string(cfg.Sink.Mixing))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s : %-19s ║\n", key, value)
}

// newObservabilityServer builds the HTTP server exposing /metrics, health
// probes, and the live WebSocket monitor.
func newObservabilityServer(addr string, stats *observe.BridgeStats, session *bridge.Session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	health.New(health.SessionChecker(session.State)).Register(mux)

	mux.Handle("GET /monitor", observe.NewMonitor(stats.Snapshot, 0))

	// No WriteTimeout: /monitor holds its connection open indefinitely.
	return &http.Server{
		Addr:        addr,
		Handler:     observe.Middleware(observe.DefaultMetrics())(mux),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// slogLevel maps the config log level to its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
