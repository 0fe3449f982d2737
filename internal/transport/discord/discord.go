// Package discord provides a [transport.Transport] implementation backed by
// a Discord voice channel via the bwmarrin/discordgo library. It relays raw
// Opus packets in both directions, leaving codec work to the bridge core,
// and maps Discord voice-connection state changes onto transport lifecycle
// events.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dev-ansung/pipebridge/internal/transport"
)

// Compile-time interface assertion.
var _ transport.Transport = (*Transport)(nil)

const (
	packetChannelBuffer = 64
	eventChannelBuffer  = 8

	// readyPollInterval paces the voice-connection state watcher that
	// synthesises resume/disconnect events from discordgo's Ready flag.
	readyPollInterval = 250 * time.Millisecond
)

// Config holds Discord gateway settings.
type Config struct {
	// Token is the bot token. Required; supplied out-of-band (env or config).
	Token string `yaml:"token"`

	// GuildID is the guild owning the voice channel.
	GuildID string `yaml:"guild_id"`

	// ChannelID is the voice channel to attach to.
	ChannelID string `yaml:"channel_id"`
}

// Transport adapts a discordgo.VoiceConnection to [transport.Transport].
type Transport struct {
	session *discordgo.Session
	vc      *discordgo.VoiceConnection

	packets chan transport.Packet
	events  chan transport.Event

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Connect opens a Discord session, joins the configured voice channel, and
// returns an active transport. The ctx governs the connection attempt only.
func Connect(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = session.Close()
		return nil, err
	}

	// mute=false (we send audio), deaf=false (we receive audio).
	vc, err := session.ChannelVoiceJoin(cfg.GuildID, cfg.ChannelID, false, false)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", cfg.ChannelID, err)
	}

	t := &Transport{
		session: session,
		vc:      vc,
		packets: make(chan transport.Packet, packetChannelBuffer),
		events:  make(chan transport.Event, eventChannelBuffer),
		done:    make(chan struct{}),
	}

	t.wg.Add(2)
	go t.recvLoop()
	go t.watchLoop()

	t.emit(transport.Event{Type: transport.EventReady})
	return t, nil
}

// Send pushes one Opus packet to the voice connection. A congested send
// buffer drops the packet rather than stalling the caller's tick cadence.
func (t *Transport) Send(packet []byte) error {
	select {
	case <-t.done:
		return errors.New("discord: transport closed")
	case t.vc.OpusSend <- packet:
		return nil
	default:
		slog.Debug("discord: outbound buffer full, dropping packet")
		return nil
	}
}

// Packets returns the inbound Opus packet stream, keyed by SSRC.
func (t *Transport) Packets() <-chan transport.Packet {
	return t.packets
}

// Events returns the lifecycle event stream.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Close leaves the voice channel and closes the Discord session. Idempotent.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.wg.Wait()

		if t.vc != nil {
			if e := t.vc.Disconnect(); e != nil {
				err = fmt.Errorf("discord: voice disconnect: %w", e)
			}
		}
		if e := t.session.Close(); e != nil && err == nil {
			err = fmt.Errorf("discord: close session: %w", e)
		}
		close(t.packets)
		close(t.events)
	})
	return err
}

// recvLoop relays inbound Opus packets, keyed by SSRC, until shutdown.
func (t *Transport) recvLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case pkt, ok := <-t.vc.OpusRecv:
			if !ok {
				t.emit(transport.Event{Type: transport.EventDisconnect})
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}
			p := transport.Packet{
				Participant: strconv.FormatUint(uint64(pkt.SSRC), 10),
				Data:        pkt.Opus,
			}
			select {
			case t.packets <- p:
			default:
				// Inbound buffer full; drop rather than block the gateway
				// reader.
			}
		}
	}
}

// watchLoop polls the voice connection's Ready flag and synthesises resume
// events: a Ready drop followed by recovery means discordgo re-established
// the UDP session and any pipe backlog is stale.
func (t *Transport) watchLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	wasReady := true
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			ready := voiceReady(t.vc)
			switch {
			case wasReady && !ready:
				slog.Warn("discord: voice connection lost, awaiting resume")
			case !wasReady && ready:
				t.emit(transport.Event{Type: transport.EventResume})
			}
			wasReady = ready
		}
	}
}

// voiceReady reads the connection's Ready flag under its lock; discordgo's
// gateway goroutine mutates it during reconnects.
func voiceReady(vc *discordgo.VoiceConnection) bool {
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

// emit delivers an event without blocking.
func (t *Transport) emit(ev transport.Event) {
	select {
	case t.events <- ev:
	default:
		slog.Warn("discord: event buffer full, dropping", "event", ev.Type)
	}
}
