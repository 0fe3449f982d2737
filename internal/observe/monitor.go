package observe

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// defaultMonitorInterval is how often the monitor pushes a snapshot when no
// interval is configured.
const defaultMonitorInterval = time.Second

// Monitor is an HTTP handler that upgrades requests to WebSocket and streams
// bridge statistics snapshots as JSON text messages at a fixed interval. Each
// connected client gets its own push loop; slow clients only stall their own
// connection.
type Monitor struct {
	snapshot func() Snapshot
	interval time.Duration
}

// NewMonitor creates a [Monitor] that serves snapshots from the given source.
// An interval of zero selects the one-second default.
func NewMonitor(snapshot func() Snapshot, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &Monitor{snapshot: snapshot, interval: interval}
}

// ServeHTTP upgrades the request to a WebSocket connection and pushes a
// snapshot immediately, then one per interval until the client disconnects
// or the request context is cancelled.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("monitor: websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	// Reads are discarded; their only purpose is to surface client
	// disconnects and handle control frames.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	if err := m.push(ctx, conn); err != nil {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-readDone:
			return
		case <-ticker.C:
			if err := m.push(ctx, conn); err != nil {
				return
			}
		}
	}
}

// push writes one snapshot as a JSON text message.
func (m *Monitor) push(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(m.snapshot())
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
