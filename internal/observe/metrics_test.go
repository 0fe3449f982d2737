package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dev-ansung/pipebridge/internal/bridge"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the total of all data points of an int64 sum metric.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestBridgeStatsCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	s := NewBridgeStats(m)

	s.SilenceTick(1)
	s.SilenceTick(2)
	s.LiveFrame()
	s.DecodeFault()
	s.EncodeFault()
	s.Drained(4096)
	s.FrameDropped()
	s.FrameDropped()
	s.FrameDropped()

	rm := collect(t, reader)

	counters := []struct {
		name string
		want int64
	}{
		{"pipebridge.silence.ticks", 2},
		{"pipebridge.live.frames", 1},
		{"pipebridge.decode.faults", 1},
		{"pipebridge.encode.faults", 1},
		{"pipebridge.drained.bytes", 4096},
		{"pipebridge.dropped.frames", 3},
	}
	for _, tc := range counters {
		if got := sumValue(t, rm, tc.name); got != tc.want {
			t.Errorf("%s = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestBridgeStatsParticipantDelta(t *testing.T) {
	m, reader := newTestMetrics(t)
	s := NewBridgeStats(m)

	s.ParticipantCount(3)
	s.ParticipantCount(3)
	s.ParticipantCount(1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "pipebridge.active_participants"); got != 1 {
		t.Errorf("active_participants = %d, want 1", got)
	}
}

func TestBridgeStatsTickJitterHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	s := NewBridgeStats(m)

	s.TickJitter(500 * time.Microsecond)
	s.TickJitter(2 * time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "pipebridge.tick.jitter")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestBridgeStatsStateTransitions(t *testing.T) {
	m, reader := newTestMetrics(t)
	s := NewBridgeStats(m)

	s.StateChange(bridge.StateConnecting)
	s.StateChange(bridge.StateStreaming)

	rm := collect(t, reader)
	met := findMetric(rm, "pipebridge.state.transitions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	states := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "state" {
				states[kv.Value.AsString()] = dp.Value
			}
		}
	}
	if states["connecting"] != 1 || states["streaming"] != 1 {
		t.Errorf("state transitions = %v, want one connecting and one streaming", states)
	}
}

func TestBridgeStatsSnapshot(t *testing.T) {
	m, _ := newTestMetrics(t)
	s := NewBridgeStats(m)

	s.StateChange(bridge.StateStreaming)
	s.ParticipantCount(2)
	s.SilenceTick(1)
	s.SilenceTick(2)
	s.Drained(100)

	snap := s.Snapshot()
	if snap.State != "streaming" {
		t.Errorf("State = %q, want %q", snap.State, "streaming")
	}
	if snap.Participants != 2 {
		t.Errorf("Participants = %d, want 2", snap.Participants)
	}
	if snap.SilenceTicks != 2 {
		t.Errorf("SilenceTicks = %d, want 2", snap.SilenceTicks)
	}
	if snap.ConsecutiveSilence != 2 {
		t.Errorf("ConsecutiveSilence = %d, want 2", snap.ConsecutiveSilence)
	}
	if snap.DrainedBytes != 100 {
		t.Errorf("DrainedBytes = %d, want 100", snap.DrainedBytes)
	}
	if snap.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}

	// A live frame resets the consecutive-silence run.
	s.LiveFrame()
	if got := s.Snapshot().ConsecutiveSilence; got != 0 {
		t.Errorf("ConsecutiveSilence after live frame = %d, want 0", got)
	}
}
