// Package observe provides observability primitives for pipebridge:
// OpenTelemetry metrics, HTTP middleware, and a WebSocket monitor that
// streams live bridge statistics.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pipebridge metrics.
const meterName = "github.com/dev-ansung/pipebridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Frame cadence ---

	// TickJitter tracks how far each heartbeat tick fired from its
	// scheduled time.
	TickJitter metric.Float64Histogram

	// SilenceTicks counts heartbeat ticks that carried substituted silence.
	SilenceTicks metric.Int64Counter

	// LiveFrames counts heartbeat ticks that carried real source audio.
	LiveFrames metric.Int64Counter

	// --- Fault barrier ---

	// DecodeFaults counts inbound packets absorbed by the decode barrier.
	DecodeFaults metric.Int64Counter

	// EncodeFaults counts outbound frames absorbed by the encode barrier.
	EncodeFaults metric.Int64Counter

	// --- Pipes and buffering ---

	// DrainedBytes counts stale bytes discarded from a pipe during
	// path activation.
	DrainedBytes metric.Int64Counter

	// DroppedFrames counts frames lost to full buffers or dead sinks.
	DroppedFrames metric.Int64Counter

	// --- Session ---

	// ActiveParticipants tracks the number of live remote audio streams.
	ActiveParticipants metric.Int64UpDownCounter

	// StateTransitions counts session lifecycle transitions. Use with
	// attribute: attribute.String("state", ...)
	StateTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// jitterBuckets defines histogram bucket boundaries (in seconds) sized for
// deviations from a 20 ms frame cadence.
var jitterBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TickJitter, err = m.Float64Histogram("pipebridge.tick.jitter",
		metric.WithDescription("Deviation of heartbeat ticks from their scheduled time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jitterBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SilenceTicks, err = m.Int64Counter("pipebridge.silence.ticks",
		metric.WithDescription("Total heartbeat ticks that carried substituted silence."),
	); err != nil {
		return nil, err
	}
	if met.LiveFrames, err = m.Int64Counter("pipebridge.live.frames",
		metric.WithDescription("Total heartbeat ticks that carried real source audio."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFaults, err = m.Int64Counter("pipebridge.decode.faults",
		metric.WithDescription("Total inbound packets absorbed by the decode fault barrier."),
	); err != nil {
		return nil, err
	}
	if met.EncodeFaults, err = m.Int64Counter("pipebridge.encode.faults",
		metric.WithDescription("Total outbound frames absorbed by the encode fault barrier."),
	); err != nil {
		return nil, err
	}
	if met.DrainedBytes, err = m.Int64Counter("pipebridge.drained.bytes",
		metric.WithDescription("Total stale bytes discarded from pipes during path activation."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("pipebridge.dropped.frames",
		metric.WithDescription("Total frames lost to full buffers or dead sinks."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("pipebridge.state.transitions",
		metric.WithDescription("Total session lifecycle transitions by target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveParticipants, err = m.Int64UpDownCounter("pipebridge.active_participants",
		metric.WithDescription("Number of live remote audio streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pipebridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
