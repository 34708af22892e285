// Package observe provides observability primitives for the voice pipeline:
// OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter is wired up via [InitProvider] so metrics can be scraped from the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all voicelink metrics.
const meterName = "github.com/MrWong99/voicelink"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// ChunksSent counts capture chunks delivered to the remote stream.
	ChunksSent metric.Int64Counter

	// ChunksReceived counts audio chunks received from the remote stream.
	ChunksReceived metric.Int64Counter

	// ChunksDropped counts capture chunks discarded because no session was
	// ready to take them.
	ChunksDropped metric.Int64Counter

	// Interrupts counts server-initiated playback interruptions.
	Interrupts metric.Int64Counter

	// --- Error counters ---

	// SendErrors counts outbound chunks that failed to transmit.
	SendErrors metric.Int64Counter

	// DecodeErrors counts inbound chunks dropped as malformed.
	DecodeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- Histograms ---

	// SessionDuration tracks how long sessions stay connected, in seconds.
	SessionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks observability endpoint request latency,
	// in seconds.
	HTTPRequestDuration metric.Float64Histogram
}

// sessionDurationBuckets defines histogram bucket boundaries (in seconds)
// for session lifetimes, from sub-second failures up to the 15-minute
// provider cap.
var sessionDurationBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 900,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunksSent, err = m.Int64Counter("voicelink.chunks.sent",
		metric.WithDescription("Capture chunks delivered to the remote stream."),
	); err != nil {
		return nil, err
	}
	if met.ChunksReceived, err = m.Int64Counter("voicelink.chunks.received",
		metric.WithDescription("Audio chunks received from the remote stream."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voicelink.chunks.dropped",
		metric.WithDescription("Capture chunks discarded with no ready session."),
	); err != nil {
		return nil, err
	}
	if met.Interrupts, err = m.Int64Counter("voicelink.interrupts",
		metric.WithDescription("Server-initiated playback interruptions."),
	); err != nil {
		return nil, err
	}
	if met.SendErrors, err = m.Int64Counter("voicelink.errors.send",
		metric.WithDescription("Outbound chunks that failed to transmit."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("voicelink.errors.decode",
		metric.WithDescription("Inbound chunks dropped as malformed."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicelink.sessions.active",
		metric.WithDescription("Live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voicelink.sessions.duration",
		metric.WithDescription("Session lifetime from connect to teardown."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionDurationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicelink.http.request.duration",
		metric.WithDescription("Observability endpoint request latency."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] instance backed by the
// global OTel meter provider. Instruments are created lazily on first call;
// creation errors fall back to the no-op meter provider's instruments.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// Instrument creation against the no-op provider cannot fail,
			// so this keeps every field usable.
			m, _ = NewMetrics(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
