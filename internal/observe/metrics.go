// Package observe provides application-wide observability primitives for
// Voxtide: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxtide metrics.
const meterName = "github.com/voxtide/voxtide"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Pipeline counters ---

	// CapturedFrames counts microphone frames forwarded to the session.
	CapturedFrames metric.Int64Counter

	// ScheduledChunks counts synthesised audio chunks placed on the
	// playback timeline.
	ScheduledChunks metric.Int64Counter

	// Interruptions counts playback flushes triggered by the model
	// interrupting its own speech.
	Interruptions metric.Int64Counter

	// DecodeFailures counts inbound audio payloads that could not be
	// decoded and were dropped.
	DecodeFailures metric.Int64Counter

	// CompletedTurns counts conversation turns folded into the transcript.
	CompletedTurns metric.Int64Counter

	// --- Histograms ---

	// SchedulerLag tracks how far ahead of the output clock each chunk is
	// scheduled to start. Sustained near-zero values mean the stream is
	// barely keeping up; growing values mean the model is producing audio
	// faster than realtime.
	SchedulerLag metric.Float64Histogram

	// ConnectDuration tracks how long session establishment takes, from
	// start request to open acknowledgment.
	ConnectDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions. With the
	// single-session invariant this is 0 or 1; the gauge form keeps the
	// door open for multi-session deployments.
	ActiveSessions metric.Int64UpDownCounter

	// --- Error counters ---

	// SessionErrors counts session failures. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// lagBuckets defines histogram bucket boundaries (in seconds) sized for
// playback scheduling lead times and connect latencies.
var lagBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.CapturedFrames, err = m.Int64Counter("voxtide.capture.frames",
		metric.WithDescription("Total microphone frames forwarded to the session."),
	); err != nil {
		return nil, err
	}
	if met.ScheduledChunks, err = m.Int64Counter("voxtide.playback.chunks",
		metric.WithDescription("Total audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxtide.playback.interruptions",
		metric.WithDescription("Total playback flushes caused by model interruptions."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("voxtide.playback.decode_failures",
		metric.WithDescription("Total inbound audio payloads dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.CompletedTurns, err = m.Int64Counter("voxtide.transcript.turns",
		metric.WithDescription("Total conversation turns appended to the transcript."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SchedulerLag, err = m.Float64Histogram("voxtide.playback.scheduler_lag",
		metric.WithDescription("Lead time between a chunk's scheduled start and the output clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lagBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voxtide.session.connect.duration",
		metric.WithDescription("Latency of session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lagBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxtide.session.active",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionErrors, err = m.Int64Counter("voxtide.session.errors",
		metric.WithDescription("Total session failures by kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxtide.http.request.duration",
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

// The convenience recorders below are nil-safe so pipeline code can run
// without metrics wired, as in most unit tests.

// RecordCapturedFrame increments the captured-frame counter.
func (m *Metrics) RecordCapturedFrame(ctx context.Context) {
	if m == nil {
		return
	}
	m.CapturedFrames.Add(ctx, 1)
}

// RecordScheduledChunk increments the scheduled-chunk counter and records
// the chunk's scheduling lead time.
func (m *Metrics) RecordScheduledChunk(ctx context.Context, lag time.Duration) {
	if m == nil {
		return
	}
	m.ScheduledChunks.Add(ctx, 1)
	m.SchedulerLag.Record(ctx, lag.Seconds())
}

// RecordInterruption increments the interruption counter.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	if m == nil {
		return
	}
	m.Interruptions.Add(ctx, 1)
}

// RecordDecodeFailure increments the decode-failure counter.
func (m *Metrics) RecordDecodeFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.DecodeFailures.Add(ctx, 1)
}

// RecordTurnComplete increments the completed-turn counter.
func (m *Metrics) RecordTurnComplete(ctx context.Context) {
	if m == nil {
		return
	}
	m.CompletedTurns.Add(ctx, 1)
}

// RecordSessionError increments the session error counter with the given
// error kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SessionStarted marks a session as live and records its connect latency.
func (m *Metrics) SessionStarted(ctx context.Context, connectTime time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
	m.ConnectDuration.Record(ctx, connectTime.Seconds())
}

// SessionEnded marks a session as torn down.
func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
