// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by
// [MetricsHandler]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/MrWong99/earshot"

// Outcome and status attribute values shared by the pipeline.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusError   = "error"

	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeExhausted = "exhausted"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Resilience ---

	// DecodeFaults counts inbound packets replaced by silence.
	DecodeFaults metric.Int64Counter

	// Reconnects counts reconnect attempts. Use with attribute:
	//   attribute.String("outcome", ...)
	Reconnects metric.Int64Counter

	// RecognizerFaults counts forced recognizer resets. Use with attribute:
	//   attribute.String("engine", ...)
	RecognizerFaults metric.Int64Counter

	// --- Recognition and matching ---

	// Transcripts counts finalized transcripts delivered to the matcher.
	Transcripts metric.Int64Counter

	// RecognitionDuration tracks buffered transcription latency.
	RecognitionDuration metric.Float64Histogram

	// TriggersMatched counts sounds selected by the trigger matcher.
	TriggersMatched metric.Int64Counter

	// --- Playback ---

	// Playback counts finished playback requests. Use with attribute:
	//   attribute.String("status", ...)
	Playback metric.Int64Counter

	// PlaybackDuration tracks how long each sound played.
	PlaybackDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of guilds with a voice session.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks pending playback requests across all guilds.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.DecodeFaults, err = m.Int64Counter("earshot.decode_faults",
		metric.WithDescription("Inbound audio packets that failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("earshot.reconnects",
		metric.WithDescription("Voice reconnect attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerFaults, err = m.Int64Counter("earshot.recognizer_faults",
		metric.WithDescription("Forced recognizer resets by engine."),
	); err != nil {
		return nil, err
	}
	if met.Transcripts, err = m.Int64Counter("earshot.transcripts",
		metric.WithDescription("Finalized transcripts by engine."),
	); err != nil {
		return nil, err
	}
	if met.TriggersMatched, err = m.Int64Counter("earshot.triggers_matched",
		metric.WithDescription("Sounds selected by trigger matching."),
	); err != nil {
		return nil, err
	}
	if met.Playback, err = m.Int64Counter("earshot.playback",
		metric.WithDescription("Finished playback requests by status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.PlaybackDuration, err = m.Float64Histogram("earshot.playback.duration",
		metric.WithDescription("Wall time spent playing one sound."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("earshot.recognition.duration",
		metric.WithDescription("Latency of one buffered transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("earshot.active_sessions",
		metric.WithDescription("Number of guilds with a live voice session."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("earshot.queue_depth",
		metric.WithDescription("Pending playback requests across all guilds."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordReconnect counts one reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, outcome string) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRecognizerFault counts one forced recognizer reset.
func (m *Metrics) RecordRecognizerFault(ctx context.Context, engine string) {
	m.RecognizerFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordTranscript counts one finalized transcript.
func (m *Metrics) RecordTranscript(ctx context.Context, engine string) {
	m.Transcripts.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordRecognition records the latency of one transcription call.
func (m *Metrics) RecordRecognition(ctx context.Context, engine string, d time.Duration) {
	m.RecognitionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordPlayback counts one finished playback and records how long it ran.
func (m *Metrics) RecordPlayback(ctx context.Context, status string, d time.Duration) {
	m.Playback.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.PlaybackDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
