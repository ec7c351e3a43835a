// Package observe provides observability primitives for Lucy: OpenTelemetry
// metrics, tracing helpers, and HTTP middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so metrics can be scraped
// from the standard /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
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

// meterName is the instrumentation scope name used for all Lucy metrics.
const meterName = "github.com/IcedCoffeeDrinker/Lucy"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// DecisionDuration tracks speak/stay-silent decision latency.
	DecisionDuration metric.Float64Histogram

	// ResponseDuration tracks reply-composition latency.
	ResponseDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// --- Counters ---

	// FramesIn counts inbound media frames across all sessions.
	FramesIn metric.Int64Counter

	// FramesOut counts outbound media frames across all sessions.
	FramesOut metric.Int64Counter

	// Utterances counts completed spoken responses. Use with attribute:
	//   attribute.String("kind", "reply"|"injected")
	Utterances metric.Int64Counter

	// PartialTranscripts counts interim recognition results (diagnostics only;
	// partials are never buffered).
	PartialTranscripts metric.Int64Counter

	// MalformedEvents counts unparseable wire messages that were skipped.
	MalformedEvents metric.Int64Counter

	// InjectionRejections counts rejected injection pushes. Use with attribute:
	//   attribute.String("reason", "not_found"|"queue_full"|"closed")
	InjectionRejections metric.Int64Counter

	// ServiceErrors counts failed external-service rounds. Use with attribute:
	//   attribute.String("service", "decision"|"response"|"synthesis"|"stt")
	ServiceErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DecisionDuration, err = m.Float64Histogram("lucy.decision.duration",
		metric.WithDescription("Latency of the speak/stay-silent decision call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseDuration, err = m.Float64Histogram("lucy.response.duration",
		metric.WithDescription("Latency of reply composition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("lucy.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesIn, err = m.Int64Counter("lucy.frames.in",
		metric.WithDescription("Total inbound media frames."),
	); err != nil {
		return nil, err
	}
	if met.FramesOut, err = m.Int64Counter("lucy.frames.out",
		metric.WithDescription("Total outbound media frames."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("lucy.utterances",
		metric.WithDescription("Completed spoken responses by kind."),
	); err != nil {
		return nil, err
	}
	if met.PartialTranscripts, err = m.Int64Counter("lucy.transcripts.partial",
		metric.WithDescription("Interim recognition results received."),
	); err != nil {
		return nil, err
	}
	if met.MalformedEvents, err = m.Int64Counter("lucy.wire.malformed",
		metric.WithDescription("Unparseable wire messages skipped."),
	); err != nil {
		return nil, err
	}
	if met.InjectionRejections, err = m.Int64Counter("lucy.injection.rejections",
		metric.WithDescription("Rejected injection pushes by reason."),
	); err != nil {
		return nil, err
	}
	if met.ServiceErrors, err = m.Int64Counter("lucy.service.errors",
		metric.WithDescription("Failed external-service rounds by service."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("lucy.active_sessions",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lucy.http.request.duration",
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

// RecordDecision records a decision-call latency with its outcome
// ("speak", "silent", or "error").
func (m *Metrics) RecordDecision(ctx context.Context, d time.Duration, outcome string) {
	m.DecisionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordResponse records a reply-composition latency with its outcome
// ("ok" or "error").
func (m *Metrics) RecordResponse(ctx context.Context, d time.Duration, outcome string) {
	m.ResponseDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSynthesis records a synthesis latency with its outcome
// ("ok" or "error").
func (m *Metrics) RecordSynthesis(ctx context.Context, d time.Duration, outcome string) {
	m.SynthesisDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordUtterance counts one completed spoken response of the given kind
// ("reply" or "injected").
func (m *Metrics) RecordUtterance(ctx context.Context, kind string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordInjectionRejection counts one rejected injection push by reason.
func (m *Metrics) RecordInjectionRejection(ctx context.Context, reason string) {
	m.InjectionRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordServiceError counts one failed external-service round.
func (m *Metrics) RecordServiceError(ctx context.Context, service string) {
	m.ServiceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

// SessionOpened increments the active-session gauge.
func (m *Metrics) SessionOpened(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the active-session gauge.
func (m *Metrics) SessionClosed(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}
