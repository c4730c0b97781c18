// Package observe provides the observability primitives shared by the
// speechcoach server and CLI: OpenTelemetry metrics and traces, trace-aware
// logging and the HTTP middleware that ties them together.
//
// Instruments live on [Metrics]. [InitProvider] installs a Prometheus-backed
// SDK and returns Metrics built on it; tests build their own with
// [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/speechcoach"

// Metrics holds the application's instruments. Safe for concurrent use.
type Metrics struct {
	// ── Upstream latency ──

	// STTDuration is batch transcription latency.
	STTDuration metric.Float64Histogram
	// LLMDuration is feedback generation latency.
	LLMDuration metric.Float64Histogram
	// AnalysisDuration covers a whole analysis request, transcription
	// included.
	AnalysisDuration metric.Float64Histogram

	// ── Providers ──

	// ProviderRequests is keyed by provider, kind (llm, stt, stream_stt)
	// and status.
	ProviderRequests metric.Int64Counter
	// ProviderErrors is keyed by provider and kind.
	ProviderErrors metric.Int64Counter

	// ── Coaching results ──

	// Analyses is keyed by outcome: ok, insufficient, fallback, error.
	Analyses metric.Int64Counter
	// FeedbackScores holds successful clarity and structure scores, keyed
	// by dimension.
	FeedbackScores metric.Int64Histogram
	// PaceVerdicts is keyed by pace.
	PaceVerdicts metric.Int64Counter
	// RealtimeItems is keyed by kind (filler, pace).
	RealtimeItems metric.Int64Counter

	// ── Practice ──

	// SessionsRecorded counts sessions written to the stats store.
	SessionsRecorded metric.Int64Counter
	// SessionDuration is the length of recorded sessions.
	SessionDuration metric.Float64Histogram
	// ActiveRecordings is the number of sessions capturing audio.
	ActiveRecordings metric.Int64UpDownCounter
	// ActiveStreams is the number of open realtime WebSocket streams.
	ActiveStreams metric.Int64UpDownCounter

	// ── HTTP ──

	// HTTPRequestDuration is keyed by method, route and status class.
	HTTPRequestDuration metric.Float64Histogram
}

// Upstream calls are bounded by the 45s client deadline.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 45}

// Sessions stop automatically after three minutes by default.
var sessionBuckets = []float64{5, 10, 30, 60, 90, 120, 180, 300}

var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// instruments creates instruments on one meter, remembering the first
// failure so construction reads as a flat list.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) seconds(name, desc string, bounds []float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(bounds...),
	)
	b.errs = append(b.errs, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}

	scores, err := b.meter.Int64Histogram("speechcoach.feedback.score",
		metric.WithDescription("Clarity and structure scores of successful analyses."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	)
	b.errs = append(b.errs, err)

	m := &Metrics{
		STTDuration:      b.seconds("speechcoach.stt.duration", "Latency of batch speech-to-text transcription.", latencyBuckets),
		LLMDuration:      b.seconds("speechcoach.llm.duration", "Latency of LLM feedback generation.", latencyBuckets),
		AnalysisDuration: b.seconds("speechcoach.analysis.duration", "End-to-end latency of one analysis request.", latencyBuckets),

		ProviderRequests: b.counter("speechcoach.provider.requests", "Provider API requests by provider, kind and status."),
		ProviderErrors:   b.counter("speechcoach.provider.errors", "Provider errors by provider and kind."),

		Analyses:       b.counter("speechcoach.analyses", "Analysis results by outcome."),
		FeedbackScores: scores,
		PaceVerdicts:   b.counter("speechcoach.feedback.pace", "Pace verdicts of successful analyses."),
		RealtimeItems:  b.counter("speechcoach.realtime.items", "Realtime feedback items by kind."),

		SessionsRecorded: b.counter("speechcoach.sessions.recorded", "Practice sessions recorded in the stats store."),
		SessionDuration:  b.seconds("speechcoach.session.duration", "Length of recorded practice sessions.", sessionBuckets),
		ActiveRecordings: b.gauge("speechcoach.active_recordings", "Practice sessions currently recording."),
		ActiveStreams:    b.gauge("speechcoach.active_streams", "Open realtime feedback streams."),

		HTTPRequestDuration: b.seconds("speechcoach.http.request.duration", "HTTP request latency by method, route and status class.", latencyBuckets),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider on first use. It panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}

// RecordAnalysis counts one analysis result.
func (m *Metrics) RecordAnalysis(ctx context.Context, outcome string) {
	m.Analyses.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordFeedback records the scores and pace of a successful analysis.
func (m *Metrics) RecordFeedback(ctx context.Context, clarity, structure int, pace string) {
	m.FeedbackScores.Record(ctx, int64(clarity), metric.WithAttributes(Attr("dimension", "clarity")))
	m.FeedbackScores.Record(ctx, int64(structure), metric.WithAttributes(Attr("dimension", "structure")))
	m.PaceVerdicts.Add(ctx, 1, metric.WithAttributes(Attr("pace", pace)))
}

// RecordRealtimeItem counts one realtime feedback item.
func (m *Metrics) RecordRealtimeItem(ctx context.Context, kind string) {
	m.RealtimeItems.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordSession counts one stored practice session of the given length.
func (m *Metrics) RecordSession(ctx context.Context, seconds float64) {
	m.SessionsRecorded.Add(ctx, 1)
	m.SessionDuration.Record(ctx, seconds)
}
