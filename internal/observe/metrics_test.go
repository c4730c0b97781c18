package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// sumsBy returns the int64 sum of metric name keyed by the value of attr.
func sumsBy(t *testing.T, rm metricdata.ResourceMetrics, name, attr string) map[string]int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	out := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(attr))
		out[v.AsString()] += dp.Value
	}
	return out
}

func TestNewMetrics_AllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.STTDuration == nil || m.FeedbackScores == nil || m.SessionDuration == nil || m.HTTPRequestDuration == nil {
		t.Fatalf("instruments missing: %+v", m)
	}
}

func TestRecordAnalysis(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for _, outcome := range []string{"ok", "insufficient", "ok", "fallback"} {
		m.RecordAnalysis(ctx, outcome)
	}

	got := sumsBy(t, collect(t, reader), "speechcoach.analyses", "outcome")
	want := map[string]int64{"ok": 2, "insufficient": 1, "fallback": 1}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("analyses[%s] = %d, want %d", k, got[k], v)
		}
	}
}

func TestRecordFeedback(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFeedback(ctx, 82, 74, "good")
	m.RecordFeedback(ctx, 45, 60, "too fast")
	rm := collect(t, reader)

	met := findMetric(rm, "speechcoach.feedback.score")
	if met == nil {
		t.Fatal("score histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[int64])
	if !ok {
		t.Fatalf("score metric is %T", met.Data)
	}
	sums := map[string]int64{}
	for _, dp := range hist.DataPoints {
		v, _ := dp.Attributes.Value("dimension")
		sums[v.AsString()] += dp.Sum
		if dp.Count != 2 {
			t.Errorf("%s count = %d, want 2", v.AsString(), dp.Count)
		}
	}
	if sums["clarity"] != 127 || sums["structure"] != 134 {
		t.Errorf("score sums = %v, want clarity 127 structure 134", sums)
	}

	pace := sumsBy(t, rm, "speechcoach.feedback.pace", "pace")
	if pace["good"] != 1 || pace["too fast"] != 1 {
		t.Errorf("pace verdicts = %v", pace)
	}
}

func TestRecordSession(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSession(ctx, 95)
	m.RecordSession(ctx, 12.5)
	rm := collect(t, reader)

	if got := sumsBy(t, rm, "speechcoach.sessions.recorded", "none")[""]; got != 2 {
		t.Errorf("sessions recorded = %d, want 2", got)
	}
	met := findMetric(rm, "speechcoach.session.duration")
	if met == nil {
		t.Fatal("session duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 107.5 {
		t.Errorf("session duration points = %+v, want sum 107.5", hist.DataPoints)
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "groq", "stt", "error")
	m.RecordProviderError(ctx, "groq", "stt")
	rm := collect(t, reader)

	if got := sumsBy(t, rm, "speechcoach.provider.requests", "status"); got["ok"] != 2 || got["error"] != 1 {
		t.Errorf("requests by status = %v", got)
	}
	if got := sumsBy(t, rm, "speechcoach.provider.errors", "provider"); got["groq"] != 1 {
		t.Errorf("errors by provider = %v", got)
	}
}

func TestRealtimeAndGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRealtimeItem(ctx, "filler")
	m.RecordRealtimeItem(ctx, "filler")
	m.RecordRealtimeItem(ctx, "pace")
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)
	m.ActiveStreams.Add(ctx, 3)
	rm := collect(t, reader)

	if got := sumsBy(t, rm, "speechcoach.realtime.items", "kind"); got["filler"] != 2 || got["pace"] != 1 {
		t.Errorf("realtime items = %v", got)
	}
	if got := sumsBy(t, rm, "speechcoach.active_recordings", "none")[""]; got != 1 {
		t.Errorf("active recordings = %d, want 1", got)
	}
	if got := sumsBy(t, rm, "speechcoach.active_streams", "none")[""]; got != 3 {
		t.Errorf("active streams = %d, want 3", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
