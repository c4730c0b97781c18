package resilience

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/speechcoach/internal/observe"
)

type namedBackend struct {
	name  string
	err   error
	calls int
}

func (b *namedBackend) call() (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return b.name, nil
}

func callBackend(b *namedBackend) (string, error) { return b.call() }

func TestExecuteWithResult_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		primary   error
		secondary error
		want      string
		wantErr   error
	}{
		{name: "primary serves", want: "primary"},
		{name: "fails over", primary: errUpstream, want: "secondary"},
		{name: "all fail", primary: errUpstream, secondary: errors.New("bad gateway"), wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &namedBackend{name: "primary", err: tt.primary}
			secondary := &namedBackend{name: "secondary", err: tt.secondary}
			fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
			fg.AddFallback("secondary", secondary)

			got, err := ExecuteWithResult(context.Background(), fg, callBackend)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if !errors.Is(err, tt.secondary) {
					t.Errorf("err = %v, want it to wrap the last provider error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("served by %q, want %q", got, tt.want)
			}
			if tt.primary == nil && secondary.calls != 0 {
				t.Error("secondary called although primary succeeded")
			}
		})
	}
}

func TestExecuteWithResult_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	primary := &namedBackend{name: "primary", err: errUpstream}
	secondary := &namedBackend{name: "secondary"}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fg.AddFallback("secondary", secondary)

	for range 3 {
		if _, err := ExecuteWithResult(context.Background(), fg, callBackend); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1 before its breaker opened", primary.calls)
	}
	status := fg.Status()
	if status[0].State != "open" || status[1].State != "closed" {
		t.Errorf("status = %+v", status)
	}
}

func TestExecuteWithResult_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	primary := &namedBackend{name: "primary"}
	secondary := &namedBackend{name: "secondary"}
	fg := NewFallbackGroup(primary, "primary", FallbackConfig{})
	fg.AddFallback("secondary", secondary)

	_, err := ExecuteWithResult(ctx, fg, func(b *namedBackend) (string, error) {
		b.calls++
		cancel()
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if secondary.calls != 0 {
		t.Error("fallback tried after caller cancelled")
	}
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(&namedBackend{err: errUpstream}, "primary", FallbackConfig{})
	fg.AddFallback("secondary", &namedBackend{})
	if err := fg.Execute(context.Background(), func(b *namedBackend) error { _, err := b.call(); return err }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fg.Primary().err == nil {
		t.Error("Primary() returned the wrong entry")
	}
}

func TestFallbackGroup_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	fg := NewFallbackGroup(&namedBackend{err: errUpstream}, "openai", FallbackConfig{Kind: "llm", Metrics: m})
	fg.AddFallback("anthropic", &namedBackend{name: "anthropic"})

	if _, err := ExecuteWithResult(context.Background(), fg, callBackend); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					counts[md.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					counts[md.Name] += int64(dp.Count)
				}
			}
		}
	}
	if counts["speechcoach.provider.requests"] != 2 {
		t.Errorf("provider requests = %d, want 2", counts["speechcoach.provider.requests"])
	}
	if counts["speechcoach.provider.errors"] != 1 {
		t.Errorf("provider errors = %d, want 1", counts["speechcoach.provider.errors"])
	}
	if counts["speechcoach.llm.duration"] != 2 {
		t.Errorf("llm duration samples = %d, want 2", counts["speechcoach.llm.duration"])
	}
}
