package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/speechcoach/internal/observe"
)

// ErrAllFailed is returned when every provider in a [FallbackGroup] failed
// or was skipped because its breaker was open.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each entry's breaker. Name is
	// replaced with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels metrics, e.g. "llm" or "stt".
	Kind string

	// Metrics, when set, receives a request count and duration per attempt
	// and an error count per failed attempt.
	Metrics *observe.Metrics
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary provider and its fallbacks, each behind its
// own breaker. Entries are added during setup; the group must not be
// modified once calls are in flight.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a provider tried after every earlier entry.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// EntryStatus describes one provider of a group.
type EntryStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Status lists the entries in try order with their breaker states.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryStatus{Name: e.name, State: e.breaker.State().String()}
	}
	return out
}

// Primary returns the first entry's provider.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.entries[0].value
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry in order until one succeeds.
// Entries with an open breaker are skipped. Once ctx is done no further
// entries are tried and the context error is returned. When every entry
// fails the result wraps [ErrAllFailed] and the last provider error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]

		var result R
		start := time.Now()
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", entry.name, "kind", fg.cfg.Kind)
			lastErr = err
			continue
		}
		fg.observe(ctx, entry.name, time.Since(start), err)
		if err == nil {
			if i > 0 {
				slog.Info("resilience: served by fallback", "provider", entry.name, "kind", fg.cfg.Kind)
			}
			return result, nil
		}
		if errors.Is(err, context.Canceled) {
			return zero, err
		}
		lastErr = err
		slog.Warn("resilience: provider failed, trying next", "provider", entry.name, "kind", fg.cfg.Kind, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) observe(ctx context.Context, provider string, d time.Duration, err error) {
	m := fg.cfg.Metrics
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, fg.cfg.Kind)
	}
	m.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
	switch fg.cfg.Kind {
	case "llm":
		m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(observe.Attr("provider", provider)))
	case "stt":
		m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(observe.Attr("provider", provider)))
	}
}
