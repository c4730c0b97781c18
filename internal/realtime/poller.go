package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/speechcoach/internal/observe"
)

// Default poller settings.
const (
	DefaultInterval = 4 * time.Second
	DefaultMinWords = 2
)

// Poller periodically takes the words a [Tracker] has accumulated since the
// previous pass and emits feedback for them. A pass that sees no more than
// the minimum word count leaves the words in place for the next pass.
type Poller struct {
	tracker  *Tracker
	interval time.Duration
	minWords int
	now      func() time.Time
	metrics  *observe.Metrics

	items    chan []Item
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	started  bool
	lastPass time.Time
	mu       sync.Mutex
}

// PollerOption configures a [Poller].
type PollerOption func(*Poller)

// WithInterval sets the time between passes.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMinWords sets the word count a pass must exceed to produce feedback.
func WithMinWords(n int) PollerOption {
	return func(p *Poller) {
		if n >= 0 {
			p.minWords = n
		}
	}
}

// WithPollerClock replaces time.Now for pace calculations.
func WithPollerClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

// WithPollerMetrics counts emitted items on m.
func WithPollerMetrics(m *observe.Metrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// NewPoller returns a Poller reading from tracker. Call [Poller.Start] to
// begin ticking.
func NewPoller(tracker *Tracker, opts ...PollerOption) *Poller {
	p := &Poller{
		tracker:  tracker,
		interval: DefaultInterval,
		minWords: DefaultMinWords,
		now:      time.Now,
		items:    make(chan []Item, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Items delivers the non-empty result of every pass. It is closed after
// [Poller.Stop] returns.
func (p *Poller) Items() <-chan []Item {
	return p.items
}

// Start launches the ticking goroutine. It stops when ctx is cancelled or
// Stop is called. Start may be called at most once.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.lastPass = p.now()
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			items := p.Poll(ctx)
			if len(items) == 0 {
				continue
			}
			select {
			case p.items <- items:
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			default:
				slog.Debug("realtime: consumer lagging, dropping items", "count", len(items))
			}
		}
	}
}

// Poll runs a single pass immediately and returns its items. It is what
// each tick calls and may also be invoked directly.
func (p *Poller) Poll(ctx context.Context) []Item {
	words, ok := p.tracker.Take(p.minWords)
	if !ok {
		return nil
	}

	p.mu.Lock()
	now := p.now()
	elapsed := now.Sub(p.lastPass)
	p.lastPass = now
	p.mu.Unlock()

	items := Evaluate(words, elapsed)
	if p.metrics != nil {
		for _, it := range items {
			p.metrics.RecordRealtimeItem(ctx, string(it.Kind))
		}
	}
	return items
}

// Stop halts the ticker, waits for the goroutine to exit and closes the
// items channel. It is idempotent and safe to call without Start.
func (p *Poller) Stop() {
	p.once.Do(func() {
		close(p.stop)
		p.mu.Lock()
		started := p.started
		p.started = true
		p.mu.Unlock()
		if started {
			<-p.done
		}
		close(p.items)
	})
}
