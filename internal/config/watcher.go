package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher] polls the config file.
const DefaultWatchInterval = 5 * time.Second

// Reload is one accepted configuration change.
type Reload struct {
	Old  *Config
	New  *Config
	Diff ConfigDiff
}

// Watcher polls a config file and hands accepted changes to a callback.
// Invalid files are rejected and the last good config stays current. Edits
// that do not change any setting the server compares (comments, formatting,
// provider option maps) are adopted without a callback.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(Reload)

	mu       sync.Mutex
	current  *Config
	mtime    time.Time
	sum      [sha256.Size]byte
	rejected [sha256.Size]byte
	missing  bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and polls it until ctx is cancelled or Stop is
// called. onReload may be nil.
func NewWatcher(ctx context.Context, path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.sum, w.mtime = cfg, sum, mtime

	go w.run(ctx)
	return w, nil
}

// Current returns the last accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed once the polling goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if r, ok := w.check(); ok && w.onReload != nil {
				w.onReload(r)
			}
		}
	}
}

// check reports a reload when the file holds a new, valid config whose
// comparable settings differ from the current one.
func (w *Watcher) check() (Reload, bool) {
	info, err := os.Stat(w.path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		if !w.missing {
			slog.Warn("config: watched file unavailable, keeping current settings", "path", w.path, "err", err)
			w.missing = true
		}
		return Reload{}, false
	}
	w.missing = false
	if info.ModTime().Equal(w.mtime) {
		return Reload{}, false
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		slog.Warn("config: read watched file", "path", w.path, "err", err)
		return Reload{}, false
	}
	sum := sha256.Sum256(data)
	w.mtime = info.ModTime()
	if sum == w.sum || sum == w.rejected {
		return Reload{}, false
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		// Logged once per distinct bad file.
		w.rejected = sum
		slog.Warn("config: rejected edited file, keeping current settings", "path", w.path, "err", err)
		return Reload{}, false
	}

	old := w.current
	w.current, w.sum = cfg, sum
	d := Diff(old, cfg)
	if !d.Changed() {
		slog.Debug("config: file edited without effective changes", "path", w.path)
		return Reload{}, false
	}
	slog.Info("config: reloaded", "path", w.path, "restart_required", d.RestartRequired)
	return Reload{Old: old, New: cfg, Diff: d}, true
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
