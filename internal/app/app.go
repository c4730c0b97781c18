// Package app wires the analysis server: statistics storage, the analyze
// endpoint, realtime feedback, progress tracking, health checks and
// metrics.
//
// New builds every subsystem, Run serves HTTP until the context ends and
// Shutdown releases storage. Tests inject a repository or metrics through
// the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speechcoach/internal/analysis"
	"github.com/MrWong99/speechcoach/internal/config"
	"github.com/MrWong99/speechcoach/internal/health"
	"github.com/MrWong99/speechcoach/internal/kv"
	"github.com/MrWong99/speechcoach/internal/kv/postgres"
	"github.com/MrWong99/speechcoach/internal/kv/sqlite"
	"github.com/MrWong99/speechcoach/internal/observe"
	"github.com/MrWong99/speechcoach/internal/progress"
	"github.com/MrWong99/speechcoach/internal/realtime"
	"github.com/MrWong99/speechcoach/pkg/provider/llm"
	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

// shutdownGrace bounds in-flight requests once Run's context ends.
const shutdownGrace = 10 * time.Second

// Providers holds one value per provider slot. Nil means not configured.
type Providers struct {
	LLM       llm.Provider
	STT       stt.Transcriber
	StreamSTT stt.StreamProvider
}

// App owns the server's subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers

	repo     kv.Repository
	metrics  *observe.Metrics
	level    *slog.LevelVar
	stats    *progress.Store
	analyzer *analysis.Analyzer
	health   *health.Handler
	handler  http.Handler

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithRepository injects the statistics repository instead of opening the
// configured backend.
func WithRepository(r kv.Repository) Option {
	return func(a *App) { a.repo = r }
}

// WithMetrics injects the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets [App.ApplyConfig] adjust the level of the process
// logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. providers may be nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	a.stats = progress.NewStore(a.repo, progress.WithMetrics(a.metrics))

	aopts := []analysis.Option{
		analysis.WithMinTranscriptChars(cfg.Analysis.MinTranscriptChars),
		analysis.WithTemperature(cfg.Analysis.Temperature),
		analysis.WithMetrics(a.metrics),
	}
	if providers.STT != nil {
		aopts = append(aopts, analysis.WithTranscriber(providers.STT))
	}
	a.analyzer = analysis.New(providers.LLM, aopts...)

	a.health = health.New(
		health.Storage(a.repo),
		health.Configured("llm", providers.LLM != nil, errors.New("no language model configured")),
		health.Configured("stt", providers.STT != nil, errors.New("no transcriber configured")),
	)

	a.handler = a.routes()
	return a, nil
}

// initStorage opens the configured statistics backend unless one was
// injected.
func (a *App) initStorage(ctx context.Context) error {
	if a.repo != nil {
		return nil
	}
	repo, closeFn, err := OpenRepository(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	a.repo = repo
	a.closers = append(a.closers, closeFn)
	return nil
}

// OpenRepository opens the statistics backend selected by cfg. The returned
// function releases it.
func OpenRepository(ctx context.Context, cfg config.StorageConfig) (kv.Repository, func() error, error) {
	var (
		repo    kv.Repository
		closeFn = func() error { return nil }
	)
	switch cfg.Driver {
	case config.StorageSQLite:
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		repo, closeFn = s, s.Close
	case config.StoragePostgres:
		s, pool, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		repo = s
		closeFn = func() error {
			pool.Close()
			return nil
		}
	default:
		repo = kv.NewMemory()
	}
	slog.Debug("statistics storage ready", "driver", cfg.Driver)
	return repo, closeFn, nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	analysis.NewHandler(a.analyzer, a.cfg.Analysis.MaxBodyBytes).Register(mux)
	realtime.NewHandler(a.cfg.Practice.RealtimeMinWords, a.metrics).Register(mux)
	progress.NewHandler(a.stats).Register(mux)
	a.health.Register(mux)
	if !a.cfg.Observability.DisableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Stats returns the progress store backed by the configured repository.
func (a *App) Stats() *progress.Store { return a.stats }

// Analyzer returns the analysis pipeline.
func (a *App) Analyzer() *analysis.Analyzer { return a.analyzer }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled, then
// drains in-flight requests. It returns nil on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("listening", "addr", srv.Addr, "tls", true)
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("app: shutdown server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of r. It is the
// [config.Watcher] reload callback.
func (a *App) ApplyConfig(r config.Reload) {
	d := r.Diff
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelOf(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AnalysisChanged {
		a.analyzer.SetTuning(r.New.Analysis.MinTranscriptChars, r.New.Analysis.Temperature)
		slog.Info("analysis tuning changed",
			"min_transcript_chars", r.New.Analysis.MinTranscriptChars,
			"temperature", r.New.Analysis.Temperature,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// LevelOf maps a configured log level to its slog level.
func LevelOf(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases storage. Remaining closers are skipped once ctx
// expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
