package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speechcoach/internal/analysis"
	"github.com/MrWong99/speechcoach/internal/analysis/client"
	"github.com/MrWong99/speechcoach/internal/observe"
	"github.com/MrWong99/speechcoach/internal/progress"
	"github.com/MrWong99/speechcoach/internal/realtime"
	"github.com/MrWong99/speechcoach/pkg/audio"
	"github.com/MrWong99/speechcoach/pkg/culture"
	"github.com/MrWong99/speechcoach/pkg/feedback"
	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

// Analyzer scores a finished recording. [client.Client] implements it.
type Analyzer interface {
	Analyze(ctx context.Context, clip audio.Clip, transcript string, c culture.Context) (*analysis.Response, error)
}

// StatsRecorder persists a completed session. [progress.Store] implements
// it.
type StatsRecorder interface {
	RecordSession(ctx context.Context, profile string, seconds float64) (progress.Stats, error)
}

// Defaults.
const (
	DefaultMaxDuration = 3 * time.Minute
	DefaultLanguage    = "en-US"
	DefaultProfile     = "default"
)

// Config holds per-session settings. Zero fields take defaults.
type Config struct {
	Profile          string
	Culture          culture.Context
	Language         string
	MaxDuration      time.Duration
	ChunkInterval    time.Duration
	RealtimeInterval time.Duration
	RealtimeMinWords int
	Format           audio.Format
}

func (c *Config) applyDefaults() {
	if c.Profile == "" {
		c.Profile = DefaultProfile
	}
	if c.Culture == "" {
		c.Culture = culture.General
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = audio.DefaultChunkInterval
	}
	if c.RealtimeInterval <= 0 {
		c.RealtimeInterval = realtime.DefaultInterval
	}
	if c.RealtimeMinWords <= 0 {
		c.RealtimeMinWords = realtime.DefaultMinWords
	}
	if c.Format == (audio.Format{}) {
		c.Format = audio.SpeechFormat
	}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID             string
	State          State
	Transcript     string
	Preview        string
	Feedback       *feedback.SpeechFeedback
	Err            error
	RecognitionErr error
	Elapsed        time.Duration
	Stats          *progress.Stats
}

// Session coordinates one recording at a time.
type Session struct {
	dev      audio.Device
	streams  stt.StreamProvider
	analyzer Analyzer
	stats    StatsRecorder
	metrics  *observe.Metrics
	cfg      Config
	now      func() time.Time

	mu             sync.Mutex
	id             string
	state          State
	transcript     string
	fb             *feedback.SpeechFeedback
	err            error
	recognitionErr error
	startedAt      time.Time
	elapsed        time.Duration
	result         *progress.Stats
	baseCtx        context.Context
	starting       bool

	recorder   *audio.Recorder
	recognizer *Recognizer
	poller     *realtime.Poller
	timer      *time.Timer
	fwdStop    chan struct{}
	forwarders sync.WaitGroup

	notifyMu    sync.Mutex
	stateObs    []func(State)
	realtimeObs []func([]realtime.Item)
}

// Option configures a [Session].
type Option func(*Session)

// WithStreamProvider enables live transcription.
func WithStreamProvider(p stt.StreamProvider) Option {
	return func(s *Session) { s.streams = p }
}

// WithStatsRecorder records completed sessions.
func WithStatsRecorder(r StatsRecorder) Option {
	return func(s *Session) { s.stats = r }
}

// WithMetrics tracks active recordings and realtime items on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock replaces time.Now for elapsed-time tracking.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession returns an idle Session capturing from dev and scoring with
// analyzer.
func NewSession(dev audio.Device, analyzer Analyzer, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		dev:      dev,
		analyzer: analyzer,
		cfg:      cfg,
		now:      time.Now,
		state:    StateIdle,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnStateChange registers fn to be called after every state change. Calls
// are serialized.
func (s *Session) OnStateChange(fn func(State)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.stateObs = append(s.stateObs, fn)
}

// OnRealtimeFeedback registers fn to receive realtime hints while recording.
func (s *Session) OnRealtimeFeedback(fn func([]realtime.Item)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.realtimeObs = append(s.realtimeObs, fn)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current session data.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:             s.id,
		State:          s.state,
		Transcript:     s.transcript,
		Err:            s.err,
		RecognitionErr: s.recognitionErr,
		Elapsed:        s.elapsed,
		Stats:          s.result,
	}
	if s.fb != nil {
		fb := s.fb.Clone()
		snap.Feedback = &fb
	}
	if s.state == StateRecording {
		snap.Elapsed = s.now().Sub(s.startedAt)
		if s.recognizer != nil {
			snap.Preview = s.recognizer.Preview()
			snap.Transcript = s.recognizer.Transcript()
		}
	}
	return snap
}

// setState moves to next. Must be called with s.mu held; the returned
// function notifies observers and must be called after unlocking.
func (s *Session) setState(next State) (func(), error) {
	if !CanTransition(s.state, next) {
		return func() {}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
	}
	prev := s.state
	s.state = next
	slog.Debug("practice: state change", "session", s.id, "from", prev, "to", next)
	return func() { s.notifyState(next) }, nil
}

func (s *Session) notifyState(st State) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, fn := range s.stateObs {
		fn(st)
	}
}

func (s *Session) notifyRealtime(items []realtime.Item) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, fn := range s.realtimeObs {
		fn(items)
	}
}

// Start begins a new recording. It is allowed from idle, complete and
// error; previous results are cleared. The recorder and the live
// transcriber start concurrently. A microphone failure moves the session
// to error and is returned as a *audio.MicrophoneError; a transcription
// failure is only recorded in the snapshot. Only one Start runs at a time;
// a concurrent call returns [ErrInvalidTransition].
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.starting {
		s.mu.Unlock()
		return fmt.Errorf("%w: start already in progress", ErrInvalidTransition)
	}
	switch s.state {
	case StateIdle, StateComplete, StateError:
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, st)
	}
	// Reserved until the session is recording or has failed to start.
	s.starting = true
	if s.state != StateIdle {
		notify, err := s.setState(StateIdle)
		if err != nil {
			s.starting = false
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()
		notify()
		s.mu.Lock()
	}

	s.id = uuid.NewString()
	s.transcript = ""
	s.fb = nil
	s.err = nil
	s.recognitionErr = nil
	s.elapsed = 0
	s.result = nil
	s.baseCtx = ctx

	tracker := &realtime.Tracker{}
	recognizer := NewRecognizer(s.streams, stt.StreamConfig{
		SampleRate: s.cfg.Format.SampleRate,
		Channels:   s.cfg.Format.Channels,
		Language:   s.cfg.Language,
	}, tracker)
	recorder := audio.NewRecorder(s.dev,
		audio.WithFormat(s.cfg.Format),
		audio.WithChunkInterval(s.cfg.ChunkInterval),
		audio.WithTap(recognizer.Feed),
	)
	id := s.id
	s.mu.Unlock()

	log := slog.With("session", id, "profile", s.cfg.Profile)

	var g errgroup.Group
	g.Go(func() error { return recorder.Start(ctx) })
	g.Go(func() error {
		_ = recognizer.Start(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		recognizer.Stop()
		log.Warn("practice: could not start recording", "err", err)
		s.mu.Lock()
		s.starting = false
		s.err = err
		fb := feedback.Fallback()
		s.fb = &fb
		notify, serr := s.setState(StateError)
		s.mu.Unlock()
		if serr != nil {
			return errors.Join(err, serr)
		}
		notify()
		return err
	}

	poller := realtime.NewPoller(tracker,
		realtime.WithInterval(s.cfg.RealtimeInterval),
		realtime.WithMinWords(s.cfg.RealtimeMinWords),
		realtime.WithPollerMetrics(s.metrics),
	)

	s.mu.Lock()
	s.starting = false
	notify, err := s.setState(StateRecording)
	if err != nil {
		s.mu.Unlock()
		_, _ = recorder.Stop()
		recognizer.Stop()
		return err
	}
	s.recorder = recorder
	s.recognizer = recognizer
	s.poller = poller
	fwdStop := make(chan struct{})
	s.fwdStop = fwdStop
	s.startedAt = s.now()
	s.timer = time.AfterFunc(s.cfg.MaxDuration, func() { s.autoStop(id) })
	s.mu.Unlock()

	poller.Start(ctx)
	s.forwarders.Add(2)
	go func() {
		defer s.forwarders.Done()
		for items := range poller.Items() {
			s.notifyRealtime(items)
		}
	}()
	go func() {
		defer s.forwarders.Done()
		select {
		case rerr := <-recognizer.Errors():
			s.mu.Lock()
			s.recognitionErr = rerr
			s.mu.Unlock()
		case <-fwdStop:
		}
	}()

	if s.metrics != nil {
		s.metrics.ActiveRecordings.Add(ctx, 1)
	}
	log.Info("practice: recording started", "max_duration", s.cfg.MaxDuration, "culture", s.cfg.Culture)
	notify()
	return nil
}

func (s *Session) autoStop(id string) {
	s.mu.Lock()
	if s.id != id || s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	ctx := s.baseCtx
	s.mu.Unlock()

	slog.Info("practice: maximum duration reached, stopping", "session", id, "max_duration", s.cfg.MaxDuration)
	if _, err := s.Stop(ctx); err != nil && !errors.Is(err, ErrAnalysisInFlight) {
		slog.Warn("practice: automatic stop finished with error", "session", id, "err", err)
	}
}

// Stop ends the recording, finalizes audio and transcript, and analyzes
// them. It returns the snapshot after analysis. While an earlier Stop is
// still running it returns [ErrAnalysisInFlight] and does nothing.
//
// On analysis failure the session moves to error and the snapshot carries
// substitute feedback, so Feedback is never nil after Stop returns.
func (s *Session) Stop(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	switch s.state {
	case StateRecording:
	case StateTranscribing, StateAnalyzing:
		s.mu.Unlock()
		return Snapshot{}, ErrAnalysisInFlight
	default:
		st := s.state
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: stop from %s", ErrInvalidTransition, st)
	}
	recorder, recognizer, poller, timer, fwdStop := s.recorder, s.recognizer, s.poller, s.timer, s.fwdStop
	s.recorder, s.recognizer, s.poller, s.timer, s.fwdStop = nil, nil, nil, nil, nil
	// Leave recording now so a concurrent Stop sees the analysis in flight.
	notify, _ := s.setState(StateTranscribing)
	s.elapsed = s.now().Sub(s.startedAt)
	id, elapsed := s.id, s.elapsed
	s.mu.Unlock()

	log := slog.With("session", id, "profile", s.cfg.Profile)
	notify()

	timer.Stop()
	clip, recErr := recorder.Stop()
	poller.Stop()
	recognizer.Stop()
	close(fwdStop)
	s.forwarders.Wait()
	select {
	case rerr := <-recognizer.Errors():
		s.mu.Lock()
		s.recognitionErr = rerr
		s.mu.Unlock()
	default:
	}
	if s.metrics != nil {
		s.metrics.ActiveRecordings.Add(context.WithoutCancel(ctx), -1)
	}
	transcript := recognizer.Transcript()

	if recErr != nil {
		log.Error("practice: finalize recording failed", "err", recErr)
		return s.finishWithError(fmt.Errorf("practice: finalize recording: %w", recErr), transcript)
	}

	s.mu.Lock()
	s.transcript = transcript
	notify, err := s.setState(StateAnalyzing)
	s.mu.Unlock()
	if err != nil {
		return s.Snapshot(), err
	}
	notify()

	log.Info("practice: analyzing", "duration", elapsed, "clip_bytes", len(clip.Data), "transcript_chars", len(transcript))
	resp, err := s.analyzer.Analyze(ctx, clip, transcript, s.cfg.Culture)
	if err != nil {
		log.Warn("practice: analysis failed, showing fallback feedback", "err", err)
		var ae *client.AnalysisError
		if errors.As(err, &ae) && ae.Transcript != "" {
			transcript = ae.Transcript
		}
		return s.finishWithError(err, transcript)
	}

	if resp.Transcript != "" {
		transcript = resp.Transcript
	}
	fb := resp.Feedback

	var stats *progress.Stats
	if resp.InsufficientSpeech {
		log.Info("practice: too little speech to score, session not counted")
	} else if s.stats != nil {
		st, err := s.stats.RecordSession(context.WithoutCancel(ctx), s.cfg.Profile, elapsed.Seconds())
		if err != nil {
			log.Error("practice: record session failed", "err", err)
		} else {
			stats = &st
		}
	}

	s.mu.Lock()
	s.transcript = transcript
	s.fb = &fb
	s.result = stats
	notify, err = s.setState(StateComplete)
	s.mu.Unlock()
	notify()
	log.Info("practice: session complete", "clarity", fb.Clarity, "structure", fb.Structure, "pace", fb.Pace)
	return s.Snapshot(), err
}

func (s *Session) finishWithError(err error, transcript string) (Snapshot, error) {
	fb := client.FallbackFeedback(err)
	s.mu.Lock()
	s.transcript = transcript
	s.fb = &fb
	s.err = err
	notify, serr := s.setState(StateError)
	s.mu.Unlock()
	if serr != nil {
		err = errors.Join(err, serr)
	}
	notify()
	return s.Snapshot(), err
}

// Reset returns a complete or failed session to idle. It is a no-op when
// already idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	notify, err := s.setState(StateIdle)
	if err == nil {
		s.transcript = ""
		s.fb = nil
		s.err = nil
		s.recognitionErr = nil
		s.elapsed = 0
		s.result = nil
	}
	s.mu.Unlock()
	notify()
	return err
}
