package practice

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/speechcoach/internal/analysis"
	"github.com/MrWong99/speechcoach/internal/analysis/client"
	"github.com/MrWong99/speechcoach/internal/progress"
	"github.com/MrWong99/speechcoach/internal/realtime"
	"github.com/MrWong99/speechcoach/pkg/audio"
	audiomock "github.com/MrWong99/speechcoach/pkg/audio/mock"
	"github.com/MrWong99/speechcoach/pkg/culture"
	"github.com/MrWong99/speechcoach/pkg/feedback"
	sttmock "github.com/MrWong99/speechcoach/pkg/provider/stt/mock"
)

// ── fakes ───────────────────────────────────────────────────────────────────

type analyzeCall struct {
	clip       audio.Clip
	transcript string
	culture    culture.Context
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	resp    *analysis.Response
	err     error
	release chan struct{}
	calls   []analyzeCall
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, clip audio.Clip, transcript string, c culture.Context) (*analysis.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, analyzeCall{clip: clip, transcript: transcript, culture: c})
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &analysis.Response{Transcript: transcript, Feedback: scoredFeedback()}, nil
}

func (f *fakeAnalyzer) Calls() []analyzeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type recordCall struct {
	profile string
	seconds float64
}

type fakeStats struct {
	mu    sync.Mutex
	err   error
	calls []recordCall
}

func (f *fakeStats) RecordSession(_ context.Context, profile string, seconds float64) (progress.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordCall{profile: profile, seconds: seconds})
	if f.err != nil {
		return progress.Stats{}, f.err
	}
	return progress.Stats{TotalSessions: len(f.calls), XP: 10, Level: 1}, nil
}

func (f *fakeStats) Calls() []recordCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.states)
}

func scoredFeedback() feedback.SpeechFeedback {
	return feedback.SpeechFeedback{
		FillerWords: []feedback.FillerWord{},
		Clarity:     88,
		Structure:   77,
		Pace:        feedback.PaceGood,
		Suggestions: []string{"Keep going."},
		Summary:     "Nice work.",
	}
}

func newTestSession(t *testing.T, an Analyzer, cfg Config, opts ...Option) (*Session, *audiomock.Device, *stateLog) {
	t.Helper()
	dev := &audiomock.Device{Preload: [][]byte{make([]byte, 3200)}}
	if cfg.ChunkInterval == 0 {
		cfg.ChunkInterval = 5 * time.Millisecond
	}
	if cfg.RealtimeInterval == 0 {
		cfg.RealtimeInterval = time.Hour
	}
	s := NewSession(dev, an, cfg, opts...)
	log := &stateLog{}
	s.OnStateChange(log.record)
	return s, dev, log
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateRecording, true},
		{StateIdle, StateError, true},
		{StateIdle, StateAnalyzing, false},
		{StateRecording, StateTranscribing, true},
		{StateRecording, StateComplete, false},
		{StateTranscribing, StateAnalyzing, true},
		{StateAnalyzing, StateComplete, true},
		{StateAnalyzing, StateRecording, false},
		{StateComplete, StateIdle, true},
		{StateComplete, StateRecording, false},
		{StateError, StateIdle, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSession_HappyPath(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{}
	stats := &fakeStats{}
	sttSess := sttmock.NewSession()
	s, dev, log := newTestSession(t, an,
		Config{Profile: "alice", Culture: culture.British},
		WithStreamProvider(&sttmock.Provider{Session: sttSess}),
		WithStatsRecorder(stats),
	)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateRecording {
		t.Fatalf("state = %s, want recording", s.State())
	}
	if got := dev.OpenCalls[0]; got != audio.SpeechFormat {
		t.Errorf("device format = %v, want %v", got, audio.SpeechFormat)
	}

	sttSess.EmitFinal("hello everyone")
	waitFor(t, "live transcript", func() bool { return s.Snapshot().Transcript == "hello everyone" })

	snap, err := s.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if snap.State != StateComplete {
		t.Errorf("state = %s, want complete", snap.State)
	}
	if snap.Feedback == nil || snap.Feedback.Clarity != 88 {
		t.Errorf("feedback = %+v", snap.Feedback)
	}
	if snap.Transcript != "hello everyone" {
		t.Errorf("transcript = %q", snap.Transcript)
	}
	if snap.Stats == nil || snap.Stats.TotalSessions != 1 {
		t.Errorf("stats = %+v", snap.Stats)
	}
	if snap.ID == "" {
		t.Error("session has no ID")
	}

	calls := an.Calls()
	if len(calls) != 1 {
		t.Fatalf("analyze calls = %d, want 1", len(calls))
	}
	if calls[0].transcript != "hello everyone" || calls[0].culture != culture.British {
		t.Errorf("analyze call = %q / %q", calls[0].transcript, calls[0].culture)
	}
	if calls[0].clip.MimeType != audio.MimeWAV || calls[0].clip.Empty() {
		t.Errorf("clip = %s, %d bytes", calls[0].clip.MimeType, len(calls[0].clip.Data))
	}
	if rc := stats.Calls(); len(rc) != 1 || rc[0].profile != "alice" {
		t.Errorf("record calls = %+v", rc)
	}
	if !dev.LastStream().Closed() {
		t.Error("microphone not released")
	}

	want := []State{StateRecording, StateTranscribing, StateAnalyzing, StateComplete}
	if got := log.get(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestSession_AnalysisFailureShowsFallback(t *testing.T) {
	t.Parallel()

	degraded := feedback.InsufficientSpeech()
	tests := []struct {
		name        string
		err         error
		wantClarity int
	}{
		{name: "transport", err: errors.New("connection refused"), wantClarity: feedback.FallbackScore},
		{name: "timeout", err: &client.TimeoutError{Timeout: time.Second}, wantClarity: feedback.FallbackScore},
		{name: "server feedback", err: &client.AnalysisError{StatusCode: 200, Message: "upstream", Feedback: degraded}, wantClarity: degraded.Clarity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stats := &fakeStats{}
			s, _, log := newTestSession(t, &fakeAnalyzer{err: tt.err}, Config{}, WithStatsRecorder(stats))
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}
			snap, err := s.Stop(context.Background())
			if !errors.Is(err, tt.err) {
				t.Errorf("Stop err = %v, want %v", err, tt.err)
			}
			if snap.State != StateError {
				t.Errorf("state = %s, want error", snap.State)
			}
			if snap.Feedback == nil || snap.Feedback.Clarity != tt.wantClarity {
				t.Errorf("feedback = %+v, want clarity %d", snap.Feedback, tt.wantClarity)
			}
			if len(stats.Calls()) != 0 {
				t.Error("failed session was recorded")
			}
			if got := log.get(); got[len(got)-1] != StateError {
				t.Errorf("last state = %s", got[len(got)-1])
			}
		})
	}
}

func TestSession_InsufficientSpeechIsNotCounted(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{resp: &analysis.Response{
		Transcript:         "um",
		Feedback:           feedback.InsufficientSpeech(),
		InsufficientSpeech: true,
	}}
	stats := &fakeStats{}
	s, _, _ := newTestSession(t, an, Config{Profile: "alice"}, WithStatsRecorder(stats))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if snap.State != StateComplete || snap.Err != nil {
		t.Errorf("state = %s, err = %v; want complete without error", snap.State, snap.Err)
	}
	if snap.Feedback == nil || snap.Feedback.Clarity != feedback.InsufficientScore {
		t.Errorf("feedback = %+v, want insufficient-speech feedback", snap.Feedback)
	}
	if snap.Stats != nil {
		t.Errorf("stats = %+v, want none", snap.Stats)
	}
	if rc := stats.Calls(); len(rc) != 0 {
		t.Errorf("record calls = %+v, want none", rc)
	}
}

func TestSession_MicrophoneFailure(t *testing.T) {
	t.Parallel()

	sttSess := sttmock.NewSession()
	s, dev, log := newTestSession(t, &fakeAnalyzer{}, Config{}, WithStreamProvider(&sttmock.Provider{Session: sttSess}))
	dev.OpenErr = &audio.MicrophoneError{Op: "open", Err: audio.ErrPermissionDenied}

	err := s.Start(context.Background())
	var me *audio.MicrophoneError
	if !errors.As(err, &me) || !me.PermissionDenied() {
		t.Fatalf("Start err = %v, want permission-denied MicrophoneError", err)
	}
	if s.State() != StateError {
		t.Errorf("state = %s, want error", s.State())
	}
	if sttSess.Closes() != 1 {
		t.Errorf("transcription stream closes = %d, want 1", sttSess.Closes())
	}
	if got := log.get(); !slices.Equal(got, []State{StateError}) {
		t.Errorf("states = %v", got)
	}

	// A retry after granting permission works.
	dev.OpenErr = nil
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSession_RecognitionFailureKeepsRecording(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{resp: &analysis.Response{Transcript: "server side text", Feedback: scoredFeedback()}}
	s, _, _ := newTestSession(t, an, Config{},
		WithStreamProvider(&sttmock.Provider{StartStreamErr: errors.New("no network")}))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	var rerr *RecognitionError
	if !errors.As(snap.RecognitionErr, &rerr) {
		t.Errorf("RecognitionErr = %v", snap.RecognitionErr)
	}
	if calls := an.Calls(); len(calls) != 1 || calls[0].transcript != "" {
		t.Errorf("analyze calls = %+v", calls)
	}
	if snap.Transcript != "server side text" {
		t.Errorf("transcript = %q, want server transcript", snap.Transcript)
	}
}

func TestSession_SecondStopWhileAnalyzing(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{release: make(chan struct{})}
	s, _, _ := newTestSession(t, an, Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Stop(context.Background())
		done <- err
	}()
	waitFor(t, "analyzing", func() bool { return s.State() == StateAnalyzing })

	if _, err := s.Stop(context.Background()); !errors.Is(err, ErrAnalysisInFlight) {
		t.Errorf("second Stop err = %v, want ErrAnalysisInFlight", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Start during analysis err = %v, want ErrInvalidTransition", err)
	}

	close(an.release)
	if err := <-done; err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if n := len(an.Calls()); n != 1 {
		t.Errorf("analyze calls = %d, want 1", n)
	}
}

func TestSession_InvalidOperations(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t, &fakeAnalyzer{}, Config{})
	if _, err := s.Stop(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Stop while idle err = %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Errorf("Reset while idle: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Start while recording err = %v", err)
	}
	if err := s.Reset(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Reset while recording err = %v", err)
	}
	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSession_ConcurrentStartOpensOnce(t *testing.T) {
	t.Parallel()

	s, dev, _ := newTestSession(t, &fakeAnalyzer{}, Config{})
	dev.OpenDelay = 20 * time.Millisecond

	errs := make(chan error, 2)
	for range 2 {
		go func() { errs <- s.Start(context.Background()) }()
	}
	var ok, rejected int
	for range 2 {
		switch err := <-errs; {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidTransition):
			rejected++
		default:
			t.Errorf("Start err = %v", err)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Fatalf("started = %d, rejected = %d, want 1 and 1", ok, rejected)
	}
	if got := s.State(); got != StateRecording {
		t.Errorf("state = %s, want %s", got, StateRecording)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Stop(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	if n := len(dev.OpenCalls); n != 1 {
		t.Errorf("device opened %d times, want 1", n)
	}
}

func TestSession_MaxDurationStopsAutomatically(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{}
	s, _, _ := newTestSession(t, an, Config{MaxDuration: 30 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "automatic stop", func() bool { return s.State() == StateComplete })
	if n := len(an.Calls()); n != 1 {
		t.Errorf("analyze calls = %d, want 1", n)
	}
}

func TestSession_RestartClearsResults(t *testing.T) {
	t.Parallel()

	s, _, log := newTestSession(t, &fakeAnalyzer{}, Config{})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, err := s.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	snap := s.Snapshot()
	if snap.Feedback != nil || snap.Err != nil {
		t.Errorf("previous results survived restart: %+v", snap)
	}
	if snap.ID == first.ID {
		t.Error("restart reused the session ID")
	}
	states := log.get()
	if states[len(states)-2] != StateIdle || states[len(states)-1] != StateRecording {
		t.Errorf("states = %v", states)
	}
	if _, err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := s.Reset(); err != nil || s.State() != StateIdle {
		t.Errorf("Reset: %v, state %s", err, s.State())
	}
}

func TestSession_RealtimeFeedback(t *testing.T) {
	t.Parallel()

	sttSess := sttmock.NewSession()
	s, _, _ := newTestSession(t, &fakeAnalyzer{}, Config{RealtimeInterval: 5 * time.Millisecond},
		WithStreamProvider(&sttmock.Provider{Session: sttSess}))

	got := make(chan []realtime.Item, 16)
	s.OnRealtimeFeedback(func(items []realtime.Item) {
		select {
		case got <- items:
		default:
		}
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sttSess.EmitFinal("um so basically like we ship it")

	select {
	case items := <-got:
		var fillers []string
		for _, it := range items {
			if it.Kind == realtime.KindFiller {
				fillers = append(fillers, it.Word)
			}
		}
		if !slices.Contains(fillers, "um") || !slices.Contains(fillers, "basically") {
			t.Errorf("filler items = %v", fillers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no realtime feedback delivered")
	}

	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
