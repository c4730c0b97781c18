// Package analysis turns a recorded answer into coaching feedback.
//
// [Analyzer] transcribes the audio when there is any, short-circuits
// transcripts too short to score, and asks a language model for a
// [feedback.SpeechFeedback]. It never returns without usable feedback:
// every failure degrades to one of the fixed feedback objects and is
// reported alongside it. [Handler] exposes the analyzer over HTTP.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/speechcoach/internal/observe"
	"github.com/MrWong99/speechcoach/pkg/audio"
	"github.com/MrWong99/speechcoach/pkg/culture"
	"github.com/MrWong99/speechcoach/pkg/feedback"
	"github.com/MrWong99/speechcoach/pkg/provider/llm"
	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

// Defaults.
const (
	DefaultMinTranscriptChars = 10
	DefaultTemperature        = 0.3
	DefaultMaxTokens          = 1024
)

// Outcome labels for the analyses metric.
const (
	OutcomeOK           = "ok"
	OutcomeInsufficient = "insufficient"
	OutcomeFallback     = "fallback"
	OutcomeError        = "error"
)

// Request is one analysis job. AudioData is a data URL or bare base64.
type Request struct {
	AudioData  string
	Transcript string
	Culture    culture.Context
}

// Result always carries valid Feedback. Err is set when the feedback is a
// substitute for a failed step the caller should know about, or is
// [ErrInsufficientInput] when there was too little speech to score.
type Result struct {
	Transcript string
	Feedback   feedback.SpeechFeedback
	Err        error
}

// Analyzer runs the transcription and scoring steps.
type Analyzer struct {
	llm llm.Provider
	stt stt.Transcriber

	mu          sync.RWMutex
	minChars    int
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithTranscriber enables transcription of submitted audio. Without one,
// audio is ignored and the supplied transcript is used.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *Analyzer) { a.stt = t }
}

// WithMinTranscriptChars sets the shortest transcript, in characters after
// trimming, that is sent for scoring.
func WithMinTranscriptChars(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.minChars = n
		}
	}
}

// WithTemperature sets the sampling temperature of the scoring call.
func WithTemperature(t float64) Option {
	return func(a *Analyzer) { a.temperature = t }
}

// WithMaxTokens caps the scoring reply length.
func WithMaxTokens(n int) Option {
	return func(a *Analyzer) { a.maxTokens = n }
}

// WithMetrics records outcomes and latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// New returns an Analyzer scoring with model.
func New(model llm.Provider, opts ...Option) *Analyzer {
	a := &Analyzer{
		llm:         model,
		minChars:    DefaultMinTranscriptChars,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetTuning replaces the minimum transcript length and sampling temperature
// used by subsequent calls. A non-positive minChars keeps the current value.
func (a *Analyzer) SetTuning(minChars int, temperature float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if minChars > 0 {
		a.minChars = minChars
	}
	a.temperature = temperature
}

func (a *Analyzer) tuning() (int, float64) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.minChars, a.temperature
}

// Analyze runs the full pipeline for req. Panics in providers are recovered
// into an [UnhandledError] result.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (res Result) {
	ctx, span := observe.StartSpan(ctx, "analysis.Analyze")
	defer span.End()
	start := time.Now()
	log := observe.Logger(ctx)
	outcome := OutcomeOK

	defer func() {
		if r := recover(); r != nil {
			log.Error("analysis: panic", "panic", r, "stack", string(debug.Stack()))
			res = Result{
				Transcript: req.Transcript,
				Feedback:   feedback.Fallback(),
				Err:        &UnhandledError{Err: fmt.Errorf("panic: %v", r)},
			}
			outcome = OutcomeError
		}
		span.SetAttributes(attribute.String("analysis.outcome", outcome))
		if res.Err != nil && !errors.Is(res.Err, ErrInsufficientInput) {
			span.SetStatus(codes.Error, res.Err.Error())
		}
		if a.metrics != nil {
			a.metrics.RecordAnalysis(ctx, outcome)
			a.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	transcript := req.Transcript
	if strings.TrimSpace(req.AudioData) != "" {
		text, err := a.transcribe(ctx, req.AudioData)
		switch {
		case err != nil:
			log.Warn("analysis: transcription failed, using supplied transcript", "err", err)
		case strings.TrimSpace(text) != "":
			transcript = text
		}
	}
	transcript = strings.TrimSpace(transcript)

	minChars, temperature := a.tuning()
	if utf8.RuneCountInString(transcript) < minChars {
		log.Info("analysis: transcript too short to score", "chars", utf8.RuneCountInString(transcript), "min", minChars)
		outcome = OutcomeInsufficient
		return Result{Transcript: transcript, Feedback: feedback.InsufficientSpeech(), Err: ErrInsufficientInput}
	}

	fb, err := a.score(ctx, transcript, req.Culture, temperature)
	if err != nil {
		log.Error("analysis: scoring failed, returning fallback feedback", "err", err)
		outcome = OutcomeFallback
		return Result{Transcript: transcript, Feedback: feedback.Fallback(), Err: err}
	}
	if a.metrics != nil {
		a.metrics.RecordFeedback(ctx, fb.Clarity, fb.Structure, string(fb.Pace))
	}
	return Result{Transcript: transcript, Feedback: fb}
}

func (a *Analyzer) transcribe(ctx context.Context, audioData string) (text string, err error) {
	ctx, span := observe.StartStage(ctx, "transcribe")
	defer func() { observe.EndStage(span, err) }()

	if a.stt == nil {
		return "", &TranscriptionUpstreamError{Err: errors.New("no transcriber configured")}
	}
	data, mime, err := audio.ParseDataURL(audioData)
	if err != nil {
		return "", &TranscriptionUpstreamError{Err: err}
	}
	if len(data) == 0 {
		return "", &TranscriptionUpstreamError{Err: stt.ErrEmptyAudio}
	}
	if mime == "" {
		mime = audio.MimeWebM
	}
	span.SetAttributes(attribute.String("audio.mime_type", mime), attribute.Int("audio.bytes", len(data)))
	text, err = a.stt.Transcribe(ctx, stt.Audio{Data: data, MimeType: mime})
	if err != nil {
		return "", &TranscriptionUpstreamError{Err: err}
	}
	return text, nil
}

func (a *Analyzer) score(ctx context.Context, transcript string, c culture.Context, temperature float64) (fb feedback.SpeechFeedback, err error) {
	ctx, span := observe.StartStage(ctx, "score", attribute.String("culture", string(c)))
	defer func() { observe.EndStage(span, err) }()

	if a.llm == nil {
		return feedback.SpeechFeedback{}, &AnalysisUpstreamError{Err: errors.New("no language model configured")}
	}
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: SystemPrompt(c),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: userPrompt(transcript)}},
		Temperature:  temperature,
		MaxTokens:    a.maxTokens,
		JSONOutput:   true,
	})
	if err != nil {
		return feedback.SpeechFeedback{}, &AnalysisUpstreamError{Err: err}
	}
	if resp == nil {
		return feedback.SpeechFeedback{}, &AnalysisUpstreamError{Err: errors.New("empty response")}
	}
	fb, err = feedback.Parse(resp.Content)
	if err != nil {
		return feedback.SpeechFeedback{}, &AnalysisUpstreamError{Err: err, Content: resp.Content}
	}
	return fb, nil
}
