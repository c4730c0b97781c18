package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

// STTFallback is an [stt.Transcriber] that fails over across several batch
// transcription backends.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback returns an STTFallback preferring primary. cfg.Kind
// defaults to "stt".
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Status reports the breaker state of every backend.
func (f *STTFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Transcribe sends audio to the first healthy backend. Empty audio is
// rejected up front so it does not count against any breaker.
func (f *STTFallback) Transcribe(ctx context.Context, audio stt.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", stt.ErrEmptyAudio
	}
	text, err := ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, audio)
	})
	if err != nil && errors.Is(err, stt.ErrEmptyAudio) {
		return "", stt.ErrEmptyAudio
	}
	return text, err
}

// StreamSTTFallback is an [stt.StreamProvider] that fails over when opening
// a stream. Once a session is established its errors belong to the caller.
type StreamSTTFallback struct {
	group *FallbackGroup[stt.StreamProvider]
}

var _ stt.StreamProvider = (*StreamSTTFallback)(nil)

// NewStreamSTTFallback returns a StreamSTTFallback preferring primary.
// cfg.Kind defaults to "stream_stt".
func NewStreamSTTFallback(primary stt.StreamProvider, primaryName string, cfg FallbackConfig) *StreamSTTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stream_stt"
	}
	return &StreamSTTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *StreamSTTFallback) AddFallback(name string, p stt.StreamProvider) {
	f.group.AddFallback(name, p)
}

// StartStream opens a session on the first healthy backend.
func (f *StreamSTTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.StreamProvider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
