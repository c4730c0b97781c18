package analysis

import (
	"errors"
	"fmt"
)

// ErrInsufficientInput marks a transcript too short to score. It is not a
// failure: the result carries it next to [feedback.InsufficientSpeech], and
// the wire response reports it as insufficientSpeech instead of an error.
var ErrInsufficientInput = errors.New("analysis: insufficient speech")

// TranscriptionUpstreamError reports a failed speech-to-text call. The
// analysis continues with the client-supplied transcript.
type TranscriptionUpstreamError struct {
	Err error
}

func (e *TranscriptionUpstreamError) Error() string {
	return fmt.Sprintf("analysis: transcription failed: %v", e.Err)
}

func (e *TranscriptionUpstreamError) Unwrap() error { return e.Err }

// AnalysisUpstreamError reports a failed or unparseable scoring call.
// Content holds the raw model output when there was any.
type AnalysisUpstreamError struct {
	Err     error
	Content string
}

func (e *AnalysisUpstreamError) Error() string {
	return fmt.Sprintf("analysis: feedback generation failed: %v", e.Err)
}

func (e *AnalysisUpstreamError) Unwrap() error { return e.Err }

// UnhandledError wraps anything unexpected, including recovered panics.
type UnhandledError struct {
	Err error
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("analysis: unexpected failure: %v", e.Err)
}

func (e *UnhandledError) Unwrap() error { return e.Err }
