// Package stt defines the interfaces for Speech-to-Text backends.
//
// Two shapes of backend exist. A [Transcriber] turns one finalized recording
// into text in a single request; the remote analysis endpoint uses it. A
// [StreamProvider] opens a live session that accepts raw PCM audio frames and
// emits low-latency partials and authoritative finals while the user is still
// speaking; the practice client uses it for the live transcript preview.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned by Transcribe when the audio payload is empty.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Transcriber converts one finalized recording into text.
type Transcriber interface {
	// Transcribe sends audio to the backend and returns the recognised text.
	// The returned text may be empty when the recording held no speech.
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (16000 for the practice client).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM matching the
	// StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim Transcript values. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits authoritative Transcript values. Closed when the session
	// ends.
	Finals() <-chan Transcript

	// Err returns the error that ended the session, or nil when the session
	// was closed normally or is still running.
	Err() error

	// Close terminates the session and releases all resources. After Close
	// returns, Partials and Finals are closed. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// StreamProvider opens live transcription sessions.
type StreamProvider interface {
	// StartStream opens a new streaming session. The returned SessionHandle is
	// ready to accept audio immediately. The caller owns the handle and must
	// call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
