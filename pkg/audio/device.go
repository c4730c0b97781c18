// Package audio provides microphone capture and the clip formats exchanged
// between the practice client and the analysis service.
//
// Capture is split in two layers. A [Device] is a platform backend (native
// miniaudio in package malgo, an in-memory fake in package mock) that yields
// raw PCM chunks. A [Recorder] sits on top of any Device, buffers the chunks
// at a fixed interval, optionally tees them to a live transcriber, and on
// Stop finalises everything into a single WAV [Clip].
package audio

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrPermissionDenied is wrapped by MicrophoneError when the operating
	// system refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrNoDevice is wrapped by MicrophoneError when no capture device exists.
	ErrNoDevice = errors.New("audio: no capture device")

	// ErrAlreadyRecording is returned by Recorder.Start while a recording is
	// in progress.
	ErrAlreadyRecording = errors.New("audio: already recording")

	// ErrNotRecording is returned by Recorder.Stop when nothing is being
	// recorded. It marks a no-op rather than a failure.
	ErrNotRecording = errors.New("audio: not recording")
)

// MicrophoneError reports a failure to acquire or use the capture device.
type MicrophoneError struct {
	Op  string
	Err error
}

func (e *MicrophoneError) Error() string {
	return fmt.Sprintf("audio: microphone %s: %v", e.Op, e.Err)
}

func (e *MicrophoneError) Unwrap() error { return e.Err }

// PermissionDenied reports whether the failure was a refused permission.
func (e *MicrophoneError) PermissionDenied() bool {
	return errors.Is(e.Err, ErrPermissionDenied)
}

// Stream is an open capture stream.
type Stream interface {
	// Chunks emits raw 16-bit little-endian PCM in Format(). The channel is
	// closed once the stream is closed or the device fails.
	Chunks() <-chan []byte

	// Format reports the format actually delivered by the device, which may
	// differ from the one requested.
	Format() Format

	// Close stops capture and releases the device. Safe to call more than
	// once.
	Close() error
}

// Device opens capture streams.
type Device interface {
	// Open acquires the microphone and starts capture. Failures should be
	// returned as *MicrophoneError.
	Open(ctx context.Context, f Format) (Stream, error)
}
