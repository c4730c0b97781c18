package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultChunkInterval is how often buffered PCM is committed as a chunk.
const DefaultChunkInterval = 500 * time.Millisecond

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithFormat sets the target PCM format. Defaults to SpeechFormat.
func WithFormat(f Format) RecorderOption {
	return func(r *Recorder) { r.format = f }
}

// WithChunkInterval sets the chunk commit interval.
func WithChunkInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithTap registers fn to receive every committed chunk, in order, from the
// recorder's capture goroutine. Used to feed a live transcriber.
func WithTap(fn func(chunk []byte)) RecorderOption {
	return func(r *Recorder) { r.tap = fn }
}

// WithOnComplete registers fn to receive the finalized clip exactly once per
// successful Start/Stop pair.
func WithOnComplete(fn func(Clip)) RecorderOption {
	return func(r *Recorder) { r.onComplete = fn }
}

// Recorder captures microphone audio from a Device into a WAV clip.
// All methods are safe for concurrent use.
type Recorder struct {
	dev        Device
	format     Format
	interval   time.Duration
	tap        func([]byte)
	onComplete func(Clip)

	mu        sync.Mutex
	recording bool
	stream    Stream
	cancel    context.CancelFunc
	done      chan struct{}
	chunks    [][]byte
}

// NewRecorder returns a Recorder over dev.
func NewRecorder(dev Device, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		dev:      dev,
		format:   SpeechFormat,
		interval: DefaultChunkInterval,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start acquires the microphone and begins buffering. On failure it returns
// a *MicrophoneError and leaves the recorder idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}

	stream, err := r.dev.Open(ctx, r.format)
	if err != nil {
		var me *MicrophoneError
		if !errors.As(err, &me) {
			err = &MicrophoneError{Op: "open", Err: err}
		}
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.recording = true
	r.stream = stream
	r.cancel = cancel
	r.done = make(chan struct{})
	r.chunks = nil

	conv := &Converter{From: stream.Format(), To: r.format}
	go r.captureLoop(loopCtx, stream, conv, r.done)
	return nil
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Stop releases the device, commits all buffered audio and returns the
// finalized clip. Calling Stop when idle (including a second call) returns
// ErrNotRecording and has no other effect.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return Clip{}, ErrNotRecording
	}
	r.recording = false
	stream, cancel, done := r.stream, r.cancel, r.done
	r.stream, r.cancel = nil, nil
	r.mu.Unlock()

	if err := stream.Close(); err != nil {
		slog.Warn("audio: close capture stream", "err", err)
	}
	cancel()
	<-done

	r.mu.Lock()
	chunks := r.chunks
	r.chunks = nil
	r.mu.Unlock()

	var size int
	for _, c := range chunks {
		size += len(c)
	}
	pcm := make([]byte, 0, size)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	data, err := EncodeWAV(pcm, r.format)
	if err != nil {
		return Clip{}, err
	}
	clip := Clip{Data: data, MimeType: MimeWAV, Duration: r.format.Duration(len(pcm))}
	if r.onComplete != nil {
		r.onComplete(clip)
	}
	return clip, nil
}

// captureLoop accumulates device PCM and commits it every interval. It exits
// when the stream's channel closes or ctx is cancelled, committing whatever
// is pending first.
func (r *Recorder) captureLoop(ctx context.Context, stream Stream, conv *Converter, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var pending []byte
	commit := func() {
		if len(pending) == 0 {
			return
		}
		chunk := pending
		pending = nil
		r.mu.Lock()
		r.chunks = append(r.chunks, chunk)
		r.mu.Unlock()
		if r.tap != nil {
			r.tap(chunk)
		}
	}

	in := stream.Chunks()
	for {
		select {
		case pcm, ok := <-in:
			if !ok {
				commit()
				return
			}
			pending = append(pending, conv.Convert(pcm)...)
		case <-ticker.C:
			commit()
		case <-ctx.Done():
		drain:
			for {
				select {
				case pcm, ok := <-in:
					if !ok {
						break drain
					}
					pending = append(pending, conv.Convert(pcm)...)
				default:
					break drain
				}
			}
			commit()
			return
		}
	}
}
