// Package mock provides in-memory implementations of [audio.Device] and
// [audio.Stream] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on device acquisition and release.
//
// Typical usage:
//
//	dev := &mock.Device{Preload: [][]byte{pcm}}
//	rec := audio.NewRecorder(dev)
//	_ = rec.Start(ctx)
//	dev.LastStream().Push(morePCM)
//	clip, _ := rec.Stop()
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/speechcoach/pkg/audio"
)

var (
	_ audio.Device = (*Device)(nil)
	_ audio.Stream = (*Stream)(nil)
)

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// Preload is queued on every opened stream before Open returns.
	Preload [][]byte

	// StreamFormat overrides the format reported by opened streams. Zero
	// means the requested format.
	StreamFormat audio.Format

	// OpenDelay makes Open block this long before opening, like a slow
	// device negotiation.
	OpenDelay time.Duration

	// OpenCalls records the formats requested by Open.
	OpenCalls []audio.Format

	streams []*Stream
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, f audio.Format) (audio.Stream, error) {
	if d.OpenDelay > 0 {
		time.Sleep(d.OpenDelay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, f)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.StreamFormat != (audio.Format{}) {
		f = d.StreamFormat
	}
	s := &Stream{format: f, ch: make(chan []byte, 64+len(d.Preload))}
	for _, p := range d.Preload {
		s.ch <- p
	}
	d.streams = append(d.streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (d *Device) LastStream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// ─── Stream ──────────────────────────────────────────────────────────────────

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("mock: stream closed")

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu     sync.Mutex
	format audio.Format
	ch     chan []byte
	closed bool

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Chunks implements [audio.Stream].
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Push queues a PCM chunk as if the device had captured it.
func (s *Stream) Push(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.ch <- pcm
	return nil
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Closed reports whether the stream was released.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
