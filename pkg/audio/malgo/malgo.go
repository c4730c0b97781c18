// Package malgo provides a native microphone [audio.Device] backed by
// miniaudio through github.com/gen2brain/malgo.
//
// The device requests signed 16-bit PCM at the caller's format; miniaudio
// converts from the hardware format internally.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/speechcoach/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Device captures from the system default input device.
type Device struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// New initialises the miniaudio context. Call Close when done.
func New() (*Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, &audio.MicrophoneError{Op: "init context", Err: err}
	}
	return &Device{ctx: ctx}, nil
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context, f audio.Format) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &audio.MicrophoneError{Op: "open", Err: err}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, &audio.MicrophoneError{Op: "open", Err: errors.New("device closed")}
	}

	s := &stream{format: f, ch: make(chan []byte, 128)}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)

	dev, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		return nil, &audio.MicrophoneError{Op: "init device", Err: classify(err)}
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, &audio.MicrophoneError{Op: "start device", Err: classify(err)}
	}
	s.dev = dev
	return s, nil
}

// Close releases the miniaudio context.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// classify maps backend errors onto the audio sentinels where the message
// makes the cause clear.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "access denied"):
		return fmt.Errorf("%w: %v", audio.ErrPermissionDenied, err)
	case strings.Contains(msg, "no device"), strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	}
	return err
}

// stream is one running capture device.
type stream struct {
	format audio.Format
	dev    *malgo.Device
	ch     chan []byte

	mu     sync.Mutex
	closed bool
}

func (s *stream) Chunks() <-chan []byte { return s.ch }

func (s *stream) Format() audio.Format { return s.format }

// onData runs on the miniaudio callback thread. Chunks are dropped rather
// than blocking the audio thread when the consumer falls behind.
func (s *stream) onData(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	chunk := make([]byte, len(input))
	copy(chunk, input)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- chunk:
	default:
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Uninit blocks until the callback thread has stopped, so closing the
	// channel afterwards cannot race a send.
	s.dev.Uninit()
	close(s.ch)
	return nil
}
