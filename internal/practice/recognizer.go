package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/speechcoach/internal/realtime"
	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

// ErrRecognitionUnsupported is reported when no live transcription backend
// is configured.
var ErrRecognitionUnsupported = errors.New("practice: live recognition unsupported")

// RecognitionError reports a live transcription failure. It never stops the
// recording; the analysis service transcribes the audio instead.
type RecognitionError struct {
	Op  string
	Err error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("practice: recognition %s: %v", e.Op, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// maxPendingChunks bounds audio buffered before the stream is open.
const maxPendingChunks = 64

// Recognizer turns a live transcription stream into an accumulated
// transcript plus an interim preview.
type Recognizer struct {
	provider stt.StreamProvider
	cfg      stt.StreamConfig
	tracker  *realtime.Tracker

	errs chan *RecognitionError

	mu       sync.Mutex
	handle   stt.SessionHandle
	pending  [][]byte
	active   bool
	failed   bool
	reported bool
	finals   []string
	interim  string
	done     chan struct{}
}

// NewRecognizer returns a Recognizer over provider. provider may be nil, in
// which case Start reports [ErrRecognitionUnsupported]. Final segments are
// also appended to tracker when it is non-nil.
func NewRecognizer(provider stt.StreamProvider, cfg stt.StreamConfig, tracker *realtime.Tracker) *Recognizer {
	return &Recognizer{
		provider: provider,
		cfg:      cfg,
		tracker:  tracker,
		errs:     make(chan *RecognitionError, 1),
	}
}

// Errors delivers at most one error per Start.
func (r *Recognizer) Errors() <-chan *RecognitionError {
	return r.errs
}

// Start clears the transcript and opens a stream. A failure is reported on
// Errors and also returned.
func (r *Recognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = true
	r.failed = false
	r.reported = false
	r.finals = nil
	r.interim = ""
	r.done = nil
	r.mu.Unlock()

	if r.provider == nil {
		return r.fail("start", ErrRecognitionUnsupported)
	}
	handle, err := r.provider.StartStream(ctx, r.cfg)
	if err != nil {
		return r.fail("start", err)
	}

	r.mu.Lock()
	if !r.active {
		// Stopped while the stream was opening.
		r.mu.Unlock()
		_ = handle.Close()
		return nil
	}
	r.handle = handle
	pending := r.pending
	r.pending = nil
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	for _, chunk := range pending {
		if err := handle.SendAudio(chunk); err != nil {
			r.fail("send", err)
			break
		}
	}
	go r.readLoop(handle, done)
	return nil
}

// Feed forwards a PCM chunk to the stream. Chunks arriving before the stream
// is open are held and sent once it is. After a failure Feed drops audio.
func (r *Recognizer) Feed(chunk []byte) {
	r.mu.Lock()
	if !r.active || r.failed {
		r.mu.Unlock()
		return
	}
	handle := r.handle
	if handle == nil {
		if len(r.pending) < maxPendingChunks {
			r.pending = append(r.pending, chunk)
		}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := handle.SendAudio(chunk); err != nil {
		r.mu.Lock()
		stopped := !r.active
		r.mu.Unlock()
		if !stopped {
			r.fail("send", err)
		}
	}
}

func (r *Recognizer) readLoop(handle stt.SessionHandle, done chan struct{}) {
	defer close(done)
	partials, finals := handle.Partials(), handle.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			r.mu.Lock()
			r.interim = strings.TrimSpace(t.Text)
			r.mu.Unlock()
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			text := strings.TrimSpace(t.Text)
			if text == "" {
				continue
			}
			r.mu.Lock()
			r.finals = append(r.finals, text)
			r.interim = ""
			r.mu.Unlock()
			if r.tracker != nil {
				r.tracker.Append(text)
			}
		}
	}
	if err := handle.Err(); err != nil {
		r.fail("stream", err)
	}
}

// fail records err and reports it unless an error was already reported for
// this run.
func (r *Recognizer) fail(op string, err error) error {
	rerr := &RecognitionError{Op: op, Err: err}
	r.mu.Lock()
	r.failed = true
	first := !r.reported
	r.reported = true
	r.mu.Unlock()
	if first {
		slog.Warn("practice: live transcription unavailable, continuing without it", "op", op, "err", err)
		select {
		case r.errs <- rerr:
		default:
		}
	}
	return rerr
}

// Stop closes the stream and waits until every final segment it delivered
// has been added to the transcript. It is idempotent.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	handle, done := r.handle, r.done
	r.handle = nil
	r.pending = nil
	r.mu.Unlock()

	if handle == nil {
		return
	}
	if err := handle.Close(); err != nil {
		slog.Debug("practice: close transcription stream", "err", err)
	}
	if done != nil {
		<-done
	}
}

// Transcript returns the accumulated final text.
func (r *Recognizer) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.finals, " ")
}

// Preview returns the accumulated text followed by the current interim
// segment.
func (r *Recognizer) Preview() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	parts := r.finals
	if r.interim != "" {
		parts = append(parts[:len(parts):len(parts)], r.interim)
	}
	return strings.Join(parts, " ")
}
