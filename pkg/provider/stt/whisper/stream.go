package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/speechcoach/pkg/audio"
	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

// defaultRMSThreshold is the root-mean-square energy (16-bit PCM units) below
// which a chunk counts as silence. 300 of a possible 32 767 is near-silence.
const defaultRMSThreshold = 300.0

// errSessionClosed is returned by SendAudio after Close.
var errSessionClosed = errors.New("whisper: session is closed")

// StartStream implements stt.StreamProvider. No network connection is made
// until the first utterance is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = p.sampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}

	s := &session{
		provider: p,
		format:   format,
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// session segments PCM into utterances. All buffering state is confined to
// processLoop.
type session struct {
	provider *Provider
	format   audio.Format

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	errMu   sync.Mutex
	lastErr error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Err returns the most recent upload failure. Upload failures do not end the
// session; later utterances are still attempted.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Close flushes any pending utterance, closes both transcript channels and
// waits for the processing goroutine. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silence   time.Duration
		offset    time.Duration // stream position of buffer[0]
		consumed  time.Duration // total audio received
	)

	silenceThreshold := time.Duration(s.provider.silenceThresholdMs) * time.Millisecond
	maxBufferBytes := s.provider.maxBufferDurationMs * s.format.BytesPerSecond() / 1000

	flush := func(flushCtx context.Context) {
		pcm, start := buffer, offset
		speech := hadSpeech
		buffer, hadSpeech, silence = nil, false, 0
		offset = consumed
		if len(pcm) == 0 || !speech {
			return
		}

		text, err := s.transcribe(flushCtx, pcm)
		if err != nil {
			slog.Warn("whisper: utterance upload failed", "err", err)
			s.errMu.Lock()
			s.lastErr = err
			s.errMu.Unlock()
			return
		}
		if text == "" {
			return
		}

		tr := stt.Transcript{Text: text, Timestamp: start, Duration: s.format.Duration(len(pcm))}
		// Channels are buffered; drop rather than deadlock during shutdown.
		partial := tr
		select {
		case s.partials <- partial:
		default:
		}
		tr.IsFinal = true
		select {
		case s.finals <- tr:
		default:
		}
	}

	// The final flush runs on a fresh context because ctx may already be
	// cancelled.
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return
		case <-s.done:
			// Audio queued before Close still belongs to the last utterance.
			for {
				select {
				case chunk := <-s.audioCh:
					s.accept(chunk, &buffer, &hadSpeech, &silence)
					consumed += s.format.Duration(len(chunk))
					continue
				default:
				}
				break
			}
			finalFlush()
			return
		case chunk := <-s.audioCh:
			s.accept(chunk, &buffer, &hadSpeech, &silence)
			consumed += s.format.Duration(len(chunk))
			if !hadSpeech {
				offset = consumed
			}
			switch {
			case hadSpeech && silence >= silenceThreshold:
				flush(ctx)
			case maxBufferBytes > 0 && len(buffer) >= maxBufferBytes:
				flush(ctx)
			}
		}
	}
}

// accept appends chunk to the utterance buffer. Leading silence is dropped.
func (s *session) accept(chunk []byte, buffer *[]byte, hadSpeech *bool, silence *time.Duration) {
	if computeRMS(chunk) < defaultRMSThreshold {
		if *hadSpeech {
			*silence += s.format.Duration(len(chunk))
			*buffer = append(*buffer, chunk...)
		}
		return
	}
	*hadSpeech = true
	*silence = 0
	*buffer = append(*buffer, chunk...)
}

func (s *session) transcribe(ctx context.Context, pcm []byte) (string, error) {
	wav, err := audio.EncodeWAV(pcm, s.format)
	if err != nil {
		return "", err
	}
	return s.provider.upload(ctx, wav, "utterance.wav", audio.MimeWAV)
}

// computeRMS returns the root-mean-square energy of 16-bit little-endian PCM.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
