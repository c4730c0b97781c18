package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

// errSessionClosed is returned by SendAudio after Close.
var errSessionClosed = errors.New("deepgram: session is closed")

// closeGrace bounds how long Close waits for trailing results.
const closeGrace = 3 * time.Second

var (
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
)

// session implements stt.SessionHandle over one Deepgram connection.
type session struct {
	conn      *websocket.Conn
	cancel    context.CancelFunc
	keepAlive time.Duration

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	closing  chan struct{}
	readDone chan struct{}
	once     sync.Once
	wg       sync.WaitGroup

	errMu sync.Mutex
	err   error
}

func startSession(parent context.Context, conn *websocket.Conn, keepAlive time.Duration) *session {
	ctx, cancel := context.WithCancel(parent)
	s := &session{
		conn:      conn,
		cancel:    cancel,
		keepAlive: keepAlive,
		audio:     make(chan []byte, 256),
		partials:  make(chan stt.Transcript, 64),
		finals:    make(chan stt.Transcript, 64),
		closing:   make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	s.wg.Add(2)
	go s.receive(ctx)
	go s.send(ctx)
	return s
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.closing:
		return errSessionClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Err reports an abnormal end of the connection, nil after a clean Close.
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// Close flushes queued audio, asks Deepgram to finalize and waits up to
// closeGrace for the trailing results. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.closing)
		select {
		case <-s.readDone:
		case <-time.After(closeGrace):
		}
		s.cancel()
		s.wg.Wait()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// send forwards audio as binary frames and keeps an idle connection open.
func (s *session) send(ctx context.Context) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		t := time.NewTicker(s.keepAlive)
		defer t.Stop()
		tick = t.C
	}
	sentAudio := false

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.fail(fmt.Errorf("deepgram: write audio: %w", err))
				return
			}
			sentAudio = true
		case <-tick:
			if sentAudio {
				sentAudio = false
				continue
			}
			if err := s.conn.Write(ctx, websocket.MessageText, msgKeepAlive); err != nil {
				s.fail(fmt.Errorf("deepgram: keepalive: %w", err))
				return
			}
		case <-s.closing:
			s.flush(ctx)
			_ = s.conn.Write(ctx, websocket.MessageText, msgCloseStream)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) flush(ctx context.Context) {
	for {
		select {
		case chunk := <-s.audio:
			_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
		default:
			return
		}
	}
}

// receive routes Results messages to the partial and final channels and
// closes both when the connection ends.
func (s *session) receive(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.readDone)
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !s.isClosing() {
				s.fail(fmt.Errorf("deepgram: read: %w", err))
			}
			return
		}

		t, ok := parseResult(msg)
		if !ok {
			continue
		}
		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// liveMessage covers the fields of Deepgram's live messages used here.
// Only "Results" carries a transcript; Metadata, SpeechStarted and
// UtteranceEnd are skipped.
type liveMessage struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func parseResult(data []byte) (stt.Transcript, bool) {
	var m liveMessage
	if err := json.Unmarshal(data, &m); err != nil || m.Type != "Results" {
		return stt.Transcript{}, false
	}
	if len(m.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	alt := m.Channel.Alternatives[0]
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    m.IsFinal,
		Confidence: alt.Confidence,
		Timestamp:  seconds(m.Start),
		Duration:   seconds(m.Duration),
	}, true
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
