package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		cfg  stt.StreamConfig
		want map[string]string
		omit []string
	}{
		{
			name: "defaults",
			cfg:  stt.StreamConfig{Channels: 1},
			want: map[string]string{
				"model": "nova-3", "language": "en", "encoding": "linear16",
				"sample_rate": "16000", "channels": "1", "punctuate": "true",
				"interim_results": "true", "filler_words": "true",
			},
		},
		{
			name: "provider options",
			opts: []Option{WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000)},
			want: map[string]string{"model": "base", "language": "de-DE", "sample_rate": "48000"},
			omit: []string{"channels"},
		},
		{
			name: "stream config wins",
			opts: []Option{WithLanguage("en"), WithSampleRate(48000)},
			cfg:  stt.StreamConfig{Language: "fr-FR", SampleRate: 8000},
			want: map[string]string{"language": "fr-FR", "sample_rate": "8000"},
		},
		{
			name: "filler words off",
			opts: []Option{WithFillerWords(false)},
			omit: []string{"filler_words"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New("key", tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			raw, err := p.buildURL(tt.cfg)
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			u, _ := url.Parse(raw)
			q := u.Query()
			for k, v := range tt.want {
				if got := q.Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
			for _, k := range tt.omit {
				if q.Has(k) {
					t.Errorf("unexpected param %s=%q", k, q.Get(k))
				}
			}
		})
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
		want stt.Transcript
	}{
		{
			name: "final",
			raw:  `{"type":"Results","is_final":true,"start":1.5,"duration":0.9,"channel":{"alternatives":[{"transcript":"so um today","confidence":0.95}]}}`,
			ok:   true,
			want: stt.Transcript{Text: "so um today", IsFinal: true, Confidence: 0.95, Timestamp: 1500 * time.Millisecond, Duration: 900 * time.Millisecond},
		},
		{
			name: "partial",
			raw:  `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"so um","confidence":0.7}]}}`,
			ok:   true,
			want: stt.Transcript{Text: "so um", Confidence: 0.7},
		},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc"}`},
		{name: "utterance end", raw: `{"type":"UtteranceEnd","last_word_end":2.1}`},
		{name: "no alternatives", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{name: "invalid json", raw: `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseResult([]byte(tt.raw))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("transcript = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// fakeDeepgram answers the first audio frame with a partial and a final,
// counts KeepAlive frames and closes cleanly on CloseStream.
type fakeDeepgram struct {
	*httptest.Server
	auth       atomic.Value
	query      atomic.Value
	keepAlives atomic.Int32
	audio      atomic.Int32
}

func newFakeDeepgram(t *testing.T) *fakeDeepgram {
	t.Helper()
	f := &fakeDeepgram{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth.Store(r.Header.Get("Authorization"))
		f.query.Store(r.URL.Query())
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			switch {
			case typ == websocket.MessageBinary:
				if f.audio.Add(1) == 1 {
					_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Metadata"}`))
					_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"um so","confidence":0.6}]}}`))
					_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"um so today","confidence":0.9}]}}`))
				}
			case strings.Contains(string(msg), "KeepAlive"):
				f.keepAlives.Add(1)
			case strings.Contains(string(msg), "CloseStream"):
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeDeepgram) wsURL() string { return "ws" + strings.TrimPrefix(f.URL, "http") }

func TestStartStream_RoundTrip(t *testing.T) {
	srv := newFakeDeepgram(t)

	p, err := New("dg-key", WithEndpoint(srv.wsURL()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := h.SendAudio(make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case tr := <-h.Partials():
		if tr.Text != "um so" {
			t.Errorf("partial = %q", tr.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for partial")
	}
	select {
	case tr := <-h.Finals():
		if tr.Text != "um so today" || !tr.IsFinal {
			t.Errorf("final = %+v", tr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for final")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err() = %v after clean close", err)
	}
	if err := h.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	if _, open := <-h.Finals(); open {
		t.Error("finals channel still open after Close")
	}
	if got := srv.auth.Load(); got != "Token dg-key" {
		t.Errorf("Authorization = %v", got)
	}
	if q := srv.query.Load().(url.Values); q.Get("filler_words") != "true" {
		t.Errorf("filler_words = %q", q.Get("filler_words"))
	}
}

func TestStartStream_KeepAliveWhileSilent(t *testing.T) {
	srv := newFakeDeepgram(t)

	p, _ := New("key", WithEndpoint(srv.wsURL()), WithKeepAlive(20*time.Millisecond))
	h, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.keepAlives.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("keepalives = %d, want at least 2", srv.keepAlives.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartStream_DialFailure(t *testing.T) {
	p, _ := New("key", WithEndpoint("ws://127.0.0.1:1/v1/listen"))
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}
