package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/speechcoach/pkg/provider/stt"
	sttmock "github.com/MrWong99/speechcoach/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Transcriber{Err: errors.New("whisper: status 500")}
	secondary := &sttmock.Transcriber{Text: "hello from the backup"}
	fb := NewSTTFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	text, err := fb.Transcribe(context.Background(), stt.Audio{Data: []byte{1, 2}, MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello from the backup" {
		t.Errorf("text = %q", text)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(primary.Calls()), len(secondary.Calls()))
	}
	if got := fb.Status(); len(got) != 2 {
		t.Errorf("status = %+v", got)
	}
}

func TestSTTFallback_EmptyAudioSkipsBackends(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Transcriber{Text: "never"}
	fb := NewSTTFallback(primary, "whisper", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1}})

	if _, err := fb.Transcribe(context.Background(), stt.Audio{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if len(primary.Calls()) != 0 {
		t.Error("backend called with empty audio")
	}
}

func TestStreamSTTFallback_StartStream(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{StartStreamErr: errors.New("deepgram: dial: 401")}
	sess := sttmock.NewSession()
	secondary := &sttmock.Provider{Session: sess}
	fb := NewStreamSTTFallback(primary, "deepgram", FallbackConfig{})
	fb.AddFallback("backup", secondary)

	cfg := stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en-US"}
	handle, err := fb.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer handle.Close()
	if handle != stt.SessionHandle(sess) {
		t.Error("handle is not the secondary's session")
	}
	if secondary.CallCount() != 1 || secondary.StartStreamCalls[0].Cfg != cfg {
		t.Errorf("secondary calls = %+v", secondary.StartStreamCalls)
	}
}

func TestStreamSTTFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := NewStreamSTTFallback(&sttmock.Provider{StartStreamErr: errUpstream}, "deepgram", FallbackConfig{})
	if _, err := fb.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
