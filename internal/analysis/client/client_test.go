package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/speechcoach/internal/analysis"
	"github.com/MrWong99/speechcoach/internal/analysis/client"
	"github.com/MrWong99/speechcoach/pkg/audio"
	"github.com/MrWong99/speechcoach/pkg/culture"
	"github.com/MrWong99/speechcoach/pkg/feedback"
	"github.com/MrWong99/speechcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/speechcoach/pkg/provider/llm/mock"
)

const okBody = `{"transcript":"hello world, this is me","feedback":{"fillerWords":[],"clarity":81,"structure":77,"pace":"good","suggestions":["Keep going."],"summary":"Well done!"}}`

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestAnalyze_Success(t *testing.T) {
	t.Parallel()

	var got analysis.WireRequest
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("request = %s %q", r.Method, r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, okBody)
	})

	clip := audio.Clip{Data: []byte{1, 2, 3}, MimeType: audio.MimeWAV}
	resp, err := client.New(srv.URL).Analyze(context.Background(), clip, "hello world", culture.British)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if resp.Feedback.Clarity != 81 || resp.Transcript != "hello world, this is me" {
		t.Errorf("response = %+v", resp)
	}
	if got.AudioData != clip.DataURL() || got.Transcript != "hello world" || got.CulturalContext != "british" {
		t.Errorf("request body = %+v", got)
	}
}

func TestAnalyze_EmptyClipSendsTranscriptOnly(t *testing.T) {
	t.Parallel()

	var raw map[string]any
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = io.WriteString(w, okBody)
	})
	if _, err := client.New(srv.URL).Analyze(context.Background(), audio.Clip{}, "only text here", culture.General); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := raw["audioData"]; ok {
		t.Error("audioData sent for empty clip")
	}
}

func TestAnalyze_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	_, err := client.New(srv.URL, client.WithTimeout(50*time.Millisecond)).
		Analyze(context.Background(), audio.Clip{}, "a transcript", culture.General)
	var te *client.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("TimeoutError does not match context.DeadlineExceeded")
	}
	if client.FallbackFeedback(err).Clarity != feedback.FallbackScore {
		t.Error("timeout should degrade to fallback feedback")
	}
}

func TestAnalyze_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		wantClarity int
		wantMessage string
	}{
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", wantClarity: feedback.FallbackScore},
		{name: "not json", status: http.StatusOK, body: "<html>", wantClarity: feedback.FallbackScore},
		{name: "degraded with error", status: http.StatusOK, body: `{"transcript":"x","feedback":{"fillerWords":[],"clarity":60,"structure":60,"pace":"good","suggestions":[],"summary":"Sorry."},"error":"analysis: feedback generation failed"}`, wantClarity: 60, wantMessage: "analysis: feedback generation failed"},
		{name: "invalid feedback", status: http.StatusOK, body: `{"transcript":"x","feedback":{"clarity":900,"pace":"warp","summary":""}}`, wantClarity: feedback.FallbackScore},
		{name: "missing feedback", status: http.StatusOK, body: `{"transcript":"x"}`, wantClarity: feedback.FallbackScore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			resp, err := client.New(srv.URL).Analyze(context.Background(), audio.Clip{}, "a transcript", culture.General)
			if resp != nil {
				t.Errorf("resp = %+v, want nil on failure", resp)
			}
			var ae *client.AnalysisError
			if !errors.As(err, &ae) {
				t.Fatalf("err = %v, want AnalysisError", err)
			}
			if ae.Feedback.Clarity != tt.wantClarity {
				t.Errorf("feedback clarity = %d, want %d", ae.Feedback.Clarity, tt.wantClarity)
			}
			if err := ae.Feedback.Validate(); err != nil {
				t.Errorf("carried feedback invalid: %v", err)
			}
			if tt.wantMessage != "" && ae.Message != tt.wantMessage {
				t.Errorf("message = %q", ae.Message)
			}
			if tt.status != http.StatusOK && !strings.Contains(err.Error(), "502") {
				t.Errorf("error %q lacks status", err)
			}
		})
	}
}

func TestAnalyze_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := client.New(url).Analyze(context.Background(), audio.Clip{}, "a transcript", culture.General)
	var ae *client.AnalysisError
	if !errors.As(err, &ae) || ae.StatusCode != 0 {
		t.Fatalf("err = %v, want AnalysisError without status", err)
	}
}

func TestAnalyze_AgainstRealHandler(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "```json\n" +
		`{"fillerWords":[{"word":"so","count":2}],"clarity":66,"structure":58,"pace":"too fast","suggestions":["Breathe."],"summary":"Good energy, keep it up!"}` +
		"\n```"}}
	mux := http.NewServeMux()
	analysis.NewHandler(analysis.New(model), 0).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := client.New(srv.URL+"/v1/analyze").Analyze(context.Background(), audio.Clip{}, "so I think so we should ship it", culture.German)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if resp.Feedback.Pace != feedback.PaceTooFast || resp.Feedback.FillerWords[0].Word != "so" {
		t.Errorf("feedback = %+v", resp.Feedback)
	}
}

func TestAnalyze_InsufficientSpeechIsNotAnError(t *testing.T) {
	t.Parallel()

	model := &llmmock.Provider{}
	mux := http.NewServeMux()
	analysis.NewHandler(analysis.New(model), 0).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := client.New(srv.URL+"/v1/analyze").Analyze(context.Background(), audio.Clip{}, "um", culture.General)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !resp.InsufficientSpeech {
		t.Error("insufficientSpeech not reported")
	}
	if resp.Feedback.Clarity != feedback.InsufficientScore {
		t.Errorf("clarity = %d, want %d", resp.Feedback.Clarity, feedback.InsufficientScore)
	}
	if n := len(model.Calls()); n != 0 {
		t.Errorf("model called %d times for a short transcript", n)
	}
}
