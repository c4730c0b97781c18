// Package whisper provides an STT provider for any server that implements the
// OpenAI-compatible POST /audio/transcriptions endpoint (OpenAI Whisper, Groq,
// a self-hosted faster-whisper or whisper.cpp server with the OpenAI shim).
//
// The provider offers two modes. [Provider.Transcribe] uploads one finalized
// recording and is what the analysis endpoint uses. [Provider.StartStream]
// simulates streaming for the practice client: it buffers incoming PCM,
// segments utterances with an energy-based silence detector and uploads each
// utterance as a WAV file, emitting the text as both a partial and a final.
//
// Usage:
//
//	p, err := whisper.New("https://api.openai.com/v1", apiKey,
//	    whisper.WithModel("whisper-1"),
//	    whisper.WithLanguage("en"),
//	)
//	text, err := p.Transcribe(ctx, stt.Audio{Data: webm, MimeType: "audio/webm"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/speechcoach/pkg/audio"
	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

const (
	defaultModel               = "whisper-1"
	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// responseFormat asks for plain text. Some compatible servers ignore it
	// and answer with JSON; both shapes are accepted.
	responseFormat = "text"

	// maxResponseBytes bounds how much of a reply is read.
	maxResponseBytes = 1 << 20
)

// Compile-time interface assertions.
var (
	_ stt.Transcriber    = (*Provider)(nil)
	_ stt.StreamProvider = (*Provider)(nil)
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model form field. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the ISO-639-1 language form field. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client used for uploads.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = hc
	}
}

// WithSampleRate sets the PCM sample rate assumed for streaming sessions
// that do not specify one. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithSilenceThresholdMs sets the consecutive-silence duration that ends an
// utterance in streaming mode. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) {
		p.silenceThresholdMs = ms
	}
}

// WithMaxBufferDurationMs sets the longest utterance buffered before an upload
// is forced in streaming mode. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) {
		p.maxBufferDurationMs = ms
	}
}

// Provider uploads audio to an OpenAI-compatible transcription endpoint.
type Provider struct {
	endpoint            string
	apiKey              string
	model               string
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New creates a Provider. baseURL is the API root that
// "/audio/transcriptions" is appended to, e.g. "https://api.openai.com/v1".
// apiKey may be empty for local servers without authentication.
func New(baseURL, apiKey string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: baseURL must not be empty")
	}
	p := &Provider{
		endpoint:            strings.TrimRight(baseURL, "/") + "/audio/transcriptions",
		apiKey:              apiKey,
		model:               defaultModel,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Transcriber.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio) (string, error) {
	if len(a.Data) == 0 {
		return "", stt.ErrEmptyAudio
	}
	mime := a.MimeType
	if mime == "" {
		mime = audio.MimeWebM
	}
	return p.upload(ctx, a.Data, "audio."+audio.FileExtension(mime), mime)
}

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("whisper: server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("whisper: server returned HTTP %d: %s", e.StatusCode, e.Body)
}

// upload POSTs data as multipart/form-data and returns the transcribed text.
func (p *Provider) upload(ctx context.Context, data []byte, filename, mime string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreatePart(fileHeader(filename, mime))
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", p.model},
		{"language", p.language},
		{"response_format", responseFormat},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(raw)), 200)}
	}
	return parseText(raw), nil
}

// parseText accepts either a JSON object with a "text" field or a plain text
// body.
func parseText(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var result struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(trimmed, &result); err == nil && result.Text != nil {
			return strings.TrimSpace(*result.Text)
		}
	}
	return string(trimmed)
}

func fileHeader(filename, mime string) textproto.MIMEHeader {
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)},
		"Content-Type":        {mime},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
