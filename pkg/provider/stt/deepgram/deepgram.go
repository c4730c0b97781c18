// Package deepgram provides a streaming recognizer backed by the Deepgram
// live WebSocket API. Filler-word transcription is on by default so "um" and
// "uh" reach the live transcript instead of being smoothed away.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// Deepgram drops a connection after ~10s without audio or KeepAlive.
	defaultKeepAlive = 4 * time.Second
)

var _ stt.StreamProvider = (*Provider)(nil)

// Provider opens Deepgram live sessions.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	sampleRate  int
	fillerWords bool
	keepAlive   time.Duration
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Deepgram model, e.g. "nova-3".
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the default BCP-47 language.
func WithLanguage(language string) Option { return func(p *Provider) { p.language = language } }

// WithSampleRate sets the default PCM sample rate in Hz.
func WithSampleRate(rate int) Option { return func(p *Provider) { p.sampleRate = rate } }

// WithEndpoint overrides the WebSocket endpoint (self-hosted Deepgram, tests).
func WithEndpoint(endpoint string) Option { return func(p *Provider) { p.endpoint = endpoint } }

// WithFillerWords toggles Deepgram's filler_words flag.
func WithFillerWords(enabled bool) Option { return func(p *Provider) { p.fillerWords = enabled } }

// WithKeepAlive sets how long the sender may stay silent before a KeepAlive
// frame is sent. Zero or negative disables keepalives.
func WithKeepAlive(d time.Duration) Option { return func(p *Provider) { p.keepAlive = d } }

// New returns a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		fillerWords: true,
		keepAlive:   defaultKeepAlive,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and returns a live session. Non-zero fields of
// cfg override the provider defaults. The session is not bound to ctx after
// the dial; it ends with Close.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	return startSession(context.WithoutCancel(ctx), conn, p.keepAlive), nil
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := orDefault(cfg.Language, p.language)
	rate := p.sampleRate
	if cfg.SampleRate > 0 {
		rate = cfg.SampleRate
	}

	q := url.Values{
		"model":           {p.model},
		"language":        {lang},
		"encoding":        {"linear16"},
		"sample_rate":     {strconv.Itoa(rate)},
		"punctuate":       {"true"},
		"interim_results": {"true"},
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if p.fillerWords {
		q.Set("filler_words", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
