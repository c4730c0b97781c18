// Package client calls a remote analyze endpoint with an explicit deadline.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/speechcoach/internal/analysis"
	"github.com/MrWong99/speechcoach/pkg/audio"
	"github.com/MrWong99/speechcoach/pkg/culture"
	"github.com/MrWong99/speechcoach/pkg/feedback"
)

// DefaultTimeout bounds a single analyze call.
const DefaultTimeout = 45 * time.Second

const maxResponseBytes = 4 << 20

// TimeoutError is returned when the deadline passes before a response
// arrives. errors.Is(err, context.DeadlineExceeded) holds.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("client: analysis timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Feedback returns the substitute feedback for a timed-out call.
func (e *TimeoutError) Feedback() feedback.SpeechFeedback { return feedback.Fallback() }

// AnalysisError reports an unusable analysis. Feedback is always valid and
// is what the caller should show: the server's degraded feedback when it
// sent one, otherwise [feedback.Fallback].
type AnalysisError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	Message    string
	Transcript string
	Feedback   feedback.SpeechFeedback
	Err        error
}

func (e *AnalysisError) Error() string {
	switch {
	case e.StatusCode != 0 && e.StatusCode != http.StatusOK:
		return fmt.Sprintf("client: analysis failed: status %d", e.StatusCode)
	case e.Message != "":
		return "client: analysis failed: " + e.Message
	default:
		return fmt.Sprintf("client: analysis failed: %v", e.Err)
	}
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// FallbackFeedback returns the feedback carried by err, or
// [feedback.Fallback] when err carries none.
func FallbackFeedback(err error) feedback.SpeechFeedback {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Feedback
	}
	return feedback.Fallback()
}

// Client posts practice recordings to an analyze endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New returns a Client for the given endpoint URL.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{endpoint: endpoint, http: http.DefaultClient, timeout: DefaultTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Analyze sends the clip (when non-empty) and transcript for analysis.
// On success the returned response has valid feedback and no error text;
// InsufficientSpeech is set when the server had too little speech to score.
// Every failure is a [*TimeoutError] or an [*AnalysisError].
func (c *Client) Analyze(ctx context.Context, clip audio.Clip, transcript string, cc culture.Context) (*analysis.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := analysis.WireRequest{Transcript: transcript, CulturalContext: string(cc)}
	if !clip.Empty() {
		body.AudioData = clip.DataURL()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &AnalysisError{Feedback: feedback.Fallback(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &AnalysisError{Feedback: feedback.Fallback(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &AnalysisError{
			StatusCode: resp.StatusCode,
			Feedback:   feedback.Fallback(),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var out analysis.Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, c.transportError(ctx, err)
		}
		return nil, &AnalysisError{StatusCode: resp.StatusCode, Feedback: feedback.Fallback(), Err: fmt.Errorf("decode response: %w", err)}
	}

	fb, valid := feedback.Sanitize(&out.Feedback)
	if out.Error != "" {
		return nil, &AnalysisError{
			StatusCode: resp.StatusCode,
			Message:    out.Error,
			Transcript: out.Transcript,
			Feedback:   fb,
			Err:        errors.New(out.Error),
		}
	}
	if !valid {
		return nil, &AnalysisError{
			StatusCode: resp.StatusCode,
			Transcript: out.Transcript,
			Feedback:   fb,
			Err:        fmt.Errorf("invalid feedback in response: %w", out.Feedback.Validate()),
		}
	}
	out.Feedback = fb
	return &out, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.timeout}
	}
	return &AnalysisError{Feedback: feedback.Fallback(), Err: err}
}
