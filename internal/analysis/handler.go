package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/speechcoach/internal/observe"
	"github.com/MrWong99/speechcoach/pkg/culture"
	"github.com/MrWong99/speechcoach/pkg/feedback"
)

// DefaultMaxBodyBytes bounds the request body of the analyze endpoint.
const DefaultMaxBodyBytes = 25 << 20

// WireRequest is the JSON body of POST /v1/analyze.
type WireRequest struct {
	AudioData       string `json:"audioData,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
	CulturalContext string `json:"culturalContext,omitempty"`
}

// Response is the JSON body returned by POST /v1/analyze. The status is
// always 200; failures are reported in Error next to substitute feedback.
// InsufficientSpeech marks a transcript too short to score; it is not an
// error.
type Response struct {
	Transcript         string                  `json:"transcript"`
	Feedback           feedback.SpeechFeedback `json:"feedback"`
	Error              string                  `json:"error,omitempty"`
	InsufficientSpeech bool                    `json:"insufficientSpeech,omitempty"`
}

// NewResponse converts an analysis result to its wire form.
func NewResponse(res Result) Response {
	out := Response{Transcript: res.Transcript, Feedback: res.Feedback}
	switch {
	case errors.Is(res.Err, ErrInsufficientInput):
		out.InsufficientSpeech = true
	case res.Err != nil:
		out.Error = res.Err.Error()
	}
	return out
}

// Handler serves the analyze endpoint.
type Handler struct {
	analyzer *Analyzer
	maxBody  int64
}

// NewHandler returns a Handler over analyzer. maxBody <= 0 selects
// [DefaultMaxBodyBytes].
func NewHandler(analyzer *Analyzer, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handler{analyzer: analyzer, maxBody: maxBody}
}

// Register adds POST /v1/analyze to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/analyze", h)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("analysis: handler panic", "panic", rec)
			writeResponse(w, Response{
				Feedback: feedback.Fallback(),
				Error:    (&UnhandledError{Err: fmt.Errorf("panic: %v", rec)}).Error(),
			})
		}
	}()

	var req WireRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		log.Warn("analysis: invalid request body", "err", err)
		writeResponse(w, Response{
			Feedback: feedback.Fallback(),
			Error:    (&UnhandledError{Err: fmt.Errorf("invalid request body: %w", err)}).Error(),
		})
		return
	}

	res := h.analyzer.Analyze(ctx, Request{
		AudioData:  req.AudioData,
		Transcript: req.Transcript,
		Culture:    culture.Resolve(req.CulturalContext),
	})
	writeResponse(w, NewResponse(res))
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("analysis: write response failed", "err", err)
	}
}
