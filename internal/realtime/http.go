package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/speechcoach/internal/observe"
)

// Request is the body of POST /v1/feedback/realtime. Text is the newly
// spoken portion of the transcript.
type Request struct {
	Text           string  `json:"text"`
	ElapsedSeconds float64 `json:"elapsedSeconds,omitempty"`
}

// Response carries the items computed for one request or stream frame.
type Response struct {
	Items []Item `json:"items"`
}

// StreamFrame is a client message on the feedback WebSocket. Transcript is
// the full transcript so far; Reset starts a new one.
type StreamFrame struct {
	Transcript string `json:"transcript"`
	Reset      bool   `json:"reset,omitempty"`
}

// Handler serves the realtime feedback endpoints.
type Handler struct {
	minWords int
	metrics  *observe.Metrics
	now      func() time.Time
}

// NewHandler returns a Handler whose stream connections require more than
// minWords new words before replying.
func NewHandler(minWords int, metrics *observe.Metrics) *Handler {
	return &Handler{minWords: minWords, metrics: metrics, now: time.Now}
}

// Register adds the realtime routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/feedback/realtime", h.evaluate)
	mux.HandleFunc("GET /v1/feedback/stream", h.stream)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid request body"}` + "\n"))
		return
	}
	elapsed := time.Duration(req.ElapsedSeconds * float64(time.Second))
	items := Evaluate(strings.Fields(req.Text), elapsed)
	h.record(r.Context(), items)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(Response{Items: items})
}

// stream keeps one Tracker per connection so each transcript word is
// evaluated once, however often the client resends the transcript.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("realtime: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	ctx := r.Context()
	log := observe.Logger(ctx)
	if h.metrics != nil {
		h.metrics.ActiveStreams.Add(ctx, 1)
		defer h.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
	}
	var tracker Tracker
	lastPass := h.now()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug("realtime: stream closed", "err", err)
			}
			return
		}
		var frame StreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = conn.Close(websocket.StatusUnsupportedData, "invalid frame")
			return
		}
		if frame.Reset {
			tracker.Reset()
			lastPass = h.now()
		}
		tracker.Sync(frame.Transcript)
		words, ok := tracker.Take(h.minWords)
		if !ok {
			continue
		}
		now := h.now()
		items := Evaluate(words, now.Sub(lastPass))
		lastPass = now
		h.record(ctx, items)

		out, _ := json.Marshal(Response{Items: items})
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			log.Debug("realtime: stream write failed", "err", err)
			return
		}
	}
}

func (h *Handler) record(ctx context.Context, items []Item) {
	if h.metrics == nil {
		return
	}
	for _, it := range items {
		h.metrics.RecordRealtimeItem(ctx, string(it.Kind))
	}
}
