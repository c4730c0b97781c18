package progress

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/MrWong99/speechcoach/internal/observe"
)

// profilePattern limits profile names to URL- and key-safe identifiers.
var profilePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidProfile reports whether name can be used as a profile identifier.
func ValidProfile(name string) bool {
	return profilePattern.MatchString(name)
}

// RecordRequest is the body of POST /v1/profiles/{profile}/sessions.
type RecordRequest struct {
	DurationSeconds float64 `json:"durationSeconds"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Handler serves the profile statistics endpoints.
type Handler struct {
	store *Store
}

// NewHandler returns a Handler over store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Register adds the stats routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/profiles/{profile}/stats", h.getStats)
	mux.HandleFunc("POST /v1/profiles/{profile}/sessions", h.recordSession)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	profile := r.PathValue("profile")
	if !ValidProfile(profile) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid profile name"})
		return
	}
	stats, err := h.store.Load(r.Context(), profile)
	if err != nil {
		observe.Logger(r.Context()).Error("progress: load stats failed", "profile", profile, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) recordSession(w http.ResponseWriter, r *http.Request) {
	profile := r.PathValue("profile")
	if !ValidProfile(profile) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid profile name"})
		return
	}
	var req RecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	stats, err := h.store.RecordSession(r.Context(), profile, req.DurationSeconds)
	if errors.Is(err, ErrInvalidDuration) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("progress: record session failed", "profile", profile, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
