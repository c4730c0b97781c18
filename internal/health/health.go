// Package health serves the liveness and readiness checks of the analysis
// server.
//
// GET /healthz always answers 200 while the process can serve HTTP.
// GET /readyz runs every registered [Checker] concurrently. A failing
// required check answers 503 with status "fail"; a failing optional check
// keeps 200 but reports status "degraded", so a server without a language
// model stays routable (it still answers with fallback feedback) while the
// condition is visible.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/speechcoach/internal/kv"
	"github.com/MrWong99/speechcoach/internal/observe"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Check statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check.
type Checker struct {
	Name string

	// Check returns nil when the dependency is usable. It must respect
	// context cancellation.
	Check func(ctx context.Context) error

	// Optional failures degrade the status instead of failing the check.
	Optional bool
}

// Storage returns a required check pinging repo.
func Storage(repo kv.Repository) Checker {
	return Checker{Name: "storage", Check: repo.Ping}
}

// Configured returns an optional check that fails with err when ok is false.
func Configured(name string, ok bool, err error) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			if ok {
				return nil
			}
			return err
		},
	}
}

// Report is the JSON body of both checks.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness check.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	status := http.StatusOK
	if rep.Status == StatusFail {
		status = http.StatusServiceUnavailable
		observe.Logger(r.Context()).Warn("health: not ready", "checks", rep.Checks)
	}
	writeJSON(w, status, rep)
}

// Evaluate runs all checks concurrently and folds them into a Report.
func (h *Handler) Evaluate(ctx context.Context) Report {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
		}()
	}
	wg.Wait()

	rep := Report{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		if errs[i] == nil {
			rep.Checks[c.Name] = StatusOK
			continue
		}
		rep.Checks[c.Name] = StatusFail + ": " + errs[i].Error()
		switch {
		case !c.Optional:
			rep.Status = StatusFail
		case rep.Status == StatusOK:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
