// Package health serves the liveness and readiness probes of the DoctorApp
// diagnostics listener.
//
//   - /healthz reports that the process is up. It never consults a dependency.
//   - /readyz runs every registered [Checker] and answers 503 when any of them
//     fails. The store and speech model checkers are built with [Database] and
//     [SpeechModel].
//
// Both endpoints answer with a JSON object carrying a top-level "status"
// ("ok" or "fail") and, for /readyz, a "checks" map keyed by checker name.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker names used by the built-in constructors.
const (
	NameDatabase    = "database"
	NameSpeechModel = "speech_model"
)

// ErrModelNotLoaded is reported by the [SpeechModel] checker while the
// recognizer is unavailable.
var ErrModelNotLoaded = errors.New("speech model not loaded")

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name is the key under which the outcome appears in the JSON body.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is implemented by the record store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelStatus is implemented by the speech engine.
type ModelStatus interface {
	ModelReady() bool
}

// Database returns a checker that pings the record store.
func Database(p Pinger) Checker {
	return Checker{Name: NameDatabase, Check: p.Ping}
}

// SpeechModel returns a checker that fails while no recognition model is
// loaded. A missing model disables dictation but leaves record keeping
// usable, so callers decide whether to register it.
func SpeechModel(m ModelStatus) Checker {
	return Checker{Name: NameSpeechModel, Check: func(context.Context) error {
		if !m.ModelReady() {
			return ErrModelNotLoaded
		}
		return nil
	}}
}

// result is the JSON response body for both endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction so the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates checkers in order on every /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 only when every checker passes within [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.evaluate(r.Context())
	code := http.StatusOK
	if res.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

func (h *Handler) evaluate(ctx context.Context) result {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for _, c := range h.checkers {
		if err := runCheck(ctx, c); err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	return res
}

func runCheck(ctx context.Context, c Checker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Check(ctx)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
