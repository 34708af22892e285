// Package health serves the liveness and readiness probes of the voice
// client's observability endpoint.
//
//   - GET /healthz — liveness; returns 200 as long as the process can serve
//     HTTP, with the current session state in the body.
//   - GET /readyz  — readiness; returns 200 only when every registered
//     [Checker] passes, 503 otherwise.
//
// Bodies are JSON, e.g.
//
//	{"status":"ok","session":"ACTIVE","checks":{"audio":{"ok":true}}}
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout caps a single readiness check. Checks against in-process state
// return instantly; the timeout guards custom checkers that go further.
const probeTimeout = 5 * time.Second

// StateFunc reports the current session lifecycle state, e.g. "IDLE" or
// "ACTIVE". It is called on every probe request and must be safe for
// concurrent use.
type StateFunc func() string

// Checker is a named readiness check. Check returns nil when the dependency
// can serve a session and an error describing the problem otherwise. It must
// respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// checkResult is the per-checker entry in the readiness response.
type checkResult struct {
	OK  bool   `json:"ok"`
	Err string `json:"error,omitempty"`
}

// probeResult is the JSON body of both probe endpoints.
type probeResult struct {
	Status  string                 `json:"status"`
	Session string                 `json:"session,omitempty"`
	Checks  map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. Safe for concurrent
// use; the session reporter and checker list are fixed at construction time.
type Handler struct {
	session  StateFunc
	checkers []Checker
}

// New creates a [Handler]. session may be nil, in which case the session
// field is omitted from responses. Checkers are evaluated sequentially in
// the order given on each /readyz request.
func New(session StateFunc, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{session: session, checkers: c}
}

// Healthz is the liveness probe: a process that can serve HTTP is alive, so
// it always returns 200 with the current session state.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := probeResult{Status: "ok"}
	if h.session != nil {
		res.Session = h.session()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz is the readiness probe: 200 only when every registered [Checker]
// passes. Each checker runs with a [probeTimeout] deadline derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := probeResult{
		Status: "ok",
		Checks: make(map[string]checkResult, len(h.checkers)),
	}
	if h.session != nil {
		res.Session = h.session()
	}

	code := http.StatusOK
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = checkResult{Err: err.Error()}
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = checkResult{OK: true}
	}

	writeJSON(w, code, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON with the given status code. On encoding
// failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
