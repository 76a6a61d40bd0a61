// Package health serves the liveness and readiness probes.
//
// Liveness (/healthz) only proves the process can answer HTTP. Readiness
// (/readyz) runs every registered [Checker] concurrently and reports 503
// when any of them fails, so a deployment does not route meetings to an
// instance whose store or transcriber is down.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeDeadline bounds each individual readiness check.
const probeDeadline = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency can
// serve traffic and must honor ctx cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// checkResult is one entry of the readiness report.
type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Handler answers both probe endpoints. The checker set is fixed at
// construction; Handler itself holds no mutable state.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200: a process that reached this handler is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz runs all checkers concurrently and answers 200 only when every one
// passes. Each check gets its own deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeDeadline)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			results[i] = checkResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = "fail"
				results[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()

	report := struct {
		Status string                 `json:"status"`
		Checks map[string]checkResult `json:"checks,omitempty"`
	}{Status: "ok", Checks: make(map[string]checkResult, len(h.checkers))}

	code := http.StatusOK
	for i, c := range h.checkers {
		report.Checks[c.Name] = results[i]
		if results[i].Status != "ok" {
			report.Status = "fail"
			code = http.StatusServiceUnavailable
		}
	}
	respond(w, code, report)
}

func respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
