package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const readinessTimeout = 3 * time.Second

// HealthChecker is anything that can prove it is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	deps   []dependency
	logger *slog.Logger
}

type dependency struct {
	name     string
	checker  HealthChecker
	critical bool
}

// NewHealthHandler probes the durable store and the fast cache. The durable
// store is critical: without it nobody can register and cache misses cannot
// log in. The cache is not; losing it only slows requests down. A nil
// checker is reported as "not configured".
func NewHealthHandler(db, cache HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		deps: []dependency{
			{name: "postgres", checker: db, critical: true},
			{name: "redis", checker: cache},
		},
		logger: logger,
	}
}

// HealthResponse is the body of both probes.
type HealthResponse struct {
	OK     bool                   `json:"ok"`
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one dependency's probe outcome.
type CheckResult struct {
	Status    string  `json:"status"`
	LatencyMs float64 `json:"latency_ms"`
}

// Healthz reports process liveness without touching dependencies.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{OK: true, Status: "ok"})
}

// Readyz pings every dependency in parallel. It answers 503 only when a
// critical dependency is down; a failed cache yields 200 "degraded".
// Error text is logged, never returned, since it can carry connection URLs.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := make([]CheckResult, len(h.deps))
	var wg sync.WaitGroup
	for i, d := range h.deps {
		wg.Add(1)
		go func(i int, d dependency) {
			defer wg.Done()
			results[i] = h.probe(ctx, d)
		}(i, d)
	}
	wg.Wait()

	resp := HealthResponse{OK: true, Status: "ok", Checks: make(map[string]CheckResult, len(h.deps))}
	for i, d := range h.deps {
		resp.Checks[d.name] = results[i]
		if results[i].Status != "unavailable" {
			continue
		}
		if d.critical {
			resp.OK = false
			resp.Status = "unhealthy"
		} else if resp.OK {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if !resp.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *HealthHandler) probe(ctx context.Context, d dependency) CheckResult {
	if d.checker == nil {
		return CheckResult{Status: "not configured"}
	}
	start := time.Now()
	err := d.checker.Ping(ctx)
	res := CheckResult{Status: "ok", LatencyMs: msSince(start)}
	if err != nil {
		h.logger.Warn("readiness check failed", "dependency", d.name, "error", err)
		res.Status = "unavailable"
	}
	return res
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
