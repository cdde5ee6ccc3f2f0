package handlers

import (
	"context"
	"net/http"

	"github.com/tenpo-pos/core/internal/platform/httpx"
)

// ReadinessCheck reports whether a dependency is ready to serve.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	checks map[string]ReadinessCheck
}

// NewHealthHandlers constructs health handlers with optional named readiness
// checks.
func NewHealthHandlers() *HealthHandlers {
	return &HealthHandlers{checks: map[string]ReadinessCheck{}}
}

// AddCheck registers a named readiness check.
func (h *HealthHandlers) AddCheck(name string, check ReadinessCheck) {
	if h == nil || check == nil || name == "" {
		return
	}
	h.checks[name] = check
}

// Healthz is the liveness probe.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteSuccess(w, http.StatusOK, "healthz", map[string]string{"status": "ok"})
}

// Readyz runs every registered readiness check.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	statuses := map[string]string{}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			statuses[name] = err.Error()
			healthy = false
			continue
		}
		statuses[name] = "ok"
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteSuccess(w, status, "readyz", statuses)
}
