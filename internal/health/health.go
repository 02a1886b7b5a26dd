// Package health aggregates component liveness for the healthz endpoint.
package health

import (
	"context"
	"sync"
)

// Check probes one component; nil means healthy.
type Check func(ctx context.Context) error

// Registry holds named component checks.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Register adds or replaces a component check.
func (r *Registry) Register(component string, check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[component] = check
}

// Report is the healthz response body.
type Report struct {
	Status     string            `json:"status"` // "ok" or "degraded"
	Components map[string]string `json:"components"`
}

// Status runs every check and aggregates the result.
func (r *Registry) Status(ctx context.Context) Report {
	r.mu.RLock()
	checks := make(map[string]Check, len(r.checks))
	for name, c := range r.checks {
		checks[name] = c
	}
	r.mu.RUnlock()

	report := Report{Status: "ok", Components: make(map[string]string, len(checks))}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			report.Status = "degraded"
			report.Components[name] = "unhealthy: " + err.Error()
		} else {
			report.Components[name] = "healthy"
		}
	}
	return report
}

// Healthy reports whether every component check passes.
func (r *Registry) Healthy(ctx context.Context) bool {
	return r.Status(ctx).Status == "ok"
}
