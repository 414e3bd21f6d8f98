package handler

import (
	"context"
	"sort"
	"sync"
	"time"
)

const checkTimeout = 2 * time.Second

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthChecks runs a named set of dependency checks.
type HealthChecks struct {
	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewHealthChecks() *HealthChecks {
	return &HealthChecks{checks: make(map[string]HealthCheck)}
}

func (h *HealthChecks) Add(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *HealthChecks) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every check and returns the failing ones by name.
func (h *HealthChecks) Check(ctx context.Context) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	failures := make(map[string]string)
	for name, check := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(cctx)
		cancel()
		if err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}
