// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-zkauth.
//
// go-zkauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the health of the server or one of its components.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
	StatusDegraded  HealthStatus = "degraded"
)

// maxOutstandingLinks marks the link store degraded once exceeded.
const maxOutstandingLinks = 10000

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
}

// HealthCheckResponse represents the response for health check endpoints.
type HealthCheckResponse struct {
	Status  HealthStatus  `json:"status"`
	Message string        `json:"message,omitempty"`
	Version string        `json:"version,omitempty"`
	Uptime  string        `json:"uptime,omitempty"`
	Checks  []CheckResult `json:"checks,omitempty"`
}

type checkFunc func(ctx context.Context) CheckResult

// healthChecker follows Kubernetes probe semantics: liveness only fails
// when the process must be restarted, readiness fails while the server
// cannot take traffic.
type healthChecker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    []namedCheck
}

type namedCheck struct {
	name  string
	check checkFunc
}

func newHealthChecker(s *Server) *healthChecker {
	h := &healthChecker{startTime: time.Now()}
	h.register("issuer", func(context.Context) CheckResult {
		if s.issuer == nil || len(s.issuer.PublicKey()) == 0 {
			return CheckResult{Status: StatusUnhealthy, Message: "credential issuer unavailable"}
		}
		return CheckResult{Status: StatusHealthy}
	})
	h.register("links", func(context.Context) CheckResult {
		n := s.links.outstanding()
		status := StatusHealthy
		if n > maxOutstandingLinks {
			status = StatusDegraded
		}
		return CheckResult{Status: status, Message: fmt.Sprintf("%d outstanding", n)}
	})
	h.register("replay", func(context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d tracked nonces", s.replay.size())}
	})
	return h
}

func (h *healthChecker) register(name string, check checkFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

func (h *healthChecker) markStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
}

func (h *healthChecker) markStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = false
}

func (h *healthChecker) isStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

func (h *healthChecker) uptime() time.Duration {
	return time.Since(h.startTime).Round(time.Second)
}

func (h *healthChecker) ready(ctx context.Context) []CheckResult {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, 0, len(checks)+1)
	if !h.isStarted() {
		results = append(results, CheckResult{
			Name:    "startup",
			Status:  StatusUnhealthy,
			Message: "Service initialization not complete",
		})
	}
	for _, c := range checks {
		start := time.Now()
		result := c.check(ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = c.name
		}
		results = append(results, result)
	}
	return results
}

// aggregateStatus is unhealthy if any check is, else degraded if any
// check is.
func aggregateStatus(results []CheckResult) HealthStatus {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// HealthHandler handles GET /health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthCheckResponse{
		Status:  StatusHealthy,
		Version: s.version,
		Uptime:  s.health.uptime().String(),
	}, http.StatusOK)
}

// LivenessHandler handles GET /health/live.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthCheckResponse{
		Status:  StatusHealthy,
		Message: "Service is alive",
	}, http.StatusOK)
}

// ReadinessHandler handles GET /health/ready.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	results := s.health.ready(r.Context())
	status := aggregateStatus(results)

	resp := HealthCheckResponse{
		Status: status,
		Checks: results,
	}
	statusCode := http.StatusOK
	switch status {
	case StatusHealthy:
		resp.Message = "All checks passed"
	case StatusDegraded:
		resp.Message = "Service is degraded"
	case StatusUnhealthy:
		resp.Message = "One or more checks failed"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}
