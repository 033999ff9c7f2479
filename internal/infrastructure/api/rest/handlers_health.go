package rest

import (
	"net/http"
	"time"

	"github.com/notifyx/notifyx/internal/domain"
)

// HealthCheck is one named probe result.
type HealthCheck struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description,omitempty"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status        string        `json:"status"`
	TotalDuration float64       `json:"totalDuration"`
	Checks        []HealthCheck `json:"checks"`
}

// handleHealth runs all health checks. 200 for Healthy/Degraded, 503
// for Unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var checks []HealthCheck
	overall := domain.HealthStatusHealthy

	runCheck := func(name string, probe func() (domain.HealthStatus, string)) {
		checkStart := time.Now()
		status, description := probe()
		checks = append(checks, HealthCheck{
			Name:        name,
			Status:      status.String(),
			Duration:    time.Since(checkStart).Seconds(),
			Description: description,
		})
		if status == domain.HealthStatusUnhealthy {
			overall = domain.HealthStatusUnhealthy
		} else if status == domain.HealthStatusDegraded && overall == domain.HealthStatusHealthy {
			overall = domain.HealthStatusDegraded
		}
	}

	runCheck("queue", func() (domain.HealthStatus, string) {
		return s.services.Queue.Health(), ""
	})
	runCheck("providers", func() (domain.HealthStatus, string) {
		worst := domain.HealthStatusHealthy
		for name, status := range s.services.Providers.Health() {
			if status == domain.HealthStatusUnhealthy {
				return status, "provider " + name + " unhealthy"
			}
			if status == domain.HealthStatusDegraded {
				worst = status
			}
		}
		return worst, ""
	})
	runCheck("dlq", func() (domain.HealthStatus, string) {
		if s.services.DLQ.Len() > 1000 {
			return domain.HealthStatusDegraded, "dead-letter backlog"
		}
		return domain.HealthStatusHealthy, ""
	})

	status := http.StatusOK
	if overall == domain.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{
		Status:        overall.String(),
		TotalDuration: time.Since(started).Seconds(),
		Checks:        checks,
	})
}

// handleHealthReady reports readiness to take traffic.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	s.handleHealth(w, r)
}

// handleHealthLive reports process liveness.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: domain.HealthStatusHealthy.String(),
		Checks: []HealthCheck{},
	})
}
