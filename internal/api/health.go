package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency check.
const healthCheckTimeout = 2 * time.Second

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependency is a named health check. A failing critical dependency makes
// /health answer 503; a failing optional one only marks it degraded.
type Dependency struct {
	Name     string
	Checker  HealthChecker
	Critical bool
}

type healthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Checks:        make(map[string]string, len(s.deps)),
	}
	status := http.StatusOK

	for _, dep := range s.deps {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := dep.Checker.HealthCheck(ctx)
		cancel()

		if err == nil {
			resp.Checks[dep.Name] = "ok"
			continue
		}

		s.logger.Warn("health check failed", "dependency", dep.Name, "error", err)
		resp.Checks[dep.Name] = "unavailable"
		if dep.Critical {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		} else if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, status, resp)
}
