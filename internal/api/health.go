package api

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// handleHealth reports per-component readiness. Degraded pipeline
// components mark the service degraded; an unreachable database marks it
// unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Services: map[string]string{"api": "healthy"},
	}

	check := func(name string, ready bool) {
		if ready {
			resp.Services[name] = "healthy"
		} else {
			resp.Services[name] = "unavailable"
			resp.Status = "degraded"
		}
	}

	check("producer", s.deps.Producer != nil && s.deps.Producer.Ready())
	check("consumer", s.deps.Consumer != nil && s.deps.Consumer.Ready())
	check("relay", s.deps.Relay != nil && s.deps.Relay.Ready())

	status := http.StatusOK
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(ctx); err != nil {
			resp.Services["database"] = "disconnected"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			resp.Services["database"] = "healthy"
		}
	}

	s.writeJSON(w, status, resp)
}
