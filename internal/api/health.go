package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthHandler reports liveness, and readiness of the backing store when one
// is configured.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	const endpoint = "health"
	const method = "GET"

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.Store.Ping(ctx); err != nil {
			s.Logger.Warn("health check store ping failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = err.Error()
		}
	}

	writeJSON(w, status, body)
	s.observe(endpoint, method, status, start)
}
