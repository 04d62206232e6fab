package api

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// health handles GET /health. It is public and reports 503 when the Docker
// daemon or the store does not answer.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:   "ok",
		Docker:   probe(ctx, h.docker),
		Database: probe(ctx, h.database),
	}
	status := http.StatusOK
	if resp.Docker == "unreachable" || resp.Database == "unreachable" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
		h.logger.Warn("health check degraded", "docker", resp.Docker, "database", resp.Database)
	}
	writeJSON(w, status, resp)
}

func probe(ctx context.Context, p Pinger) string {
	if p == nil {
		return "unconfigured"
	}
	if err := p.Ping(ctx); err != nil {
		return "unreachable"
	}
	return "ok"
}
