package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/examportal/trustcore/shared/api"
	"github.com/examportal/trustcore/shared/logger"
	"github.com/examportal/trustcore/shared/utils"
)

// Health answers liveness checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, api.HealthResponse{Status: "ok"})
}

// Ready answers readiness checks.
// Returns 503 Service Unavailable while the database is unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		logger.Log.Warn("readiness check failed", "component", "health", "error", err)
		utils.WriteJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "database unavailable"})
		return
	}
	writeJSON(w, api.HealthResponse{Status: "ok"})
}
