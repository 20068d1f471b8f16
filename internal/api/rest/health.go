package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/epam/modular-api/internal/version"
)

// HealthCheck reports process liveness and store reachability.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "store unreachable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Server,
	})
}
