package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves the unauthenticated liveness endpoint that load
// balancers and the deploy scripts poll.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// HealthCheck reports that the engine process is up. It deliberately checks
// nothing downstream; Postgres or Redis trouble surfaces through request
// errors, not through the liveness probe.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "memepit",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
