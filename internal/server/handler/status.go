package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the engine status for dashboards.
type StatusHandler struct {
	Mode      string
	Adapters  []string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, adapters []string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, Adapters: adapters, StartedAt: startedAt}
}

// GetStatus responds with the current mode, registered conversion adapters,
// and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":       h.Mode,
		"adapters":   h.Adapters,
		"started_at": h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_sec": int64(time.Since(h.StartedAt).Seconds()),
	})
}
