package handlers

import (
	"net/http"
)

// SchedulerStatus handles GET /scheduler/status: latest run per algorithm,
// the freshness floor, and the last completed cycle date.
func (h *Handlers) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.Status(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "status_read_failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// CacheStats handles GET /cache/stats: per-tier hit, miss, and eviction
// counters.
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tiers": h.cache.Stats(),
	})
}
