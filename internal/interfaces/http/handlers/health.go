package handlers

import (
	"net/http"
	"time"
)

// BreakerSource reports provider circuit states for the health surface.
type BreakerSource interface {
	BreakerStates() map[string]string
}

// healthResponse is the GET /health envelope.
type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Circuits  map[string]string `json:"circuits,omitempty"`
}

// SetBreakerSource wires the provider chain into the health endpoint.
// Optional: health works without it.
func (h *Handlers) SetBreakerSource(src BreakerSource) {
	h.breakers = src
}

// Health handles GET /health endpoint
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	}
	if h.breakers != nil {
		resp.Circuits = h.breakers.BreakerStates()
		for _, state := range resp.Circuits {
			if state != "closed" {
				resp.Status = "degraded"
			}
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}
