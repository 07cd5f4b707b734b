// Package handlers implements the read-only JSON endpoints of the ops
// server: screening results, the ranked watchlist, scheduler status, and
// cache statistics.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sawpanic/maverick/internal/cache"
	"github.com/sawpanic/maverick/internal/models"
	"github.com/sawpanic/maverick/internal/scheduler"
	"github.com/sawpanic/maverick/internal/screen"
)

// ResultSource reads persisted ranked screening results.
type ResultSource interface {
	TopRanked(ctx context.Context, algorithm string, limit int) ([]models.ScreeningResult, error)
}

// StatusSource reports per-algorithm run state and freshness.
type StatusSource interface {
	Status(ctx context.Context) (*scheduler.Status, error)
}

// ResultCache is the read-through cache surface the handlers serve from.
type ResultCache interface {
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn cache.ComputeFunc) ([]byte, error)
	Stats() []cache.TierStats
}

// Handlers holds the endpoint dependencies.
type Handlers struct {
	results    ResultSource
	status     StatusSource
	cache      ResultCache
	algorithms []string
	ttl        time.Duration
	breakers   BreakerSource
	bars       BarSource
}

// New creates the handler set. algorithms is the set of valid algorithm
// path parameters; ttl caches rendered responses.
func New(results ResultSource, status StatusSource, c ResultCache, ttl time.Duration) *Handlers {
	return &Handlers{
		results:    results,
		status:     status,
		cache:      c,
		algorithms: []string{screen.AlgoMaverick, screen.AlgoBear, screen.AlgoBreakout},
		ttl:        ttl,
	}
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	if requestID == "" {
		requestID = "unknown"
	}

	h.writeJSON(w, status, errorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// requestIDKey is the context key the server middleware stores the request
// ID under.
type requestIDKey struct{}

// WithRequestID attaches a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func (h *Handlers) validAlgorithm(id string) bool {
	for _, a := range h.algorithms {
		if a == id {
			return true
		}
	}
	return false
}
