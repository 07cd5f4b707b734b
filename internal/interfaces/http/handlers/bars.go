package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/maverick/internal/cache"
	"github.com/sawpanic/maverick/internal/models"
)

const (
	defaultBarDays = 90
	maxBarDays     = 730
)

// BarSource reads persisted daily bars for the price-history endpoint.
type BarSource interface {
	Range(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error)
}

// SetBarSource wires the bar store into the price-history endpoint.
func (h *Handlers) SetBarSource(src BarSource) {
	h.bars = src
}

type barsResponse struct {
	Symbol string       `json:"symbol"`
	Count  int          `json:"count"`
	Bars   []models.Bar `json:"bars"`
}

// Bars serves stored daily bars for one symbol, newest window first by
// date ascending. Unknown symbols return an empty series, not an error.
func (h *Handlers) Bars(w http.ResponseWriter, r *http.Request) {
	if h.bars == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "bars_unavailable", "bar storage is not configured")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["symbol"]))
	if symbol == "" {
		h.writeError(w, r, http.StatusBadRequest, "invalid_symbol", "symbol is required")
		return
	}

	days := defaultBarDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_days", "days must be a positive integer")
			return
		}
		days = parsed
	}
	if days > maxBarDays {
		days = maxBarDays
	}

	key := cache.Key("bars", "range", symbol, strconv.Itoa(days))
	payload, err := h.cache.GetOrCompute(r.Context(), key, h.ttl, func(ctx context.Context) ([]byte, error) {
		bars, err := h.bars.Range(ctx, symbol, models.NewDateRange(time.Now(), days))
		if err != nil {
			return nil, err
		}
		if bars == nil {
			bars = []models.Bar{}
		}
		return json.Marshal(barsResponse{Symbol: symbol, Count: len(bars), Bars: bars})
	})
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "bars_read_failed", "failed to load bar history")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}
