// Package provider implements the market-data fetch layer: concrete HTTP
// clients, per-provider rate limiting and circuit breaking, and the
// priority-ordered fallback chain.
package provider

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/sawpanic/maverick/internal/models"
)

// ErrNoData marks a valid empty state: the upstream answered but had no
// bars for the symbol/range. Callers must treat it as an absence to skip,
// not a fault to retry.
var ErrNoData = errors.New("no data available")

// ErrUnavailable marks a transient provider fault (network, timeout, 5xx,
// open breaker). The chain advances to the next provider on it.
var ErrUnavailable = errors.New("provider unavailable")

// Provider is one upstream market-data source. Implementations must return
// bars in the canonical schema produced by Normalize.
type Provider interface {
	Name() string
	FetchBars(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error)
}

// Normalize converts provider rows to the canonical schema: upper-case
// symbol, timestamps collapsed to UTC trading dates, ascending date order,
// and at most one bar per date (the last one wins on duplicates, matching
// upsert semantics downstream).
func Normalize(symbol string, bars []models.Bar) []models.Bar {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	byDate := make(map[int64]models.Bar, len(bars))
	for _, b := range bars {
		b.Symbol = symbol
		b.Date = models.TradingDate(b.Date)
		byDate[b.Date.Unix()] = b
	}

	out := make([]models.Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
