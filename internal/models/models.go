// Package models holds the shared data types that flow between the
// provider, cache, screening, and scheduler layers.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bar is one daily OHLCV bar. Monetary fields stay fixed-point decimal
// end-to-end; they are only converted to float64 at the final indicator
// computation step. Date is the exchange-local trading date normalized to
// UTC midnight, so (Symbol, Date) is a natural key.
type Bar struct {
	Symbol string          `json:"symbol" db:"symbol"`
	Date   time.Time       `json:"date" db:"bar_date"`
	Open   decimal.Decimal `json:"open" db:"open"`
	High   decimal.Decimal `json:"high" db:"high"`
	Low    decimal.Decimal `json:"low" db:"low"`
	Close  decimal.Decimal `json:"close" db:"close"`
	Volume int64           `json:"volume" db:"volume"`
}

// DateRange is a closed interval of trading dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange builds a range from a lookback window ending at end.
func NewDateRange(end time.Time, lookbackDays int) DateRange {
	return DateRange{
		Start: TradingDate(end.AddDate(0, 0, -lookbackDays)),
		End:   TradingDate(end),
	}
}

// TradingDate truncates a timestamp to its UTC calendar date. All bar
// timestamps pass through here so there is no time-of-day ambiguity in
// the natural key.
func TradingDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RunStatus is the lifecycle of one algorithm run inside a scheduler cycle.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ScreeningRun is one record per algorithm per scheduler invocation. It is
// first-class state: freshness and failure isolation are derived from these
// records, never inferred from result timestamps.
type ScreeningRun struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Algorithm    string     `json:"algorithm" db:"algorithm"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Status       RunStatus  `json:"status" db:"status"`
	ErrorDetail  string     `json:"error_detail,omitempty" db:"error_detail"`
	DateAnalyzed time.Time  `json:"date_analyzed" db:"date_analyzed"`
	Candidates   int        `json:"candidates" db:"candidates"`
}

// ScreeningResult is one ranked row in an algorithm's result set. Within a
// single result set every row carries the same DateAnalyzed.
type ScreeningResult struct {
	Algorithm    string             `json:"algorithm" db:"algorithm"`
	Symbol       string             `json:"symbol" db:"symbol"`
	Score        float64            `json:"score" db:"score"`
	Rank         int                `json:"rank" db:"rank"`
	DateAnalyzed time.Time          `json:"date_analyzed" db:"date_analyzed"`
	Criteria     map[string]float64 `json:"criteria,omitempty"`
}

func (r ScreeningResult) String() string {
	return fmt.Sprintf("%s %s score=%.1f rank=%d", r.Algorithm, r.Symbol, r.Score, r.Rank)
}

// WatchlistEntry is one row of the merged, deduplicated cross-algorithm
// watchlist. CompositeScore is normalized to 0-100 so rows from different
// algorithms rank against each other.
type WatchlistEntry struct {
	Symbol         string   `json:"symbol"`
	CompositeScore float64  `json:"composite_score"`
	Rank           int      `json:"rank"`
	Algorithms     []string `json:"algorithms"`
	ClosePrice     float64  `json:"close_price"`
	MomentumScore  float64  `json:"momentum_score"`
}
