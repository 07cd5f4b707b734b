package screen

import (
	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/indicator"
	"github.com/sawpanic/maverick/internal/models"
)

// Bear is the bearish screen: price below the 21-day EMA, the EMA below
// the 50-day SMA, a weak momentum percentile, and a negative MACD. Same
// 25-points-per-criterion mechanism as the bullish screen.
type Bear struct {
	bearMomentum   float64
	candidateScore float64
	minHistory     int
}

// NewBear builds the bearish screen from config thresholds.
func NewBear(cfg config.ScreeningConfig) *Bear {
	return &Bear{
		bearMomentum:   cfg.BearMomentum,
		candidateScore: cfg.CandidateScore,
		minHistory:     cfg.MinHistory,
	}
}

func (b *Bear) ID() string      { return AlgoBear }
func (b *Bear) MinHistory() int { return b.minHistory }

// Score evaluates one symbol.
func (b *Bear) Score(symbol string, set *indicator.Set) Outcome {
	fields, reason := requireFields(set,
		indicator.FieldClose,
		indicator.FieldEMA21,
		indicator.FieldSMA50,
		indicator.FieldMomentum,
		indicator.FieldMACD,
	)
	if reason != "" {
		return skip(reason)
	}

	score := 0.0
	if fields[indicator.FieldClose] < fields[indicator.FieldEMA21] {
		score += 25
	}
	if fields[indicator.FieldEMA21] < fields[indicator.FieldSMA50] {
		score += 25
	}
	if fields[indicator.FieldMomentum] < b.bearMomentum {
		score += 25
	}
	if fields[indicator.FieldMACD] < 0 {
		score += 25
	}

	if score < b.candidateScore {
		return skip("below candidate score")
	}

	criteria := map[string]float64{
		indicator.FieldClose:    fields[indicator.FieldClose],
		indicator.FieldEMA21:    fields[indicator.FieldEMA21],
		indicator.FieldSMA50:    fields[indicator.FieldSMA50],
		indicator.FieldMomentum: fields[indicator.FieldMomentum],
		indicator.FieldMACD:     fields[indicator.FieldMACD],
	}
	// RSI and the MACD trail are informational here, not gating criteria.
	if v, ok := set.Field(indicator.FieldRSI14); ok {
		criteria[indicator.FieldRSI14] = v
	}
	if v, ok := set.Field(indicator.FieldMACDSignal); ok {
		criteria[indicator.FieldMACDSignal] = v
	}
	if v, ok := set.Field(indicator.FieldMACDHist); ok {
		criteria[indicator.FieldMACDHist] = v
	}

	return scored(&models.ScreeningResult{
		Algorithm:    AlgoBear,
		Symbol:       symbol,
		Score:        score,
		DateAnalyzed: set.AsOf,
		Criteria:     criteria,
	})
}
