package screen

import (
	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/indicator"
	"github.com/sawpanic/maverick/internal/models"
)

// Maverick is the bullish momentum screen: trend alignment across the
// 21-day EMA and 50/200-day SMAs plus a strong momentum percentile. Each
// satisfied criterion adds 25 points; a symbol qualifies at or above the
// configured candidate score.
type Maverick struct {
	bullMomentum   float64
	candidateScore float64
	minHistory     int
}

// NewMaverick builds the bullish screen from config thresholds.
func NewMaverick(cfg config.ScreeningConfig) *Maverick {
	return &Maverick{
		bullMomentum:   cfg.BullMomentum,
		candidateScore: cfg.CandidateScore,
		minHistory:     cfg.MinHistory,
	}
}

func (m *Maverick) ID() string      { return AlgoMaverick }
func (m *Maverick) MinHistory() int { return m.minHistory }

// Score evaluates one symbol.
func (m *Maverick) Score(symbol string, set *indicator.Set) Outcome {
	fields, reason := requireFields(set,
		indicator.FieldClose,
		indicator.FieldEMA21,
		indicator.FieldSMA50,
		indicator.FieldSMA200,
		indicator.FieldMomentum,
	)
	if reason != "" {
		return skip(reason)
	}

	score := 0.0
	if fields[indicator.FieldClose] > fields[indicator.FieldEMA21] {
		score += 25
	}
	if fields[indicator.FieldEMA21] > fields[indicator.FieldSMA50] {
		score += 25
	}
	if fields[indicator.FieldSMA50] > fields[indicator.FieldSMA200] {
		score += 25
	}
	if fields[indicator.FieldMomentum] > m.bullMomentum {
		score += 25
	}

	if score < m.candidateScore {
		return skip("below candidate score")
	}

	criteria := map[string]float64{
		indicator.FieldClose:    fields[indicator.FieldClose],
		indicator.FieldEMA21:    fields[indicator.FieldEMA21],
		indicator.FieldSMA50:    fields[indicator.FieldSMA50],
		indicator.FieldSMA200:   fields[indicator.FieldSMA200],
		indicator.FieldMomentum: fields[indicator.FieldMomentum],
	}
	if v, ok := set.Field(indicator.FieldSMA150); ok {
		criteria[indicator.FieldSMA150] = v
	}
	if v, ok := set.Field(indicator.FieldADRPct); ok {
		criteria[indicator.FieldADRPct] = v
	}
	if v, ok := set.Field(indicator.FieldATR14); ok {
		criteria[indicator.FieldATR14] = v
	}

	return scored(&models.ScreeningResult{
		Algorithm:    AlgoMaverick,
		Symbol:       symbol,
		Score:        score,
		DateAnalyzed: set.AsOf,
		Criteria:     criteria,
	})
}
