package screen

import (
	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/indicator"
	"github.com/sawpanic/maverick/internal/models"
)

// Breakout is the supply/demand screen: price above properly stacked
// moving averages (close > SMA50 > SMA150 > SMA200), a very strong
// momentum percentile, and volume confirmation. The score blends momentum,
// an accumulation rating derived from the volume ratio, and breakout
// strength measured in ATRs above the 50-day SMA.
type Breakout struct {
	breakoutMomentum float64
	volumeRatio      float64
	minHistory       int
}

// NewBreakout builds the supply/demand screen from config thresholds.
func NewBreakout(cfg config.ScreeningConfig) *Breakout {
	return &Breakout{
		breakoutMomentum: cfg.BreakoutMomentum,
		volumeRatio:      cfg.BreakoutVolume,
		minHistory:       cfg.MinHistory,
	}
}

func (b *Breakout) ID() string      { return AlgoBreakout }
func (b *Breakout) MinHistory() int { return b.minHistory }

// Score evaluates one symbol.
func (b *Breakout) Score(symbol string, set *indicator.Set) Outcome {
	fields, reason := requireFields(set,
		indicator.FieldClose,
		indicator.FieldSMA50,
		indicator.FieldSMA150,
		indicator.FieldSMA200,
		indicator.FieldMomentum,
		indicator.FieldVolumeRatio,
		indicator.FieldATR14,
	)
	if reason != "" {
		return skip(reason)
	}

	close := fields[indicator.FieldClose]
	sma50 := fields[indicator.FieldSMA50]
	sma150 := fields[indicator.FieldSMA150]
	sma200 := fields[indicator.FieldSMA200]
	momentum := fields[indicator.FieldMomentum]
	volumeRatio := fields[indicator.FieldVolumeRatio]

	priceAboveAll := close > sma50 && sma50 > sma150 && sma150 > sma200
	if !priceAboveAll {
		return skip("moving averages not stacked")
	}
	if momentum <= b.breakoutMomentum {
		return skip("momentum below breakout threshold")
	}
	if volumeRatio <= b.volumeRatio {
		return skip("no volume confirmation")
	}

	accumulation := volumeRatio * 50
	if accumulation > 100 {
		accumulation = 100
	}

	breakoutStrength := 0.0
	if atr := fields[indicator.FieldATR14]; atr > 0 {
		breakoutStrength = (close - sma50) / atr
	}

	score := momentum*0.5 + accumulation*0.3 + breakoutStrength*20*0.2

	return scored(&models.ScreeningResult{
		Algorithm:    AlgoBreakout,
		Symbol:       symbol,
		Score:        score,
		DateAnalyzed: set.AsOf,
		Criteria: map[string]float64{
			indicator.FieldClose:       close,
			indicator.FieldSMA50:       sma50,
			indicator.FieldSMA150:      sma150,
			indicator.FieldSMA200:      sma200,
			indicator.FieldMomentum:    momentum,
			indicator.FieldVolumeRatio: volumeRatio,
			"accumulation_rating":      accumulation,
			"breakout_strength":        breakoutStrength,
		},
	})
}
