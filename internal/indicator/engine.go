// Package indicator computes technical indicator sets from daily bar
// series. The engine is pure: it never mutates its input, never persists
// anything, and never aborts a whole set because one field's inputs are
// degenerate.
package indicator

import (
	"time"

	"github.com/montanaflynn/stats"

	"github.com/sawpanic/maverick/internal/models"
)

// MinHistory is the bar count required for the full indicator set; the
// 200-day moving average is the longest lookback.
const MinHistory = 200

// Field names emitted by Compute.
const (
	FieldSMA20       = "sma_20"
	FieldSMA50       = "sma_50"
	FieldSMA150      = "sma_150"
	FieldSMA200      = "sma_200"
	FieldEMA21       = "ema_21"
	FieldRSI14       = "rsi_14"
	FieldMACD        = "macd"
	FieldMACDSignal  = "macd_signal"
	FieldMACDHist    = "macd_histogram"
	FieldATR14       = "atr_14"
	FieldADRPct      = "adr_pct"
	FieldVolumeSMA30 = "volume_sma_30"
	FieldVolumeRatio = "volume_ratio"
	FieldMomentum    = "momentum_score"
	FieldClose       = "close"
	FieldVolume      = "volume"
)

// Set is the named indicator output for one symbol as of one trading date.
// Fields whose inputs contain missing or undefined values are recorded in
// Unavailable instead of being fabricated as zero.
type Set struct {
	Symbol      string
	AsOf        time.Time
	Fields      map[string]float64
	Unavailable map[string]string
	Computable  bool
}

// Field returns a value and whether it is present and available.
func (s *Set) Field(name string) (float64, bool) {
	if s == nil || !s.Computable {
		return 0, false
	}
	if _, bad := s.Unavailable[name]; bad {
		return 0, false
	}
	v, ok := s.Fields[name]
	return v, ok
}

func (s *Set) markUnavailable(name, reason string) {
	delete(s.Fields, name)
	s.Unavailable[name] = reason
}

// Compute derives the indicator set from an ascending daily bar series.
// Bars shorter than MinHistory yield a non-computable set. Every division
// is guarded: a zero denominator marks only the dependent field
// unavailable and the rest of the set still computes.
func Compute(bars []models.Bar) *Set {
	set := &Set{
		Fields:      make(map[string]float64),
		Unavailable: make(map[string]string),
	}
	if len(bars) == 0 {
		return set
	}

	last := bars[len(bars)-1]
	set.Symbol = last.Symbol
	set.AsOf = last.Date
	if len(bars) < MinHistory {
		return set
	}
	set.Computable = true

	// Monetary fields stay decimal until this point; indicators are the
	// final numeric computation step.
	n := len(bars)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i], _ = b.Close.Float64()
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
		volumes[i] = float64(b.Volume)
	}

	set.Fields[FieldClose] = closes[n-1]
	set.Fields[FieldVolume] = volumes[n-1]

	set.Fields[FieldSMA20] = tailMean(closes, 20)
	set.Fields[FieldSMA50] = tailMean(closes, 50)
	set.Fields[FieldSMA150] = tailMean(closes, 150)
	set.Fields[FieldSMA200] = tailMean(closes, 200)
	set.Fields[FieldEMA21] = ema(closes, 21)

	computeRSI(set, closes)
	computeMACD(set, closes)
	computeATR(set, highs, lows, closes)
	computeADR(set, highs, lows, closes)
	computeVolume(set, volumes)
	computeMomentum(set, closes)

	return set
}

func tailMean(series []float64, window int) float64 {
	tail := series[len(series)-window:]
	mean, _ := stats.Mean(stats.Float64Data(tail))
	return mean
}

// ema is the adjust=false exponential moving average seeded on the first
// value; only the latest value is reported.
func ema(series []float64, span int) float64 {
	alpha := 2.0 / (float64(span) + 1.0)
	value := series[0]
	for _, v := range series[1:] {
		value = alpha*v + (1-alpha)*value
	}
	return value
}

func emaSeries(series []float64, span int) []float64 {
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(series))
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = alpha*series[i] + (1-alpha)*out[i-1]
	}
	return out
}

// computeRSI computes the 14-period RSI from simple rolling means of gains
// and losses. A zero average loss would divide by zero, so the field is
// marked unavailable instead of being pinned to 100.
func computeRSI(set *Set, closes []float64) {
	const window = 14
	n := len(closes)

	var gain, loss float64
	for i := n - window; i < n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	gain /= window
	loss /= window

	if loss == 0 {
		set.markUnavailable(FieldRSI14, "zero average loss")
		return
	}
	rs := gain / loss
	set.Fields[FieldRSI14] = 100 - (100 / (1 + rs))
}

func computeMACD(set *Set, closes []float64) {
	fast := emaSeries(closes, 12)
	slow := emaSeries(closes, 26)
	macd := make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}
	signal := emaSeries(macd, 9)

	last := len(closes) - 1
	set.Fields[FieldMACD] = macd[last]
	set.Fields[FieldMACDSignal] = signal[last]
	set.Fields[FieldMACDHist] = macd[last] - signal[last]
}

// computeATR computes the 14-period average true range.
func computeATR(set *Set, highs, lows, closes []float64) {
	const window = 14
	n := len(closes)

	var sum float64
	for i := n - window; i < n; i++ {
		tr := highs[i] - lows[i]
		if hc := abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		sum += tr
	}
	set.Fields[FieldATR14] = sum / window
}

// computeADR computes the 20-day average daily range as a percent of the
// close. A zero close inside the window would divide by zero.
func computeADR(set *Set, highs, lows, closes []float64) {
	const window = 20
	n := len(closes)

	var sum float64
	for i := n - window; i < n; i++ {
		if closes[i] == 0 {
			set.markUnavailable(FieldADRPct, "zero close in window")
			return
		}
		sum += (highs[i] - lows[i]) / closes[i] * 100
	}
	set.Fields[FieldADRPct] = sum / window
}

func computeVolume(set *Set, volumes []float64) {
	const window = 30
	sma := tailMean(volumes, window)
	set.Fields[FieldVolumeSMA30] = sma

	if sma == 0 {
		set.markUnavailable(FieldVolumeRatio, "zero average volume")
		return
	}
	set.Fields[FieldVolumeRatio] = volumes[len(volumes)-1] / sma
}

// computeMomentum ranks the latest trailing 252-day return against the
// symbol's own history of such returns, as a 0-100 percentile. Shorter
// histories fall back to the longest available lookback above MinHistory.
func computeMomentum(set *Set, closes []float64) {
	lookback := 252
	if len(closes) <= lookback {
		lookback = len(closes) - 1
	}

	var returns []float64
	for i := lookback; i < len(closes); i++ {
		base := closes[i-lookback]
		if base == 0 {
			if i == len(closes)-1 {
				set.markUnavailable(FieldMomentum, "zero base close for return")
				return
			}
			continue
		}
		returns = append(returns, closes[i]/base-1)
	}
	if len(returns) == 0 {
		set.markUnavailable(FieldMomentum, "no computable returns")
		return
	}

	latest := returns[len(returns)-1]
	var less, equal float64
	for _, r := range returns {
		switch {
		case r < latest:
			less++
		case r == latest:
			equal++
		}
	}
	// Average-rank percentile, matching pandas' rank(pct=true).
	rank := less + (equal+1)/2
	set.Fields[FieldMomentum] = rank / float64(len(returns)) * 100
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
