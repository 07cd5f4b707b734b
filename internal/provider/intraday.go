package provider

import (
	"sort"

	"github.com/sawpanic/maverick/internal/models"
)

// ConsolidateIntraday merges one trading day of intraday bars into a
// synthetic daily bar: first open, last close, extreme high/low, summed
// volume. Returns false when the input is empty. The resulting bar carries
// the trading date of the first input bar, so it upserts onto the same
// natural key a real end-of-day bar would.
func ConsolidateIntraday(symbol string, bars []models.Bar) (models.Bar, bool) {
	if len(bars) == 0 {
		return models.Bar{}, false
	}

	ordered := make([]models.Bar, len(bars))
	copy(ordered, bars)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })

	day := models.Bar{
		Symbol: symbol,
		Date:   models.TradingDate(ordered[0].Date),
		Open:   ordered[0].Open,
		High:   ordered[0].High,
		Low:    ordered[0].Low,
		Close:  ordered[len(ordered)-1].Close,
	}
	for _, b := range ordered {
		if b.High.GreaterThan(day.High) {
			day.High = b.High
		}
		if b.Low.LessThan(day.Low) {
			day.Low = b.Low
		}
		day.Volume += b.Volume
	}
	return day, true
}
