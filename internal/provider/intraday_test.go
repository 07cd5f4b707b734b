package provider

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/maverick/internal/models"
)

func TestConsolidateIntraday(t *testing.T) {
	px := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	at := func(h, m int) time.Time { return time.Date(2026, 8, 25, h, m, 0, 0, time.UTC) }

	// Out of order on purpose: consolidation sorts before picking
	// the session open and close.
	bars := []models.Bar{
		{Symbol: "AAPL", Date: at(15, 0), Open: px("212.00"), High: px("214.50"), Low: px("211.75"), Close: px("214.10"), Volume: 300},
		{Symbol: "AAPL", Date: at(13, 30), Open: px("210.00"), High: px("211.00"), Low: px("209.50"), Close: px("210.80"), Volume: 500},
		{Symbol: "AAPL", Date: at(14, 15), Open: px("210.80"), High: px("212.25"), Low: px("208.90"), Close: px("212.00"), Volume: 200},
	}

	day, ok := ConsolidateIntraday("AAPL", bars)
	require.True(t, ok)

	assert.Equal(t, "AAPL", day.Symbol)
	assert.Equal(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), day.Date)
	assert.True(t, day.Open.Equal(px("210.00")), "open of the earliest bar")
	assert.True(t, day.Close.Equal(px("214.10")), "close of the latest bar")
	assert.True(t, day.High.Equal(px("214.50")))
	assert.True(t, day.Low.Equal(px("208.90")))
	assert.Equal(t, int64(1000), day.Volume)
}

func TestConsolidateIntraday_Empty(t *testing.T) {
	_, ok := ConsolidateIntraday("AAPL", nil)
	assert.False(t, ok)
}
