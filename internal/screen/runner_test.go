package screen

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/indicator"
	"github.com/sawpanic/maverick/internal/models"
)

func TestRunner_RanksDeterministically(t *testing.T) {
	m := NewMaverick(config.Default().Screening)

	// Two symbols that tie at 100 and one weaker 75 candidate.
	sets := map[string]*indicator.Set{
		"ZZZZ": bullishSet(),
		"AAAA": bullishSet(),
		"MMMM": bullishSet(),
	}
	sets["MMMM"].Fields[indicator.FieldMomentum] = 10

	dateAnalyzed := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	runner := NewRunner(4)

	results, err := runner.Run(context.Background(), m, sets, dateAnalyzed)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Ties break by symbol so identical inputs always publish the same order.
	assert.Equal(t, "AAAA", results[0].Symbol)
	assert.Equal(t, "ZZZZ", results[1].Symbol)
	assert.Equal(t, "MMMM", results[2].Symbol)
	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, dateAnalyzed, r.DateAnalyzed)
	}
}

func TestRunner_SkipsDoNotProduceRows(t *testing.T) {
	b := NewBear(config.Default().Screening)

	sets := map[string]*indicator.Set{
		"BULL": bullishSet(),
		"THIN": {Computable: false},
	}

	results, err := NewRunner(2).Run(context.Background(), b, sets, time.Now())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunner_CancelledContext(t *testing.T) {
	m := NewMaverick(config.Default().Screening)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sets := map[string]*indicator.Set{"TEST": bullishSet()}
	_, err := NewRunner(1).Run(ctx, m, sets, time.Now())
	assert.Error(t, err)
}

func TestBuildWatchlist_MergesAndDeduplicates(t *testing.T) {
	date := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	resultSets := map[string][]models.ScreeningResult{
		AlgoMaverick: {
			{Algorithm: AlgoMaverick, Symbol: "AAPL", Score: 100, DateAnalyzed: date,
				Criteria: map[string]float64{indicator.FieldMomentum: 90, indicator.FieldClose: 210}},
			{Algorithm: AlgoMaverick, Symbol: "MSFT", Score: 75, DateAnalyzed: date,
				Criteria: map[string]float64{indicator.FieldMomentum: 72, indicator.FieldClose: 400}},
		},
		AlgoBreakout: {
			{Algorithm: AlgoBreakout, Symbol: "AAPL", Score: 88, DateAnalyzed: date,
				Criteria: map[string]float64{indicator.FieldMomentum: 90, indicator.FieldClose: 210}},
		},
		AlgoBear: {
			{Algorithm: AlgoBear, Symbol: "XOM", Score: 100, DateAnalyzed: date,
				Criteria: map[string]float64{indicator.FieldMomentum: 12, indicator.FieldClose: 95}},
		},
	}

	watchlist := BuildWatchlist(resultSets, 10)
	require.Len(t, watchlist, 3)

	bySymbol := map[string]models.WatchlistEntry{}
	for _, e := range watchlist {
		bySymbol[e.Symbol] = e
	}

	// AAPL appears in two algorithms: union of tags, max composite kept.
	aapl := bySymbol["AAPL"]
	assert.Equal(t, []string{AlgoBreakout, AlgoMaverick}, aapl.Algorithms)
	assert.InDelta(t, 100*0.6+90*0.4, aapl.CompositeScore, 1e-9) // maverick composite 96 > breakout 88

	xom := bySymbol["XOM"]
	assert.InDelta(t, 100*0.6+(100-12)*0.4, xom.CompositeScore, 1e-9)

	msft := bySymbol["MSFT"]
	assert.InDelta(t, 75*0.6+72*0.4, msft.CompositeScore, 1e-9)

	// Ranks follow composite order: AAPL 96.0, XOM 95.2, MSFT 73.8.
	assert.Equal(t, 1, bySymbol["AAPL"].Rank)
	assert.Equal(t, 2, bySymbol["XOM"].Rank)
	assert.Equal(t, 3, bySymbol["MSFT"].Rank)
}

func TestBuildWatchlist_TruncatesToMaxSymbols(t *testing.T) {
	date := time.Now()
	resultSets := map[string][]models.ScreeningResult{
		AlgoBreakout: {
			{Algorithm: AlgoBreakout, Symbol: "A", Score: 90, DateAnalyzed: date, Criteria: map[string]float64{}},
			{Algorithm: AlgoBreakout, Symbol: "B", Score: 80, DateAnalyzed: date, Criteria: map[string]float64{}},
			{Algorithm: AlgoBreakout, Symbol: "C", Score: 70, DateAnalyzed: date, Criteria: map[string]float64{}},
		},
	}

	watchlist := BuildWatchlist(resultSets, 2)
	require.Len(t, watchlist, 2)
	assert.Equal(t, "A", watchlist[0].Symbol)
	assert.Equal(t, "B", watchlist[1].Symbol)
}
