package screen

import (
	"sort"

	"github.com/sawpanic/maverick/internal/indicator"
	"github.com/sawpanic/maverick/internal/models"
)

// compositeScore normalizes an algorithm's raw score to a 0-100 scale so
// candidates from different algorithms rank against each other in one
// watchlist. Bearish scores are flipped through the momentum percentile:
// the weaker the momentum, the stronger the bearish setup.
func compositeScore(result models.ScreeningResult) float64 {
	momentum := result.Criteria[indicator.FieldMomentum]
	switch result.Algorithm {
	case AlgoMaverick:
		return result.Score*0.6 + momentum*0.4
	case AlgoBear:
		return result.Score*0.6 + (100-momentum)*0.4
	case AlgoBreakout:
		return result.Score
	default:
		return result.Score
	}
}

// BuildWatchlist merges result sets from multiple algorithms into one
// deduplicated ranked list. A symbol surfaced by several algorithms keeps
// the highest composite score and the union of algorithm tags.
func BuildWatchlist(resultSets map[string][]models.ScreeningResult, maxSymbols int) []models.WatchlistEntry {
	merged := make(map[string]*models.WatchlistEntry)

	for algorithm, results := range resultSets {
		for _, result := range results {
			composite := compositeScore(result)
			entry, ok := merged[result.Symbol]
			if !ok {
				merged[result.Symbol] = &models.WatchlistEntry{
					Symbol:         result.Symbol,
					CompositeScore: composite,
					Algorithms:     []string{algorithm},
					ClosePrice:     result.Criteria[indicator.FieldClose],
					MomentumScore:  result.Criteria[indicator.FieldMomentum],
				}
				continue
			}

			if !containsString(entry.Algorithms, algorithm) {
				entry.Algorithms = append(entry.Algorithms, algorithm)
			}
			if composite > entry.CompositeScore {
				entry.CompositeScore = composite
				entry.ClosePrice = result.Criteria[indicator.FieldClose]
				entry.MomentumScore = result.Criteria[indicator.FieldMomentum]
			}
		}
	}

	watchlist := make([]models.WatchlistEntry, 0, len(merged))
	for _, entry := range merged {
		sort.Strings(entry.Algorithms)
		watchlist = append(watchlist, *entry)
	}

	sort.Slice(watchlist, func(i, j int) bool {
		if watchlist[i].CompositeScore != watchlist[j].CompositeScore {
			return watchlist[i].CompositeScore > watchlist[j].CompositeScore
		}
		return watchlist[i].Symbol < watchlist[j].Symbol
	})

	if maxSymbols > 0 && len(watchlist) > maxSymbols {
		watchlist = watchlist[:maxSymbols]
	}
	for i := range watchlist {
		watchlist[i].Rank = i + 1
	}
	return watchlist
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
