package screen

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/maverick/internal/indicator"
	"github.com/sawpanic/maverick/internal/models"
)

// Runner scores a universe of pre-computed indicator sets against one
// algorithm with a bounded worker pool, then publishes a deterministic
// ranking.
type Runner struct {
	concurrency int
}

// NewRunner creates a runner with the given per-algorithm scoring
// concurrency cap.
func NewRunner(concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Runner{concurrency: concurrency}
}

// Run scores every symbol, collects candidates, and ranks them descending
// by score with ties broken by symbol so the published order is
// deterministic for identical inputs. Every result row is stamped with
// dateAnalyzed — the latest trading date with sufficient history at run
// time — so a result set never mixes trading days.
func (r *Runner) Run(ctx context.Context, algo Algorithm, sets map[string]*indicator.Set, dateAnalyzed time.Time) ([]models.ScreeningResult, error) {
	var (
		mu      sync.Mutex
		results []models.ScreeningResult
		skipped int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for symbol, set := range sets {
		symbol, set := symbol, set
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			outcome := algo.Score(symbol, set)
			mu.Lock()
			defer mu.Unlock()
			if outcome.Kind == Scored {
				result := *outcome.Result
				result.DateAnalyzed = dateAnalyzed
				results = append(results, result)
			} else {
				skipped++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Symbol < results[j].Symbol
	})
	for i := range results {
		results[i].Rank = i + 1
	}

	log.Info().Str("algorithm", algo.ID()).
		Int("candidates", len(results)).Int("skipped", skipped).
		Time("date_analyzed", dateAnalyzed).
		Msg("screening run complete")
	return results, nil
}
