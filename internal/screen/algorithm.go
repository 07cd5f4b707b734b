// Package screen implements the three screening algorithms and the
// machinery that scores a universe and ranks the candidates.
package screen

import (
	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/indicator"
	"github.com/sawpanic/maverick/internal/models"
)

// Algorithm identifiers. These double as cache namespaces
// (v1:screening:<id>:...), so invalidation stays scoped per algorithm.
const (
	AlgoMaverick = "maverick"
	AlgoBear     = "bear"
	AlgoBreakout = "breakout"
)

// OutcomeKind tags a scoring outcome so callers branch explicitly instead
// of relying on error absence.
type OutcomeKind int

const (
	// Scored means the symbol qualified and produced a result row.
	Scored OutcomeKind = iota
	// Skipped means the symbol was excluded without error: insufficient
	// history, unavailable required indicators, or below threshold.
	Skipped
)

// Outcome is the tagged result of scoring one symbol.
type Outcome struct {
	Kind       OutcomeKind
	Result     *models.ScreeningResult
	SkipReason string
}

func skip(reason string) Outcome {
	return Outcome{Kind: Skipped, SkipReason: reason}
}

func scored(result *models.ScreeningResult) Outcome {
	return Outcome{Kind: Scored, Result: result}
}

// Algorithm scores one symbol's indicator set. Implementations hold no
// mutable state, so algorithms run independently and in any order.
type Algorithm interface {
	ID() string
	MinHistory() int
	Score(symbol string, set *indicator.Set) Outcome
}

// All returns the three algorithms configured with the given thresholds.
func All(cfg config.ScreeningConfig) []Algorithm {
	return []Algorithm{
		NewMaverick(cfg),
		NewBear(cfg),
		NewBreakout(cfg),
	}
}

// requireFields pulls the named fields from the set, reporting the first
// one that is missing or unavailable.
func requireFields(set *indicator.Set, names ...string) (map[string]float64, string) {
	if set == nil || !set.Computable {
		return nil, "insufficient history"
	}
	out := make(map[string]float64, len(names))
	for _, name := range names {
		v, ok := set.Field(name)
		if !ok {
			return nil, "indicator unavailable: " + name
		}
		out[name] = v
	}
	return out, ""
}
