// Package scheduler runs the daily screening cycle: refresh bars for the
// active universe, compute indicators, score every algorithm, and publish
// ranked results with scoped cache invalidation. One algorithm failing
// never blocks the others; each run is recorded as first-class state.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/maverick/internal/cache"
	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/indicator"
	"github.com/sawpanic/maverick/internal/metrics"
	"github.com/sawpanic/maverick/internal/models"
	"github.com/sawpanic/maverick/internal/provider"
	"github.com/sawpanic/maverick/internal/screen"
)

// ErrCycleAlreadyCompleted is returned when a cycle has already run to
// completion for today's date. The marker is persisted, so a process
// restart on the same day does not re-run the cycle.
var ErrCycleAlreadyCompleted = errors.New("screening cycle already completed for this date")

// BarSource fetches daily bars from upstream, normally the provider chain.
type BarSource interface {
	FetchBars(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error)
}

// IntradaySource fetches today's intraday bars for the optional top-up: a
// cycle triggered before the close consolidates them into a synthetic
// daily bar so screening sees today's prices.
type IntradaySource interface {
	FetchIntradayBars(ctx context.Context, symbol string, day time.Time) ([]models.Bar, error)
}

// BarStore persists and reads daily bars.
type BarStore interface {
	UpsertBatch(ctx context.Context, bars []models.Bar) (int, error)
	History(ctx context.Context, symbol string, limit int) ([]models.Bar, error)
}

// ResultStore persists ranked screening results.
type ResultStore interface {
	ReplaceForRun(ctx context.Context, algorithm string, dateAnalyzed time.Time, results []models.ScreeningResult) error
}

// RunStore persists per-algorithm run records.
type RunStore interface {
	Insert(ctx context.Context, run models.ScreeningRun) error
	Complete(ctx context.Context, run models.ScreeningRun) error
	LatestByAlgorithms(ctx context.Context, algorithms []string) (map[string]models.ScreeningRun, error)
	FreshnessFloor(ctx context.Context, algorithms []string) (time.Time, error)
}

// MarkerStore persists the daily cycle-completed marker.
type MarkerStore interface {
	LastCompletedCycle(ctx context.Context) (time.Time, error)
	MarkCompleted(ctx context.Context, cycleDate time.Time) error
}

// UniverseStore lists the symbols under active coverage.
type UniverseStore interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// Cache is the slice of the tiered cache the scheduler writes to and
// invalidates. Invalidation is always by namespace prefix, never global.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string) error
}

// historyLimit bounds the bar series loaded per symbol for indicator
// computation: two trading years, enough for the 252-day momentum window
// on top of the 200-day averages.
const historyLimit = 504

// Scheduler owns the daily cycle.
type Scheduler struct {
	cfg        config.SchedulerConfig
	source     BarSource
	intraday   IntradaySource
	bars       BarStore
	results    ResultStore
	runs       RunStore
	markers    MarkerStore
	universe   UniverseStore
	cache      Cache
	algorithms []screen.Algorithm
	runner     *screen.Runner
	barTTL     time.Duration

	now func() time.Time
}

// Deps carries everything the scheduler needs. All stores are interfaces
// so tests can substitute in-memory fakes.
type Deps struct {
	Source     BarSource
	Intraday   IntradaySource
	Bars       BarStore
	Results    ResultStore
	Runs       RunStore
	Markers    MarkerStore
	Universe   UniverseStore
	Cache      Cache
	Algorithms []screen.Algorithm
	BarTTL     time.Duration
}

// New creates a scheduler.
func New(cfg config.SchedulerConfig, deps Deps) *Scheduler {
	barTTL := deps.BarTTL
	if barTTL == 0 {
		barTTL = 4 * time.Hour
	}
	return &Scheduler{
		cfg:        cfg,
		source:     deps.Source,
		intraday:   deps.Intraday,
		bars:       deps.Bars,
		results:    deps.Results,
		runs:       deps.Runs,
		markers:    deps.Markers,
		universe:   deps.Universe,
		cache:      deps.Cache,
		algorithms: deps.Algorithms,
		runner:     screen.NewRunner(cfg.ScoreConcurrency),
		barTTL:     barTTL,
		now:        time.Now,
	}
}

// CycleReport summarizes one completed cycle.
type CycleReport struct {
	CycleDate    time.Time                      `json:"cycle_date"`
	DateAnalyzed time.Time                      `json:"date_analyzed"`
	Symbols      int                            `json:"symbols"`
	BarsUpserted int                            `json:"bars_upserted"`
	Runs         map[string]models.ScreeningRun `json:"runs"`
	Duration     time.Duration                  `json:"duration"`
}

// RunCycle executes one full screening cycle. If a completed marker
// already exists for today it returns ErrCycleAlreadyCompleted without
// touching anything. The marker is written only after at least one
// algorithm succeeds, so a fully failed cycle can be retried the same day.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleReport, error) {
	started := s.now()
	cycleDate := models.TradingDate(started)

	last, err := s.markers.LastCompletedCycle(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cycle marker: %w", err)
	}
	if !last.Before(cycleDate) {
		return nil, ErrCycleAlreadyCompleted
	}

	symbols, err := s.universe.ActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active universe: %w", err)
	}
	if len(symbols) == 0 {
		return nil, errors.New("active universe is empty")
	}

	log.Info().Time("cycle_date", cycleDate).Int("symbols", len(symbols)).
		Msg("screening cycle started")

	upserted := s.refreshBars(ctx, symbols, s.cfg.DailyLookbackDays)
	if s.cfg.IntradayTopUp && s.intraday != nil {
		upserted += s.topUpIntraday(ctx, symbols)
	}

	sets, dateAnalyzed, err := s.computeSets(ctx, symbols)
	if err != nil {
		return nil, err
	}

	runs := s.runAlgorithms(ctx, sets, dateAnalyzed)

	succeeded := make([]string, 0, len(runs))
	for id, run := range runs {
		if run.Status == models.RunSucceeded {
			succeeded = append(succeeded, id)
		}
	}

	// Invalidate only the namespaces of algorithms that produced new
	// results; stale-but-valid data for a failed algorithm stays served.
	for _, id := range succeeded {
		if err := s.cache.Invalidate(ctx, cache.Namespace("screening", id)); err != nil {
			log.Warn().Err(err).Str("algorithm", id).Msg("cache invalidation failed")
		}
	}
	if len(succeeded) > 0 {
		if err := s.cache.Invalidate(ctx, cache.Namespace("screening", "ranked")); err != nil {
			log.Warn().Err(err).Msg("ranked watchlist invalidation failed")
		}
		if err := s.markers.MarkCompleted(ctx, cycleDate); err != nil {
			log.Error().Err(err).Msg("failed to persist cycle marker")
		}
	}

	// Opportunistic housekeeping on the persistent cache tier.
	if purger, ok := s.cache.(interface {
		PurgeExpired(ctx context.Context) (int64, error)
	}); ok {
		if n, err := purger.PurgeExpired(ctx); err != nil {
			log.Warn().Err(err).Msg("expired cache purge failed")
		} else if n > 0 {
			log.Debug().Int64("entries", n).Msg("purged expired cache entries")
		}
	}

	duration := s.now().Sub(started)
	metrics.CycleDuration.Observe(duration.Seconds())

	report := &CycleReport{
		CycleDate:    cycleDate,
		DateAnalyzed: dateAnalyzed,
		Symbols:      len(symbols),
		BarsUpserted: upserted,
		Runs:         runs,
		Duration:     duration,
	}
	log.Info().Time("cycle_date", cycleDate).Time("date_analyzed", dateAnalyzed).
		Int("succeeded", len(succeeded)).Int("algorithms", len(runs)).
		Dur("duration", duration).Msg("screening cycle finished")
	return report, nil
}

// refreshBars tops up recent bars for every symbol with a bounded worker
// pool. Per-symbol failures are logged and skipped: screening proceeds on
// whatever history is already persisted.
func (s *Scheduler) refreshBars(ctx context.Context, symbols []string, lookbackDays int) int {
	rng := models.NewDateRange(s.now(), lookbackDays)

	var (
		mu       sync.Mutex
		upserted int
		failed   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			bars, err := s.source.FetchBars(gctx, symbol, rng)
			if err != nil {
				if !errors.Is(err, provider.ErrNoData) {
					mu.Lock()
					failed++
					mu.Unlock()
					log.Warn().Err(err).Str("symbol", symbol).Msg("bar refresh failed, using stored history")
				}
				return nil
			}

			n, err := s.bars.UpsertBatch(gctx, bars)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				log.Error().Err(err).Str("symbol", symbol).Msg("bar upsert failed")
				return nil
			}
			metrics.BarsUpserted.Add(float64(n))
			s.cacheBars(gctx, symbol, bars)

			mu.Lock()
			upserted += n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Int("symbols", len(symbols)).Int("bars", upserted).Int("failed", failed).
		Msg("bar refresh complete")
	return upserted
}

// topUpIntraday consolidates today's intraday bars into one synthetic
// daily bar per symbol, so a cycle triggered before the official close
// still screens on today's prices. The daily refresh overwrites the
// synthetic bar once the provider publishes the real one.
func (s *Scheduler) topUpIntraday(ctx context.Context, symbols []string) int {
	day := s.now()

	var (
		mu       sync.Mutex
		upserted int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			bars, err := s.intraday.FetchIntradayBars(gctx, symbol, day)
			if err != nil {
				if !errors.Is(err, provider.ErrNoData) {
					log.Warn().Err(err).Str("symbol", symbol).Msg("intraday fetch failed, skipping top-up")
				}
				return nil
			}
			bar, ok := provider.ConsolidateIntraday(symbol, bars)
			if !ok {
				return nil
			}

			n, err := s.bars.UpsertBatch(gctx, []models.Bar{bar})
			if err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("intraday bar upsert failed")
				return nil
			}
			mu.Lock()
			upserted += n
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	log.Info().Int("symbols", len(symbols)).Int("bars", upserted).Msg("intraday top-up complete")
	return upserted
}

func (s *Scheduler) cacheBars(ctx context.Context, symbol string, bars []models.Bar) {
	payload, err := json.Marshal(bars)
	if err != nil {
		return
	}
	key := cache.Key("bars", "daily", symbol)
	if err := s.cache.Set(ctx, key, payload, s.barTTL); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache write failed")
	}
}

// computeSets loads stored history and derives the indicator set per
// symbol. The cycle's date_analyzed is the latest AsOf across computable
// sets, so every result row in the cycle shares one trading date.
func (s *Scheduler) computeSets(ctx context.Context, symbols []string) (map[string]*indicator.Set, time.Time, error) {
	var (
		mu   sync.Mutex
		sets = make(map[string]*indicator.Set, len(symbols))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ScoreConcurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			bars, err := s.bars.History(gctx, symbol, historyLimit)
			if err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("history load failed")
				return nil
			}
			set := indicator.Compute(bars)
			mu.Lock()
			sets[symbol] = set
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, time.Time{}, err
	}

	var dateAnalyzed time.Time
	computable := 0
	for _, set := range sets {
		if set.Computable {
			computable++
			if set.AsOf.After(dateAnalyzed) {
				dateAnalyzed = set.AsOf
			}
		}
	}
	if dateAnalyzed.IsZero() {
		return nil, time.Time{}, errors.New("no symbol has enough bar history to screen")
	}

	log.Info().Int("computable", computable).Int("total", len(sets)).
		Time("date_analyzed", dateAnalyzed).Msg("indicator sets computed")
	return sets, dateAnalyzed, nil
}

// runAlgorithms scores every algorithm concurrently with full isolation:
// a failure, including a panic, in one run is recorded on that run's
// record and the others proceed.
func (s *Scheduler) runAlgorithms(ctx context.Context, sets map[string]*indicator.Set, dateAnalyzed time.Time) map[string]models.ScreeningRun {
	var (
		mu   sync.Mutex
		runs = make(map[string]models.ScreeningRun, len(s.algorithms))
		wg   sync.WaitGroup
	)

	for _, algo := range s.algorithms {
		algo := algo
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := s.runOne(ctx, algo, sets, dateAnalyzed)
			mu.Lock()
			runs[algo.ID()] = run
			mu.Unlock()
		}()
	}
	wg.Wait()
	return runs
}

func (s *Scheduler) runOne(ctx context.Context, algo screen.Algorithm, sets map[string]*indicator.Set, dateAnalyzed time.Time) models.ScreeningRun {
	run := models.ScreeningRun{
		ID:        uuid.New(),
		Algorithm: algo.ID(),
		StartedAt: s.now(),
		Status:    models.RunPending,
	}
	if err := s.runs.Insert(ctx, run); err != nil {
		log.Error().Err(err).Str("algorithm", algo.ID()).Msg("failed to record run start")
	}

	err := s.scoreAndPersist(ctx, algo, sets, dateAnalyzed, &run)

	completed := s.now()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = models.RunFailed
		run.ErrorDetail = err.Error()
		metrics.AlgorithmRuns.WithLabelValues(algo.ID(), "failed").Inc()
		log.Error().Err(err).Str("algorithm", algo.ID()).Msg("screening run failed")
	} else {
		run.Status = models.RunSucceeded
		run.DateAnalyzed = dateAnalyzed
		metrics.AlgorithmRuns.WithLabelValues(algo.ID(), "succeeded").Inc()
	}

	if err := s.runs.Complete(ctx, run); err != nil {
		log.Error().Err(err).Str("algorithm", algo.ID()).Msg("failed to record run completion")
	}
	return run
}

func (s *Scheduler) scoreAndPersist(ctx context.Context, algo screen.Algorithm, sets map[string]*indicator.Set, dateAnalyzed time.Time, run *models.ScreeningRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("screening panicked: %v\n%s", r, debug.Stack())
		}
	}()

	results, err := s.runner.Run(ctx, algo, sets, dateAnalyzed)
	if err != nil {
		return err
	}
	if err := s.results.ReplaceForRun(ctx, algo.ID(), dateAnalyzed, results); err != nil {
		return fmt.Errorf("failed to persist results: %w", err)
	}
	run.Candidates = len(results)
	return nil
}

// RefreshSymbols runs a deep targeted backfill for specific symbols,
// typically right after registration, so they carry enough history for
// the 200-day indicators before the next cycle.
func (s *Scheduler) RefreshSymbols(ctx context.Context, symbols []string) (int, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	return s.refreshBars(ctx, symbols, s.cfg.TargetedLookbackDays), nil
}

// Status reports per-algorithm freshness for the ops surface.
type Status struct {
	Algorithms     map[string]models.ScreeningRun `json:"algorithms"`
	FreshnessFloor time.Time                      `json:"freshness_floor"`
	LastCycleDate  time.Time                      `json:"last_cycle_date"`
}

// Status returns the latest succeeded run per algorithm and the freshness
// floor: the oldest date_analyzed any algorithm is still serving.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	ids := make([]string, 0, len(s.algorithms))
	for _, algo := range s.algorithms {
		ids = append(ids, algo.ID())
	}

	runs, err := s.runs.LatestByAlgorithms(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
	floor, err := s.runs.FreshnessFloor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to compute freshness floor: %w", err)
	}
	lastCycle, err := s.markers.LastCompletedCycle(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cycle marker: %w", err)
	}

	return &Status{Algorithms: runs, FreshnessFloor: floor, LastCycleDate: lastCycle}, nil
}
