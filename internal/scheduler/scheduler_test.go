package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/maverick/internal/cache"
	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/models"
	"github.com/sawpanic/maverick/internal/provider"
	"github.com/sawpanic/maverick/internal/screen"
)

type fakeSource struct {
	mu    sync.Mutex
	bars  map[string][]models.Bar
	calls int
}

func (f *fakeSource) FetchBars(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, provider.ErrNoData
	}
	return bars, nil
}

type fakeBars struct {
	mu       sync.Mutex
	history  map[string][]models.Bar
	upserted int
}

func (f *fakeBars) UpsertBatch(ctx context.Context, bars []models.Bar) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bar := range bars {
		hist := f.history[bar.Symbol]
		replaced := false
		for i := range hist {
			if hist[i].Date.Equal(bar.Date) {
				hist[i] = bar
				replaced = true
				break
			}
		}
		if !replaced {
			hist = append(hist, bar)
			sort.Slice(hist, func(i, j int) bool { return hist[i].Date.Before(hist[j].Date) })
		}
		f.history[bar.Symbol] = hist
	}
	f.upserted += len(bars)
	return len(bars), nil
}

func (f *fakeBars) History(ctx context.Context, symbol string, limit int) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[symbol], nil
}

type fakeResults struct {
	mu      sync.Mutex
	saved   map[string][]models.ScreeningResult
	failFor string
}

func (f *fakeResults) ReplaceForRun(ctx context.Context, algorithm string, dateAnalyzed time.Time, results []models.ScreeningResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if algorithm == f.failFor {
		return errors.New("storage write rejected")
	}
	if f.saved == nil {
		f.saved = make(map[string][]models.ScreeningResult)
	}
	f.saved[algorithm] = results
	return nil
}

type fakeRuns struct {
	mu        sync.Mutex
	inserted  []models.ScreeningRun
	completed []models.ScreeningRun
}

func (f *fakeRuns) Insert(ctx context.Context, run models.ScreeningRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, run)
	return nil
}

func (f *fakeRuns) Complete(ctx context.Context, run models.ScreeningRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, run)
	return nil
}

func (f *fakeRuns) LatestByAlgorithms(ctx context.Context, algorithms []string) (map[string]models.ScreeningRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[string]models.ScreeningRun)
	for _, run := range f.completed {
		if run.Status != models.RunSucceeded {
			continue
		}
		if prev, ok := latest[run.Algorithm]; !ok || run.StartedAt.After(prev.StartedAt) {
			latest[run.Algorithm] = run
		}
	}
	return latest, nil
}

func (f *fakeRuns) FreshnessFloor(ctx context.Context, algorithms []string) (time.Time, error) {
	latest, _ := f.LatestByAlgorithms(ctx, algorithms)
	var floor time.Time
	for _, run := range latest {
		if floor.IsZero() || run.DateAnalyzed.Before(floor) {
			floor = run.DateAnalyzed
		}
	}
	return floor, nil
}

type fakeMarkers struct {
	mu     sync.Mutex
	last   time.Time
	marked []time.Time
}

func (f *fakeMarkers) LastCompletedCycle(ctx context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, nil
}

func (f *fakeMarkers) MarkCompleted(ctx context.Context, cycleDate time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = cycleDate
	f.marked = append(f.marked, cycleDate)
	return nil
}

type fakeIntraday struct {
	mu    sync.Mutex
	bars  map[string][]models.Bar
	calls int
}

func (f *fakeIntraday) FetchIntradayBars(ctx context.Context, symbol string, day time.Time) ([]models.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, provider.ErrNoData
	}
	return bars, nil
}

type fakeUniverse struct{ symbols []string }

func (f *fakeUniverse) ActiveSymbols(ctx context.Context) ([]string, error) {
	return f.symbols, nil
}

type fakeCache struct {
	mu          sync.Mutex
	sets        map[string][]byte
	invalidated []string
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets == nil {
		f.sets = make(map[string][]byte)
	}
	f.sets[key] = value
	return nil
}

func (f *fakeCache) Invalidate(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, prefix)
	return nil
}

func (f *fakeCache) invalidatedPrefixes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

// rampHistory builds n ascending bars ending the day before now.
func rampHistory(symbol string, n int, now time.Time) []models.Bar {
	end := models.TradingDate(now).AddDate(0, 0, -1)
	bars := make([]models.Bar, n)
	for i := 0; i < n; i++ {
		px := decimal.NewFromInt(int64(i + 1))
		bars[i] = models.Bar{
			Symbol: symbol,
			Date:   end.AddDate(0, 0, i-n+1),
			Open:   px,
			High:   px.Add(decimal.NewFromInt(1)),
			Low:    px.Sub(decimal.NewFromInt(1)),
			Close:  px,
			Volume: 1000,
		}
	}
	return bars
}

type fixture struct {
	scheduler *Scheduler
	source    *fakeSource
	bars      *fakeBars
	results   *fakeResults
	runs      *fakeRuns
	markers   *fakeMarkers
	cache     *fakeCache
	now       time.Time
}

func newFixture(t *testing.T, symbols []string) *fixture {
	t.Helper()
	now := time.Date(2026, 8, 25, 17, 30, 0, 0, time.UTC)

	f := &fixture{
		source:  &fakeSource{bars: map[string][]models.Bar{}},
		bars:    &fakeBars{history: map[string][]models.Bar{}},
		results: &fakeResults{},
		runs:    &fakeRuns{},
		markers: &fakeMarkers{},
		cache:   &fakeCache{},
		now:     now,
	}
	for _, symbol := range symbols {
		f.bars.history[symbol] = rampHistory(symbol, 260, now)
	}

	cfg := config.Default().Scheduler
	f.scheduler = New(cfg, Deps{
		Source:     f.source,
		Bars:       f.bars,
		Results:    f.results,
		Runs:       f.runs,
		Markers:    f.markers,
		Universe:   &fakeUniverse{symbols: symbols},
		Cache:      f.cache,
		Algorithms: screen.All(config.Default().Screening),
	})
	f.scheduler.now = func() time.Time { return now }
	return f
}

func TestRunCycle_AllAlgorithmsSucceed(t *testing.T) {
	f := newFixture(t, []string{"AAPL", "MSFT"})

	report, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Runs, 3)

	for algo, run := range report.Runs {
		assert.Equal(t, models.RunSucceeded, run.Status, algo)
		assert.NotZero(t, run.ID)
		require.NotNil(t, run.CompletedAt)
	}

	// Every row carries the shared trading date: the day before the cycle.
	expectedDate := models.TradingDate(f.now).AddDate(0, 0, -1)
	assert.Equal(t, expectedDate, report.DateAnalyzed)

	// The ascending ramp qualifies for the bullish screen on both symbols.
	require.Len(t, f.results.saved[screen.AlgoMaverick], 2)
	assert.Empty(t, f.results.saved[screen.AlgoBear])

	// All algorithm namespaces plus the ranked watchlist were invalidated.
	prefixes := f.cache.invalidatedPrefixes()
	assert.Contains(t, prefixes, cache.Namespace("screening", screen.AlgoMaverick))
	assert.Contains(t, prefixes, cache.Namespace("screening", screen.AlgoBear))
	assert.Contains(t, prefixes, cache.Namespace("screening", screen.AlgoBreakout))
	assert.Contains(t, prefixes, cache.Namespace("screening", "ranked"))

	// The completed marker guards the rest of the day.
	require.Len(t, f.markers.marked, 1)
	assert.Equal(t, models.TradingDate(f.now), f.markers.marked[0])
}

func TestRunCycle_FailureIsolation(t *testing.T) {
	f := newFixture(t, []string{"AAPL"})
	f.results.failFor = screen.AlgoBear

	report, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.RunFailed, report.Runs[screen.AlgoBear].Status)
	assert.Contains(t, report.Runs[screen.AlgoBear].ErrorDetail, "storage write rejected")
	assert.Equal(t, models.RunSucceeded, report.Runs[screen.AlgoMaverick].Status)
	assert.Equal(t, models.RunSucceeded, report.Runs[screen.AlgoBreakout].Status)

	// The failed algorithm's namespace keeps serving stale-but-valid data.
	prefixes := f.cache.invalidatedPrefixes()
	assert.NotContains(t, prefixes, cache.Namespace("screening", screen.AlgoBear))
	assert.Contains(t, prefixes, cache.Namespace("screening", screen.AlgoMaverick))
	assert.Contains(t, prefixes, cache.Namespace("screening", "ranked"))

	// One success is enough to complete the day.
	assert.Len(t, f.markers.marked, 1)
}

func TestRunCycle_MarkerGuardSurvivesRestart(t *testing.T) {
	f := newFixture(t, []string{"AAPL"})

	_, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	// A fresh scheduler sharing the same marker store models a restart.
	restarted := New(config.Default().Scheduler, Deps{
		Source:     f.source,
		Bars:       f.bars,
		Results:    f.results,
		Runs:       f.runs,
		Markers:    f.markers,
		Universe:   &fakeUniverse{symbols: []string{"AAPL"}},
		Cache:      f.cache,
		Algorithms: screen.All(config.Default().Screening),
	})
	restarted.now = func() time.Time { return f.now.Add(time.Hour) }

	_, err = restarted.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleAlreadyCompleted)
	assert.Len(t, f.markers.marked, 1, "no second marker for the same date")
}

func TestRunCycle_NextDayRunsAgain(t *testing.T) {
	f := newFixture(t, []string{"AAPL"})

	_, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	f.scheduler.now = func() time.Time { return f.now.AddDate(0, 0, 1) }
	_, err = f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.markers.marked, 2)
}

func TestRunCycle_NoHistoryFailsCycle(t *testing.T) {
	f := newFixture(t, []string{"AAPL"})
	f.bars.history["AAPL"] = f.bars.history["AAPL"][:50] // below MinHistory

	_, err := f.scheduler.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enough bar history")
	assert.Empty(t, f.markers.marked)
}

func TestRunCycle_FetchedBarsAreCached(t *testing.T) {
	f := newFixture(t, []string{"AAPL"})
	f.source.bars["AAPL"] = rampHistory("AAPL", 5, f.now)

	_, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, f.bars.upserted)
	f.cache.mu.Lock()
	_, cached := f.cache.sets[cache.Key("bars", "daily", "AAPL")]
	f.cache.mu.Unlock()
	assert.True(t, cached)
}

func TestRefreshSymbols_UsesTargetedLookback(t *testing.T) {
	f := newFixture(t, []string{"AAPL"})
	f.source.bars["NEWT"] = rampHistory("NEWT", 10, f.now)

	n, err := f.scheduler.RefreshSymbols(context.Background(), []string{"NEWT"})
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 1, f.source.calls)
}

func TestStatus_FreshnessFloorIsOldestSuccess(t *testing.T) {
	f := newFixture(t, []string{"AAPL"})
	ids := []string{screen.AlgoMaverick, screen.AlgoBear, screen.AlgoBreakout}
	day := func(d int) time.Time { return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC) }

	// Bear last succeeded a day earlier than the others.
	for i, algo := range ids {
		date := day(25)
		if algo == screen.AlgoBear {
			date = day(24)
		}
		run := models.ScreeningRun{
			Algorithm:    algo,
			StartedAt:    f.now.Add(time.Duration(i) * time.Second),
			Status:       models.RunSucceeded,
			DateAnalyzed: date,
		}
		require.NoError(t, f.runs.Complete(context.Background(), run))
	}

	status, err := f.scheduler.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, day(24), status.FreshnessFloor)
	assert.Len(t, status.Algorithms, 3)
	assert.Equal(t, models.RunSucceeded, status.Algorithms[screen.AlgoBear].Status)
}

func TestRunCycle_IntradayTopUpScreensToday(t *testing.T) {
	f := newFixture(t, []string{"AAPL"})
	today := models.TradingDate(f.now)
	px := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

	intraday := &fakeIntraday{bars: map[string][]models.Bar{
		"AAPL": {
			{Symbol: "AAPL", Date: today.Add(14 * time.Hour), Open: px(262), High: px(264), Low: px(261), Close: px(263), Volume: 400},
			{Symbol: "AAPL", Date: today.Add(13*time.Hour + 30*time.Minute), Open: px(260), High: px(262), Low: px(259), Close: px(261), Volume: 600},
		},
	}}
	f.scheduler.cfg.IntradayTopUp = true
	f.scheduler.intraday = intraday

	report, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	// A cycle before the close screens on today's consolidated prices.
	assert.Equal(t, today, report.DateAnalyzed)
	assert.Equal(t, 1, report.BarsUpserted)
	assert.Equal(t, 1, intraday.calls)

	hist := f.bars.history["AAPL"]
	last := hist[len(hist)-1]
	assert.Equal(t, today, last.Date)
	assert.True(t, last.Open.Equal(px(260)), "open of the earliest intraday bar")
	assert.True(t, last.Close.Equal(px(263)), "close of the latest intraday bar")
	assert.True(t, last.High.Equal(px(264)))
	assert.True(t, last.Low.Equal(px(259)))
	assert.Equal(t, int64(1000), last.Volume)
}

func TestRunCycle_IntradayDisabledLeavesHistoryAlone(t *testing.T) {
	f := newFixture(t, []string{"AAPL"})
	intraday := &fakeIntraday{bars: map[string][]models.Bar{}}
	f.scheduler.intraday = intraday

	report, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.TradingDate(f.now).AddDate(0, 0, -1), report.DateAnalyzed)
	assert.Zero(t, intraday.calls)
}

func TestRunCycle_EmptyUniverse(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.scheduler.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "universe"))
}
