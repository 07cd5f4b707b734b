package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/models"
)

// stubProvider scripts per-call responses and records call counts.
type stubProvider struct {
	mu        sync.Mutex
	name      string
	responses []stubResponse
	calls     int
}

type stubResponse struct {
	bars []models.Bar
	err  error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) FetchBars(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		s.calls++
		return nil, errors.New("unscripted call")
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp.bars, resp.err
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testBars(symbol string, n int) []models.Bar {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	for i := 0; i < n; i++ {
		px := decimal.NewFromInt(int64(100 + i))
		bars[i] = models.Bar{
			Symbol: symbol,
			Date:   models.TradingDate(start.AddDate(0, 0, i)),
			Open:   px, High: px, Low: px, Close: px,
			Volume: 1000,
		}
	}
	return bars
}

func breakerConfig(failures uint32, cooldown time.Duration) config.ProviderConfig {
	return config.ProviderConfig{
		Name:         "stub",
		FailureLimit: failures,
		OpenCooldown: config.Duration(cooldown),
	}
}

func repeat(r stubResponse, n int) []stubResponse {
	out := make([]stubResponse, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubProvider{
		name:      "stub",
		responses: repeat(stubResponse{err: errors.New("boom")}, 10),
	}
	b := NewBreaker(stub, breakerConfig(3, time.Minute))
	ctx := context.Background()
	rng := models.NewDateRange(time.Now(), 7)

	for i := 0; i < 3; i++ {
		_, err := b.FetchBars(ctx, "AAPL", rng)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	// Open circuit fails fast without reaching the provider.
	before := stub.callCount()
	_, err := b.FetchBars(ctx, "AAPL", rng)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, before, stub.callCount())
}

func TestBreaker_EmptyResultCountsAsFailure(t *testing.T) {
	stub := &stubProvider{
		name:      "stub",
		responses: repeat(stubResponse{bars: nil}, 5),
	}
	b := NewBreaker(stub, breakerConfig(2, time.Minute))
	rng := models.NewDateRange(time.Now(), 7)

	_, err := b.FetchBars(context.Background(), "AAPL", rng)
	require.ErrorIs(t, err, ErrNoData)
	_, err = b.FetchBars(context.Background(), "AAPL", rng)
	require.ErrorIs(t, err, ErrNoData)

	assert.Equal(t, gobreaker.StateOpen, b.State())
}

func TestBreaker_HalfOpenProbeRecovers(t *testing.T) {
	responses := repeat(stubResponse{err: errors.New("boom")}, 2)
	responses = append(responses, stubResponse{bars: testBars("AAPL", 5)})
	stub := &stubProvider{name: "stub", responses: responses}

	cooldown := 30 * time.Millisecond
	b := NewBreaker(stub, breakerConfig(2, cooldown))
	ctx := context.Background()
	rng := models.NewDateRange(time.Now(), 7)

	for i := 0; i < 2; i++ {
		_, err := b.FetchBars(ctx, "AAPL", rng)
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(cooldown + 20*time.Millisecond)

	// The single half-open probe succeeds and closes the circuit.
	bars, err := b.FetchBars(ctx, "AAPL", rng)
	require.NoError(t, err)
	assert.Len(t, bars, 5)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	stub := &stubProvider{
		name:      "stub",
		responses: repeat(stubResponse{err: errors.New("boom")}, 5),
	}
	cooldown := 30 * time.Millisecond
	b := NewBreaker(stub, breakerConfig(2, cooldown))
	ctx := context.Background()
	rng := models.NewDateRange(time.Now(), 7)

	for i := 0; i < 2; i++ {
		_, _ = b.FetchBars(ctx, "AAPL", rng)
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(cooldown + 20*time.Millisecond)

	_, err := b.FetchBars(ctx, "AAPL", rng)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, b.State())
}

func TestNormalize_CanonicalSchema(t *testing.T) {
	noon := time.Date(2026, 8, 3, 12, 30, 0, 0, time.FixedZone("EST", -5*3600))
	px := decimal.NewFromFloat(264.35)
	later := decimal.NewFromFloat(265.10)

	bars := Normalize("aapl", []models.Bar{
		{Date: noon.AddDate(0, 0, 1), Close: px},
		{Date: noon, Close: px},
		{Date: noon, Close: later}, // duplicate date, last one wins
	})

	require.Len(t, bars, 2)
	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.True(t, bars[0].Date.Before(bars[1].Date))
	assert.Equal(t, 0, bars[0].Date.Hour())
	assert.Equal(t, time.UTC, bars[0].Date.Location())
	assert.True(t, bars[0].Close.Equal(later))
}
