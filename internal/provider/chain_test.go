package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/maverick/internal/models"
)

func TestChain_FallsBackToNextProvider(t *testing.T) {
	empty := &stubProvider{name: "primary", responses: repeat(stubResponse{bars: nil}, 1)}
	full := &stubProvider{name: "secondary", responses: []stubResponse{{bars: testBars("AAPL", 3)}}}

	chain := NewChainFromProviders(empty, full)
	bars, err := chain.FetchBars(context.Background(), "AAPL", models.NewDateRange(time.Now(), 7))

	require.NoError(t, err)
	assert.Len(t, bars, 3)
	assert.Equal(t, 1, empty.callCount())
	assert.Equal(t, 1, full.callCount())
}

func TestChain_ErrorAdvancesToNextProvider(t *testing.T) {
	failing := &stubProvider{name: "primary", responses: repeat(stubResponse{err: errors.New("boom")}, 1)}
	full := &stubProvider{name: "secondary", responses: []stubResponse{{bars: testBars("AAPL", 2)}}}

	chain := NewChainFromProviders(failing, full)
	bars, err := chain.FetchBars(context.Background(), "AAPL", models.NewDateRange(time.Now(), 7))

	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestChain_AllExhaustedReturnsNoData(t *testing.T) {
	a := &stubProvider{name: "a", responses: repeat(stubResponse{err: errors.New("down")}, 1)}
	b := &stubProvider{name: "b", responses: repeat(stubResponse{bars: nil}, 1)}

	chain := NewChainFromProviders(a, b)
	_, err := chain.FetchBars(context.Background(), "AAPL", models.NewDateRange(time.Now(), 7))

	assert.ErrorIs(t, err, ErrNoData)
}

func TestChain_EmptyChainReturnsNoData(t *testing.T) {
	chain := NewChainFromProviders()
	_, err := chain.FetchBars(context.Background(), "AAPL", models.NewDateRange(time.Now(), 7))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestChain_CancelledContextShortCircuits(t *testing.T) {
	a := &stubProvider{name: "a", responses: repeat(stubResponse{err: errors.New("down")}, 1)}
	b := &stubProvider{name: "b", responses: []stubResponse{{bars: testBars("AAPL", 2)}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chain := NewChainFromProviders(a, b)
	_, err := chain.FetchBars(ctx, "AAPL", models.NewDateRange(time.Now(), 7))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.callCount(), "later providers must not be tried after cancellation")
}

func TestChain_BreakerStates(t *testing.T) {
	failing := &stubProvider{name: "flaky", responses: repeat(stubResponse{err: errors.New("boom")}, 3)}
	b := NewBreaker(failing, breakerConfig(2, time.Minute))
	chain := NewChainFromProviders(b)

	rng := models.NewDateRange(time.Now(), 7)
	for i := 0; i < 2; i++ {
		_, _ = chain.FetchBars(context.Background(), "AAPL", rng)
	}

	states := chain.BreakerStates()
	assert.Equal(t, "open", states["flaky"])
}
