package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/metrics"
	"github.com/sawpanic/maverick/internal/models"
)

// Breaker wraps one provider with a circuit breaker. State is owned by
// exactly this binding and never shared across providers.
//
// Closed: calls pass through; the configured number of consecutive
// failures trips the breaker. Open: calls fail fast until the cool-down
// elapses. Half-open: exactly one trial call goes through; success closes
// the circuit, failure reopens it.
//
// An empty-but-successful fetch counts as a failure here: returning "no
// data" from a flaky provider must not stop the chain from asking the
// next one.
type Breaker struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// NewBreaker wraps a provider with breaker settings from its config.
func NewBreaker(inner Provider, cfg config.ProviderConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1, // single half-open probe
		Timeout:     cfg.OpenCooldown.Std(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureLimit
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}

	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *Breaker) Name() string { return b.inner.Name() }

// State exposes the current circuit state for health reporting.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// FetchBars executes the fetch under the breaker.
func (b *Breaker) FetchBars(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		bars, err := b.inner.FetchBars(ctx, symbol, rng)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, ErrNoData
		}
		return bars, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: breaker open for %s", ErrUnavailable, b.inner.Name())
		}
		return nil, err
	}

	return result.([]models.Bar), nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
