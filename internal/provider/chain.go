package provider

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/metrics"
	"github.com/sawpanic/maverick/internal/models"
)

// Chain tries providers in configured priority order. A breaker-open
// condition, a call failure, or an empty result all advance to the next
// provider. When every provider is exhausted the chain returns ErrNoData:
// an absence to skip this cycle, not a retryable fault.
type Chain struct {
	providers []Provider
}

// NewChain assembles the default stack for each configured provider:
// concrete client → rate limiter → circuit breaker, in config order.
func NewChain(cfg config.ProvidersConfig) *Chain {
	providers := make([]Provider, 0, len(cfg.Order))
	for _, pc := range cfg.Order {
		var client Provider
		switch pc.Name {
		case "alpaca":
			client = NewAlpacaClient(pc)
		case "tiingo":
			client = NewTiingoClient(pc)
		default:
			log.Warn().Str("provider", pc.Name).Msg("unknown provider in config, skipping")
			continue
		}
		providers = append(providers, NewBreaker(NewRateLimitedClient(client, pc), pc))
	}
	return &Chain{providers: providers}
}

// NewChainFromProviders builds a chain from already-wrapped providers.
// Used by tests and by callers that assemble their own wrapping.
func NewChainFromProviders(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

// BreakerStates reports each wrapped provider's circuit state, keyed by
// provider name. Providers without a breaker are omitted.
func (c *Chain) BreakerStates() map[string]string {
	states := make(map[string]string, len(c.providers))
	for _, p := range c.providers {
		if b, ok := p.(*Breaker); ok {
			states[b.Name()] = b.State().String()
		}
	}
	return states
}

// FetchBars returns the first provider's non-empty normalized result.
func (c *Chain) FetchBars(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoData
	}

	var lastErr error
	for _, p := range c.providers {
		bars, err := p.FetchBars(ctx, symbol, rng)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, ErrNoData) {
				metrics.ProviderFetches.WithLabelValues(p.Name(), "no_data").Inc()
			} else {
				metrics.ProviderFetches.WithLabelValues(p.Name(), "error").Inc()
				log.Warn().Err(err).Str("provider", p.Name()).Str("symbol", symbol).
					Msg("provider fetch failed, trying next")
				lastErr = err
			}
			continue
		}
		if len(bars) == 0 {
			metrics.ProviderFetches.WithLabelValues(p.Name(), "no_data").Inc()
			continue
		}
		metrics.ProviderFetches.WithLabelValues(p.Name(), "ok").Inc()
		return bars, nil
	}

	if lastErr != nil {
		log.Debug().Err(lastErr).Str("symbol", symbol).Msg("all providers exhausted")
	}
	return nil, ErrNoData
}
