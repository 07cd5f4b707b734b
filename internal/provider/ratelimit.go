package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/models"
)

// RateLimitedClient enforces a token-bucket request budget in front of one
// provider. Waiting respects the caller's context, so a request timeout
// also bounds the time spent queued for a token.
type RateLimitedClient struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps a provider with the budget from its config.
func NewRateLimitedClient(inner Provider, cfg config.ProviderConfig) *RateLimitedClient {
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
	}
}

func (r *RateLimitedClient) Name() string { return r.inner.Name() }

// FetchBars blocks for a token, then delegates.
func (r *RateLimitedClient) FetchBars(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait aborted: %v", ErrUnavailable, err)
	}
	return r.inner.FetchBars(ctx, symbol, rng)
}
