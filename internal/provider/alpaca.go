package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/maverick/internal/config"
	"github.com/sawpanic/maverick/internal/models"
)

// AlpacaClient fetches daily bars from the Alpaca Market Data v2 API.
// Free-tier SIP daily bars are delayed 15 minutes, which is irrelevant for
// end-of-day screening.
type AlpacaClient struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
}

type alpacaBar struct {
	Timestamp time.Time       `json:"t"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	Volume    int64           `json:"v"`
}

type alpacaBarsResponse struct {
	Bars          []alpacaBar `json:"bars"`
	Symbol        string      `json:"symbol"`
	NextPageToken *string     `json:"next_page_token"`
}

// NewAlpacaClient builds a client from provider config. Credentials come
// from the environment variables named in the config, never from the
// config file itself.
func NewAlpacaClient(cfg config.ProviderConfig) *AlpacaClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://data.alpaca.markets/v2"
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "ALPACA_API_KEY"
	}
	secretEnv := cfg.APISecretEnv
	if secretEnv == "" {
		secretEnv = "ALPACA_SECRET_KEY"
	}
	return &AlpacaClient{
		baseURL:   baseURL,
		apiKey:    os.Getenv(keyEnv),
		apiSecret: os.Getenv(secretEnv),
		client:    &http.Client{Timeout: cfg.RequestTimeout.Std()},
	}
}

func (a *AlpacaClient) Name() string { return "alpaca" }

// FetchBars fetches daily bars for one symbol, following pagination until
// the range is exhausted.
func (a *AlpacaClient) FetchBars(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error) {
	out, err := a.fetchAll(ctx, symbol, rng, "1Day")
	if err != nil {
		return nil, err
	}
	return Normalize(symbol, out), nil
}

// FetchIntradayBars fetches one trading day of 15-minute bars with their
// original timestamps preserved, for consolidation into a synthetic
// daily bar.
func (a *AlpacaClient) FetchIntradayBars(ctx context.Context, symbol string, day time.Time) ([]models.Bar, error) {
	start := models.TradingDate(day)
	rng := models.DateRange{Start: start, End: start.AddDate(0, 0, 1)}
	return a.fetchAll(ctx, symbol, rng, "15Min")
}

func (a *AlpacaClient) fetchAll(ctx context.Context, symbol string, rng models.DateRange, timeframe string) ([]models.Bar, error) {
	var out []models.Bar
	pageToken := ""

	for {
		resp, err := a.fetchPage(ctx, symbol, rng, timeframe, pageToken)
		if err != nil {
			return nil, err
		}

		for _, b := range resp.Bars {
			out = append(out, models.Bar{
				Symbol: symbol,
				Date:   b.Timestamp,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			})
		}

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			break
		}
		pageToken = *resp.NextPageToken
	}

	return out, nil
}

func (a *AlpacaClient) fetchPage(ctx context.Context, symbol string, rng models.DateRange, timeframe, pageToken string) (*alpacaBarsResponse, error) {
	q := url.Values{}
	q.Set("timeframe", timeframe)
	q.Set("start", rng.Start.Format("2006-01-02"))
	q.Set("end", rng.End.Format("2006-01-02"))
	q.Set("adjustment", "split")
	q.Set("limit", "10000")
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	endpoint := fmt.Sprintf("%s/stocks/%s/bars?%s", a.baseURL, url.PathEscape(symbol), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("APCA-API-KEY-ID", a.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.apiSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: alpaca request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return &alpacaBarsResponse{Symbol: symbol}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: alpaca status %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("alpaca status %d for %s", resp.StatusCode, symbol)
	}

	var body alpacaBarsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("alpaca decode failed: %w", err)
	}

	log.Debug().Str("provider", "alpaca").Str("symbol", symbol).
		Int("bars", len(body.Bars)).Msg("fetched bar page")
	return &body, nil
}
