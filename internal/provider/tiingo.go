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

// TiingoClient fetches daily bars from the Tiingo EOD API. It sits behind
// Alpaca in the default chain order.
type TiingoClient struct {
	baseURL string
	token   string
	client  *http.Client
}

type tiingoBar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"adjOpen"`
	High   decimal.Decimal `json:"adjHigh"`
	Low    decimal.Decimal `json:"adjLow"`
	Close  decimal.Decimal `json:"adjClose"`
	Volume int64           `json:"adjVolume"`
}

// NewTiingoClient builds a client from provider config. The API token is
// read from the environment variable named in the config.
func NewTiingoClient(cfg config.ProviderConfig) *TiingoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.tiingo.com/tiingo/daily"
	}
	tokenEnv := cfg.APIKeyEnv
	if tokenEnv == "" {
		tokenEnv = "TIINGO_API_TOKEN"
	}
	return &TiingoClient{
		baseURL: baseURL,
		token:   os.Getenv(tokenEnv),
		client:  &http.Client{Timeout: cfg.RequestTimeout.Std()},
	}
}

func (t *TiingoClient) Name() string { return "tiingo" }

// FetchBars fetches split-adjusted daily bars for one symbol.
func (t *TiingoClient) FetchBars(ctx context.Context, symbol string, rng models.DateRange) ([]models.Bar, error) {
	q := url.Values{}
	q.Set("startDate", rng.Start.Format("2006-01-02"))
	q.Set("endDate", rng.End.Format("2006-01-02"))
	q.Set("resampleFreq", "daily")

	endpoint := fmt.Sprintf("%s/%s/prices?%s", t.baseURL, url.PathEscape(symbol), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+t.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: tiingo request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: tiingo status %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("tiingo status %d for %s", resp.StatusCode, symbol)
	}

	var rows []tiingoBar
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("tiingo decode failed: %w", err)
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, models.Bar{
			Symbol: symbol,
			Date:   r.Date,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}

	log.Debug().Str("provider", "tiingo").Str("symbol", symbol).
		Int("bars", len(bars)).Msg("fetched bars")
	return Normalize(symbol, bars), nil
}
