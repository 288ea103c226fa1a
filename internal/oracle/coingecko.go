package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"dexflow/config"
	ratemetrics "dexflow/internal/metrics/rate"
	"dexflow/internal/symbols"
	"dexflow/logger"
)

const coinGeckoName = "coingecko"

// CoinGecko quotes a coin through the simple/price endpoint.
type CoinGecko struct {
	baseURL string
	apiKey  string
	coinID  string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
	now     func() time.Time
}

// NewCoinGecko builds a source for symbol. A non-positive rate disables
// client-side limiting.
func NewCoinGecko(cfg config.CoinGeckoConfig, symbol string) *CoinGecko {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	return &CoinGecko{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		coinID:  symbols.ToPair(coinGeckoName, symbol, "USD"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.GetLogger(),
		now:     time.Now,
	}
}

func (c *CoinGecko) Name() string { return coinGeckoName }

// Fetch requests {coinID: {usd, usd_24h_change}}. The percentage change is
// converted to a fraction.
func (c *CoinGecko) Fetch(ctx context.Context) (Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("coingecko rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("ids", c.coinID)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build coingecko request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("coingecko request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("read coingecko response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if ratemetrics.ReportLimitFromResponse(c.log, coinGeckoName, c.coinID, resp.StatusCode, string(body)) {
			return Quote{}, fmt.Errorf("coingecko status %d: %w", resp.StatusCode, ErrThrottled)
		}
		return Quote{}, fmt.Errorf("coingecko status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload map[string]map[string]*float64
	if err := json.Unmarshal(body, &payload); err != nil {
		return Quote{}, fmt.Errorf("decode coingecko response: %w", err)
	}

	coin, ok := payload[c.coinID]
	if !ok || coin["usd"] == nil {
		return Quote{}, fmt.Errorf("coingecko %s: %w", c.coinID, ErrNoQuote)
	}

	quote := Quote{
		Source:     coinGeckoName,
		USDPrice:   *coin["usd"],
		ReceivedAt: c.now(),
	}
	if change := coin["usd_24h_change"]; change != nil {
		quote.Change24h = *change / 100
		quote.HasChange = true
	}
	return quote, nil
}
