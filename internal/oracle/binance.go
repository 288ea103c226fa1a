package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"dexflow/config"
	ratemetrics "dexflow/internal/metrics/rate"
	"dexflow/internal/symbols"
	"dexflow/logger"
)

const binanceName = "binance"

// binanceTooManyRequests is the API error code for request weight overflow.
const binanceTooManyRequests = -1003

// Binance quotes a spot pair through the 24h ticker statistics endpoint.
type Binance struct {
	client *binance.Client
	pair   string
	log    *logger.Log
	now    func() time.Time
}

// NewBinance builds a source for symbol against the configured quote asset,
// which is treated as a USD stable coin.
func NewBinance(cfg config.BinanceConfig, symbol string) *Binance {
	client := binance.NewClient(cfg.APIKey, "")
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	if cfg.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Binance{
		client: client,
		pair:   symbols.ToPair(binanceName, symbol, cfg.Quote),
		log:    logger.GetLogger(),
		now:    time.Now,
	}
}

func (b *Binance) Name() string { return binanceName }

func (b *Binance) Fetch(ctx context.Context) (Quote, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(b.pair).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			status := 0
			if apiErr.Code == binanceTooManyRequests {
				status = http.StatusTooManyRequests
			}
			if ratemetrics.ReportLimitFromResponse(b.log, binanceName, b.pair, status, apiErr.Message) {
				return Quote{}, fmt.Errorf("binance %s: %w: %w", b.pair, ErrThrottled, err)
			}
		}
		return Quote{}, fmt.Errorf("binance ticker %s: %w", b.pair, err)
	}

	for _, s := range stats {
		if s == nil || !strings.EqualFold(s.Symbol, b.pair) {
			continue
		}
		price, err := strconv.ParseFloat(s.LastPrice, 64)
		if err != nil || price <= 0 {
			return Quote{}, fmt.Errorf("binance %s last price %q: %w", b.pair, s.LastPrice, ErrNoQuote)
		}
		quote := Quote{
			Source:     binanceName,
			USDPrice:   price,
			ReceivedAt: b.now(),
		}
		if pct, err := strconv.ParseFloat(s.PriceChangePercent, 64); err == nil {
			quote.Change24h = pct / 100
			quote.HasChange = true
		}
		return quote, nil
	}
	return Quote{}, fmt.Errorf("binance %s: %w", b.pair, ErrNoQuote)
}
