// Package oracle fetches the home currency's USD quote from upstream price
// services.
package oracle

import (
	"context"
	"errors"
	"time"

	"dexflow/config"
)

var (
	// ErrNoQuote is returned when an upstream answered without a usable price.
	ErrNoQuote = errors.New("no quote in response")
	// ErrThrottled is returned when an upstream rejected the request for
	// exceeding its rate limit.
	ErrThrottled = errors.New("upstream throttled request")
)

// Quote is one observation of the USD price and its 24h move.
type Quote struct {
	Source   string  `json:"source"`
	USDPrice float64 `json:"usd_price"`
	// Change24h is the relative 24h move as a fraction (0.05 = +5%).
	Change24h  float64   `json:"change_24h"`
	HasChange  bool      `json:"has_change"`
	ReceivedAt time.Time `json:"received_at"`
}

// PriceSource is an upstream that can quote one symbol in USD.
type PriceSource interface {
	Name() string
	Fetch(ctx context.Context) (Quote, error)
}

// FromConfig builds every enabled source for cfg.Symbol, in the order
// coingecko, binance, websocket.
func FromConfig(cfg config.PricesConfig) []PriceSource {
	var sources []PriceSource
	if cfg.CoinGecko.Enabled {
		sources = append(sources, NewCoinGecko(cfg.CoinGecko, cfg.Symbol))
	}
	if cfg.Binance.Enabled {
		sources = append(sources, NewBinance(cfg.Binance, cfg.Symbol))
	}
	if cfg.Websocket.Enabled {
		sources = append(sources, NewWebsocketTicker(cfg.Websocket, cfg.Symbol))
	}
	return sources
}
