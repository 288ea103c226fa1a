package pricecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dexflow/internal/metrics"
	"dexflow/internal/oracle"
	"dexflow/internal/race"
	"dexflow/logger"
)

const (
	KeyUSDPrice   = "usd_price"
	KeyUSDMove24h = "usd_move_24h"
)

// ErrNoChange is returned by a source lookup for the 24h move when the
// answering source does not report one.
var ErrNoChange = errors.New("source reports no 24h change")

// Prices tracks the home currency's USD price and its 24h USD move behind
// one freshness window. Each key is refreshed independently by racing every
// configured source.
type Prices struct {
	sources []oracle.PriceSource
	cache   *Cache[float64]
	log     *logger.Log
}

func NewPrices(window time.Duration, sources []oracle.PriceSource, opts ...Option[float64]) *Prices {
	p := &Prices{
		sources: sources,
		log:     logger.GetLogger(),
	}
	opts = append([]Option[float64]{WithObserver[float64](metrics.RecordPriceRefresh)}, opts...)
	p.cache = New[float64](window, p.refresh, opts...)
	return p
}

// USDPrice returns the home currency's price in USD.
func (p *Prices) USDPrice(ctx context.Context) (float64, error) {
	return p.cache.Fetch(ctx, KeyUSDPrice)
}

// USDMove24h returns the home currency's relative USD move over 24h as a
// fraction.
func (p *Prices) USDMove24h(ctx context.Context) (float64, error) {
	return p.cache.Fetch(ctx, KeyUSDMove24h)
}

// Snapshots exposes both tracked quantities without refreshing them.
func (p *Prices) Snapshots() map[string]Snapshot[float64] {
	return p.cache.Snapshots()
}

func (p *Prices) refresh(ctx context.Context, key string) (float64, error) {
	pick, err := picker(key)
	if err != nil {
		return 0, err
	}

	ops := make([]race.Op[float64], 0, len(p.sources))
	for _, src := range p.sources {
		src := src
		ops = append(ops, func(ctx context.Context) (float64, error) {
			quote, err := src.Fetch(ctx)
			if err == nil {
				var v float64
				v, err = pick(quote)
				if err == nil {
					metrics.RecordSourceFetch(src.Name(), nil)
					return v, nil
				}
			}
			if ctx.Err() == nil {
				metrics.RecordSourceFetch(src.Name(), err)
				p.log.WithComponent("pricecache").WithFields(logger.Fields{
					"source": src.Name(),
					"key":    key,
				}).WithError(err).Debug("price source failed")
			}
			return 0, fmt.Errorf("%s: %w", src.Name(), err)
		})
	}
	return race.FirstSuccess(ctx, ops...)
}

func picker(key string) (func(oracle.Quote) (float64, error), error) {
	switch key {
	case KeyUSDPrice:
		return func(q oracle.Quote) (float64, error) {
			if q.USDPrice <= 0 {
				return 0, oracle.ErrNoQuote
			}
			return q.USDPrice, nil
		}, nil
	case KeyUSDMove24h:
		return func(q oracle.Quote) (float64, error) {
			if !q.HasChange {
				return 0, ErrNoChange
			}
			return q.Change24h, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown price key %q", key)
	}
}
