package tradefeed

import (
	"context"
	"encoding/json"
	"fmt"

	"dexflow/config"
	"dexflow/internal/chain"
	"dexflow/internal/metrics"
	"dexflow/internal/model"
	"dexflow/logger"
)

// TableReader is the chain read used to load the trade data table.
type TableReader interface {
	GetTableRows(ctx context.Context, q chain.TableQuery) (*chain.TableRows, error)
}

// Quoter supplies the home currency's USD quote.
type Quoter interface {
	USDPrice(ctx context.Context) (float64, error)
	USDMove24h(ctx context.Context) (float64, error)
}

// LoadRows reads and decodes the trade data table. An empty table is
// reported as model.ErrNotFound.
func LoadRows(ctx context.Context, reader TableReader, cfg config.TradeFeedConfig) ([]Row, error) {
	res, err := reader.GetTableRows(ctx, chain.TableQuery{
		Code:  cfg.Code,
		Table: cfg.Table,
		Scope: cfg.Scope,
		Limit: cfg.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("load trade data: %w", err)
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("trade data %s/%s: %w", cfg.Code, cfg.Table, model.ErrNotFound)
	}

	rows := make([]Row, 0, len(res.Rows))
	for i, raw := range res.Rows {
		var row Row
		if err := json.Unmarshal(raw, &row); err != nil {
			return nil, fmt.Errorf("decode trade data row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Feed loads the trade data of one network and prices it in USD.
type Feed struct {
	reader TableReader
	quoter Quoter
	cfg    config.TradeFeedConfig
	home   string
	log    *logger.Log
}

func NewFeed(reader TableReader, quoter Quoter, cfg config.TradeFeedConfig, home string) *Feed {
	return &Feed{
		reader: reader,
		quoter: quoter,
		cfg:    cfg,
		home:   home,
		log:    logger.GetLogger(),
	}
}

// Fetch returns every pair followed by the home currency row.
func (f *Feed) Fetch(ctx context.Context) ([]Pair, error) {
	log := f.log.WithComponent("tradefeed").WithFields(logger.Fields{"code": f.cfg.Code, "table": f.cfg.Table})

	rows, err := LoadRows(ctx, f.reader, f.cfg)
	if err != nil {
		return nil, err
	}

	price, err := f.quoter.USDPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("usd price of %s: %w", f.home, err)
	}
	move, err := f.quoter.USDMove24h(ctx)
	if err != nil {
		return nil, fmt.Errorf("usd move of %s: %w", f.home, err)
	}

	agg := NewAggregator(f.home, Quote{USDPrice: price, USDMove: move})
	for _, row := range rows {
		if _, err := agg.Add(row); err != nil {
			metrics.RecordFeedAggregation(len(agg.Pairs()), 1)
			log.WithError(err).Warn("trade feed aggregation failed")
			return nil, err
		}
	}
	metrics.RecordFeedAggregation(len(rows), 0)

	log.WithFields(logger.Fields{"rows": len(rows), "usd_price": price}).Debug("trade feed aggregated")
	return agg.Result(), nil
}
