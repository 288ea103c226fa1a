// Package tradefeed converts per-pair trade statistics quoted in the home
// currency into USD figures.
package tradefeed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dexflow/internal/chain"
	"dexflow/internal/model"
)

// Value is a number as it appears in a feed row. Rows carry plain numbers,
// numeric strings and asset strings ("100.0000 SEEDS") interchangeably.
type Value string

func (v *Value) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("feed value %s: %w", string(b), err)
	}
	*v = Value(n.String())
	return nil
}

// Decimal parses the leading number of the value.
func (v Value) Decimal() (decimal.Decimal, error) {
	return chain.ParseAmount(string(v))
}

// Entry is one leg of a keyed array.
type Entry struct {
	Key   string `json:"key"`
	Value Value  `json:"value"`
}

// Row is one pair of the on-chain trade data table.
type Row struct {
	LiquidityDepth      []Entry `json:"liquidity_depth"`
	Price               []Entry `json:"price"`
	PriceChange24h      []Entry `json:"price_change_24h"`
	Volume24h           []Entry `json:"volume_24h"`
	SmartPrice          []Entry `json:"smart_price,omitempty"`
	SmartPriceChange30d []Entry `json:"smart_price_change_30d,omitempty"`
}

// HasSmartPricing reports whether the pool publishes smart token prices.
func (r Row) HasSmartPricing() bool {
	return r.SmartPrice != nil || r.SmartPriceChange30d != nil
}

// OtherKey returns the symbol of the non-home leg, read from the liquidity
// array.
func (r Row) OtherKey(home string) (string, bool) {
	for _, e := range r.LiquidityDepth {
		if !model.CompareSymbol(e.Key, home) {
			return strings.ToUpper(e.Key), true
		}
	}
	return "", false
}

func lookup(entries []Entry, key string) (Entry, bool) {
	for _, e := range entries {
		if model.CompareSymbol(e.Key, key) {
			return e, true
		}
	}
	return Entry{}, false
}
