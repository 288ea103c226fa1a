package tradefeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMissingField is returned when a row lacks the home or other leg in one
// of its keyed arrays.
var ErrMissingField = errors.New("feed row missing field")

// ErrUnexpectedLeg is returned when a keyed array holds anything but the
// pair's two legs. It wraps ErrMissingField.
var ErrUnexpectedLeg = fmt.Errorf("%w: unexpected leg", ErrMissingField)

const (
	aggregateID = 1
	firstPairID = 2
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
	one     = decimal.NewFromInt(1)
)

// Quote is the home currency's USD price and its 24h USD move as a fraction.
type Quote struct {
	USDPrice float64 `json:"usd_price"`
	USDMove  float64 `json:"usd_move"`
}

// Change is a percentage that may be undefined when its denominator is zero.
type Change struct {
	Value         float64
	Indeterminate bool
}

// MarshalJSON encodes an indeterminate change as null.
func (c Change) MarshalJSON() ([]byte, error) {
	if c.Indeterminate {
		return []byte("null"), nil
	}
	return json.Marshal(c.Value)
}

func changeOf(d decimal.Decimal) Change {
	return Change{Value: d.InexactFloat64()}
}

// Pair is one normalised row, or the aggregate home currency row when
// Aggregate is set.
type Pair struct {
	ID                int      `json:"id"`
	Code              string   `json:"code"`
	Name              string   `json:"name"`
	LiquidityDepthUSD float64  `json:"liquidity_depth_usd"`
	PriceUSD          float64  `json:"price_usd"`
	Change24h         Change   `json:"change_24h"`
	Volume24hUSD      float64  `json:"volume_24h_usd"`
	SmartPrice        *float64 `json:"smart_price,omitempty"`
	SmartPriceAPR     *Change  `json:"smart_price_apr,omitempty"`
	Aggregate         bool     `json:"aggregate,omitempty"`
}

// Aggregator normalises rows one at a time and keeps the running sums for
// the home currency row. A rejected row leaves the sums untouched.
type Aggregator struct {
	home  string
	quote Quote
	price decimal.Decimal
	move  decimal.Decimal

	seen      int
	pairs     []Pair
	liquidity decimal.Decimal
	volume    decimal.Decimal
}

func NewAggregator(home string, quote Quote) *Aggregator {
	return &Aggregator{
		home:  strings.ToUpper(strings.TrimSpace(home)),
		quote: quote,
		price: decimal.NewFromFloat(quote.USDPrice),
		move:  decimal.NewFromFloat(quote.USDMove),
	}
}

type keyedArray struct {
	name    string
	entries []Entry
}

// rowReader resolves legs of one row, naming the row in its errors.
type rowReader struct {
	index int
}

func (r rowReader) leg(array string, entries []Entry, key string) (decimal.Decimal, error) {
	e, ok := lookup(entries, key)
	if !ok {
		return decimal.Zero, fmt.Errorf("row %d: %s has no %q entry: %w", r.index, array, key, ErrMissingField)
	}
	d, err := e.Value.Decimal()
	if err != nil {
		return decimal.Zero, fmt.Errorf("row %d: %s[%s]: %w", r.index, array, key, err)
	}
	return d, nil
}

// require checks that entries hold the home and other legs and nothing else.
func (r rowReader) require(array string, entries []Entry, home, other string) error {
	for _, k := range []string{home, other} {
		if _, ok := lookup(entries, k); !ok {
			return fmt.Errorf("row %d: %s has no %q entry: %w", r.index, array, k, ErrMissingField)
		}
	}
	if len(entries) != 2 {
		return fmt.Errorf("row %d: %s has %d entries: %w", r.index, array, len(entries), ErrUnexpectedLeg)
	}
	return nil
}

// Add normalises row and folds it into the running sums.
func (a *Aggregator) Add(row Row) (Pair, error) {
	index := a.seen
	a.seen++
	r := rowReader{index: index}

	other, ok := row.OtherKey(a.home)
	if !ok {
		return Pair{}, fmt.Errorf("row %d: liquidity_depth has no non-%s entry: %w", index, a.home, ErrMissingField)
	}

	arrays := []keyedArray{
		{"liquidity_depth", row.LiquidityDepth},
		{"price", row.Price},
		{"price_change_24h", row.PriceChange24h},
		{"volume_24h", row.Volume24h},
	}
	if row.HasSmartPricing() {
		arrays = append(arrays,
			keyedArray{"smart_price", row.SmartPrice},
			keyedArray{"smart_price_change_30d", row.SmartPriceChange30d},
		)
	}
	for _, arr := range arrays {
		if err := r.require(arr.name, arr.entries, a.home, other); err != nil {
			return Pair{}, err
		}
	}

	liquidity, err := r.leg("liquidity_depth", row.LiquidityDepth, a.home)
	if err != nil {
		return Pair{}, err
	}
	price, err := r.leg("price", row.Price, a.home)
	if err != nil {
		return Pair{}, err
	}
	delta, err := r.leg("price_change_24h", row.PriceChange24h, a.home)
	if err != nil {
		return Pair{}, err
	}
	volume, err := r.leg("volume_24h", row.Volume24h, a.home)
	if err != nil {
		return Pair{}, err
	}

	liquidityUSD := liquidity.Mul(a.price).Mul(two)
	priceUSD := price.Mul(a.price)
	rawDeltaUSD := delta.Mul(a.price)
	volumeUSD := volume.Mul(a.price)

	pair := Pair{
		Code:              other,
		Name:              other,
		LiquidityDepthUSD: liquidityUSD.InexactFloat64(),
		PriceUSD:          priceUSD.InexactFloat64(),
		Change24h:         a.change24h(priceUSD, rawDeltaUSD),
		Volume24hUSD:      volumeUSD.InexactFloat64(),
	}

	if row.HasSmartPricing() {
		smart, err := r.leg("smart_price", row.SmartPrice, a.home)
		if err != nil {
			return Pair{}, err
		}
		smartDelta, err := r.leg("smart_price_change_30d", row.SmartPriceChange30d, a.home)
		if err != nil {
			return Pair{}, err
		}
		smartUSD := smart.Mul(a.price)
		smartDeltaUSD := smartDelta.Mul(a.price)
		sp := smartUSD.InexactFloat64()
		apr := Change{Indeterminate: true}
		if denom := smartUSD.Sub(smartDeltaUSD); !denom.IsZero() {
			apr = changeOf(smartDeltaUSD.Div(denom).Mul(hundred))
		}
		pair.SmartPrice = &sp
		pair.SmartPriceAPR = &apr
	}

	pair.ID = firstPairID + len(a.pairs)
	a.pairs = append(a.pairs, pair)
	a.liquidity = a.liquidity.Add(liquidityUSD)
	a.volume = a.volume.Add(volumeUSD)
	return pair, nil
}

// change24h removes the home currency's own USD move from the pair's change:
// 100 * (P / (a * (P - R)) - 1) with a = 1 / (1 + move).
func (a *Aggregator) change24h(priceUSD, rawDeltaUSD decimal.Decimal) Change {
	base := priceUSD.Sub(rawDeltaUSD)
	growth := one.Add(a.move)
	if base.IsZero() || growth.IsZero() {
		return Change{Indeterminate: true}
	}
	// P / ((1/g) * base) == P * g / base
	ratio := priceUSD.Mul(growth).Div(base)
	return changeOf(ratio.Sub(one).Mul(hundred))
}

// Pairs returns the rows accepted so far.
func (a *Aggregator) Pairs() []Pair {
	out := make([]Pair, len(a.pairs))
	copy(out, a.pairs)
	return out
}

// Home returns the aggregate row for the home currency.
func (a *Aggregator) Home() Pair {
	return Pair{
		ID:                aggregateID,
		Code:              a.home,
		Name:              a.home,
		LiquidityDepthUSD: a.liquidity.InexactFloat64(),
		PriceUSD:          a.quote.USDPrice,
		Change24h:         changeOf(a.move.Mul(hundred)),
		Volume24hUSD:      a.volume.InexactFloat64(),
		Aggregate:         true,
	}
}

// Result returns the accepted rows followed by the aggregate row.
func (a *Aggregator) Result() []Pair {
	return append(a.Pairs(), a.Home())
}

// Aggregate normalises every row and appends the home currency row. It
// stops at the first invalid row.
func Aggregate(rows []Row, home string, quote Quote) ([]Pair, error) {
	agg := NewAggregator(home, quote)
	for _, row := range rows {
		if _, err := agg.Add(row); err != nil {
			return nil, err
		}
	}
	return agg.Result(), nil
}
