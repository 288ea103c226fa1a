package chain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset is a parsed "<amount> <SYMBOL>" string such as "100.0000 SEEDS".
type Asset struct {
	Amount    decimal.Decimal
	Symbol    string
	Precision int
}

// ParseAsset parses an EOSIO asset string. The precision is the number of
// digits after the decimal point.
func ParseAsset(s string) (Asset, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Asset{}, fmt.Errorf("invalid asset %q", s)
	}
	amount, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Asset{}, fmt.Errorf("invalid asset amount %q: %w", s, err)
	}
	precision := 0
	if i := strings.IndexByte(fields[0], '.'); i >= 0 {
		precision = len(fields[0]) - i - 1
	}
	return Asset{
		Amount:    amount,
		Symbol:    strings.ToUpper(fields[1]),
		Precision: precision,
	}, nil
}

// ParseAmount parses either a bare number or the amount part of an asset
// string.
func ParseAmount(s string) (decimal.Decimal, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	amount, err := decimal.NewFromString(fields[0])
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return amount, nil
}

func (a Asset) String() string {
	return a.Amount.StringFixed(int32(a.Precision)) + " " + a.Symbol
}
