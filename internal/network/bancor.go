package network

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"dexflow/internal/model"
)

// ErrInvalidAmount is returned for zero or negative quantities.
var ErrInvalidAmount = errors.New("amount must be positive")

var ppm = decimal.NewFromInt(1_000_000)

// Relays here hold two reserves of equal weight, so a conversion between
// them reduces to the constant product formula.

func feeRate(feePPM uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(feePPM)).Div(ppm)
}

// calculateReturn prices selling amount of from for to.
func calculateReturn(from, to model.Reserve, amount decimal.Decimal, feePPM uint32) (model.ConvertReturn, error) {
	if !amount.IsPositive() {
		return model.ConvertReturn{}, ErrInvalidAmount
	}
	if !from.Balance.IsPositive() || !to.Balance.IsPositive() {
		return model.ConvertReturn{}, fmt.Errorf("%s/%s: %w", from.Symbol, to.Symbol, model.ErrInsufficientReserve)
	}

	gross := to.Balance.Mul(amount).Div(from.Balance.Add(amount))
	fee := gross.Mul(feeRate(feePPM))
	slippage := amount.Div(from.Balance.Add(amount))

	return model.ConvertReturn{
		Amount:   gross.Sub(fee).Truncate(int32(to.Precision)),
		Fee:      fee.Truncate(int32(to.Precision)),
		Slippage: slippage.InexactFloat64(),
	}, nil
}

// calculateCost prices buying wanted of to with from. The cost is rounded up
// to from's precision.
func calculateCost(from, to model.Reserve, wanted decimal.Decimal, feePPM uint32) (model.ConvertReturn, error) {
	if !wanted.IsPositive() {
		return model.ConvertReturn{}, ErrInvalidAmount
	}
	keep := decimal.NewFromInt(1).Sub(feeRate(feePPM))
	if !keep.IsPositive() {
		return model.ConvertReturn{}, fmt.Errorf("fee of %d ppm leaves nothing to convert: %w", feePPM, ErrInvalidAmount)
	}
	gross := wanted.Div(keep)
	if !from.Balance.IsPositive() || gross.GreaterThanOrEqual(to.Balance) {
		return model.ConvertReturn{}, fmt.Errorf("%s %s wanted from %s reserve: %w", wanted, to.Symbol, to.Balance, model.ErrInsufficientReserve)
	}

	cost := from.Balance.Mul(gross).Div(to.Balance.Sub(gross))
	return model.ConvertReturn{
		Amount:   cost.RoundCeil(int32(from.Precision)),
		Fee:      gross.Sub(wanted).Truncate(int32(to.Precision)),
		Slippage: gross.Div(to.Balance).InexactFloat64(),
	}, nil
}

// opposing splits a relay around the reserve named symbol.
func opposing(relay model.Relay, symbol string) (model.Reserve, model.Reserve, error) {
	var (
		own, other model.Reserve
		found      bool
	)
	for _, r := range relay.Reserves {
		if model.CompareSymbol(r.Symbol, symbol) {
			own, found = r, true
		} else {
			other = r
		}
	}
	if !found {
		return own, other, fmt.Errorf("reserve %s in relay %s: %w", symbol, relay.SmartToken.Symbol, model.ErrNotFound)
	}
	return own, other, nil
}

// calculateOpposingDeposit returns what has to be deposited on the other side
// of the relay to add amount of symbol, and the smart tokens issued for it.
func calculateOpposingDeposit(relay model.Relay, supply decimal.Decimal, reserve model.TokenAmount) (model.OpposingLiquid, error) {
	own, other, err := opposing(relay, reserve.Symbol)
	if err != nil {
		return model.OpposingLiquid{}, err
	}
	if !reserve.Amount.IsPositive() {
		return model.OpposingLiquid{}, ErrInvalidAmount
	}
	if !own.Balance.IsPositive() {
		return model.OpposingLiquid{}, fmt.Errorf("%s reserve is empty: %w", own.Symbol, model.ErrInsufficientReserve)
	}

	ratio := reserve.Amount.Div(own.Balance)
	return model.OpposingLiquid{
		OpposingAmount: model.TokenAmount{
			Symbol: other.Symbol,
			Amount: other.Balance.Mul(ratio).RoundCeil(int32(other.Precision)),
		},
		SmartTokenAmount: supply.Mul(ratio).Truncate(int32(relay.SmartToken.Precision)),
	}, nil
}

// calculateOpposingWithdraw returns what is received on the other side of the
// relay when withdrawing amount of symbol, and the smart tokens burnt.
func calculateOpposingWithdraw(relay model.Relay, supply decimal.Decimal, reserve model.TokenAmount) (model.OpposingLiquid, error) {
	own, other, err := opposing(relay, reserve.Symbol)
	if err != nil {
		return model.OpposingLiquid{}, err
	}
	if !reserve.Amount.IsPositive() {
		return model.OpposingLiquid{}, ErrInvalidAmount
	}
	if reserve.Amount.GreaterThan(own.Balance) {
		return model.OpposingLiquid{}, fmt.Errorf("withdraw %s %s from %s: %w", reserve.Amount, own.Symbol, own.Balance, model.ErrInsufficientReserve)
	}

	ratio := reserve.Amount.Div(own.Balance)
	return model.OpposingLiquid{
		OpposingAmount: model.TokenAmount{
			Symbol: other.Symbol,
			Amount: other.Balance.Mul(ratio).Truncate(int32(other.Precision)),
		},
		SmartTokenAmount: supply.Mul(ratio).RoundCeil(int32(relay.SmartToken.Precision)),
	}, nil
}
