package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Token identifies a token contract and symbol on an EOSIO-family chain.
type Token struct {
	Contract  string `json:"contract" yaml:"contract"`
	Symbol    string `json:"symbol" yaml:"symbol"`
	Precision int    `json:"precision" yaml:"precision"`
}

// ID builds the contract-symbol identifier used by the frontend.
func (t Token) ID() string {
	return t.Contract + "-" + t.Symbol
}

// Reserve is one leg of a relay with its last known on-chain balance.
type Reserve struct {
	Token   `yaml:",inline"`
	Balance decimal.Decimal `json:"balance" yaml:"-"`
}

// Relay is a liquidity pool converting between its reserves, issuing a smart
// token for liquidity shares.
type Relay struct {
	Contract   string    `json:"contract" yaml:"contract"`
	SmartToken Token     `json:"smart_token" yaml:"smart_token"`
	Reserves   []Reserve `json:"reserves" yaml:"reserves"`
	FeePPM     uint32    `json:"fee_ppm" yaml:"fee_ppm"`
	Owner      string    `json:"owner,omitempty" yaml:"owner"`
}

// Reserve returns the reserve with the given symbol.
func (r Relay) Reserve(symbol string) (Reserve, bool) {
	for _, res := range r.Reserves {
		if CompareSymbol(res.Symbol, symbol) {
			return res, true
		}
	}
	return Reserve{}, false
}

// HasSymbol reports whether the relay holds the symbol as a reserve or smart token.
func (r Relay) HasSymbol(symbol string) bool {
	if CompareSymbol(r.SmartToken.Symbol, symbol) {
		return true
	}
	_, ok := r.Reserve(symbol)
	return ok
}

// TokenAmount is a quantity of a token addressed by symbol.
type TokenAmount struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// TradeQuery preselects a pair when a network is opened by deep link.
type TradeQuery struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ModuleParam carries optional init parameters for one network module.
type ModuleParam struct {
	TradeQuery *TradeQuery `json:"trade_query,omitempty"`
	PoolQuery  string      `json:"pool_query,omitempty"`
}

// ConvertTx is a proposed conversion between two tokens.
type ConvertTx struct {
	From TokenAmount `json:"from"`
	To   TokenAmount `json:"to"`
}

// ProposedFromTx asks how much of ToSymbol is received for From.
type ProposedFromTx struct {
	From     TokenAmount `json:"from"`
	ToSymbol string      `json:"to_symbol"`
}

// ProposedToTx asks how much of FromSymbol is needed to receive To.
type ProposedToTx struct {
	FromSymbol string      `json:"from_symbol"`
	To         TokenAmount `json:"to"`
}

// ConvertReturn is the result of a conversion quote.
type ConvertReturn struct {
	Amount   decimal.Decimal `json:"amount"`
	Fee      decimal.Decimal `json:"fee"`
	Slippage float64         `json:"slippage"`
}

// LiquidityParams describes an add or remove liquidity request.
type LiquidityParams struct {
	SmartTokenSymbol string        `json:"smart_token_symbol"`
	Reserves         []TokenAmount `json:"reserves"`
}

// OpposingLiquidParams asks for the matching amount on the other side of a relay.
type OpposingLiquidParams struct {
	SmartTokenSymbol string      `json:"smart_token_symbol"`
	Reserve          TokenAmount `json:"reserve"`
}

// OpposingLiquid is the amount needed on the opposing reserve and the
// corresponding smart token quantity.
type OpposingLiquid struct {
	OpposingAmount   TokenAmount     `json:"opposing_amount"`
	SmartTokenAmount decimal.Decimal `json:"smart_token_amount"`
}

type FeeParams struct {
	SmartTokenSymbol string `json:"smart_token_symbol"`
	FeePPM           uint32 `json:"fee_ppm"`
}

type OwnerParams struct {
	SmartTokenSymbol string `json:"smart_token_symbol"`
	Owner            string `json:"owner"`
}

type NewPoolParams struct {
	Reserves []TokenAmount `json:"reserves"`
	FeePPM   uint32        `json:"fee_ppm"`
}

// HistoryRow is a single historical conversion on a relay.
type HistoryRow struct {
	Timestamp time.Time   `json:"timestamp"`
	TxID      string      `json:"tx_id"`
	From      TokenAmount `json:"from"`
	To        TokenAmount `json:"to"`
}

// Balance is an account's holding of one token.
type Balance struct {
	Token  `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

// UserBalances lists the balances of an account on one network.
type UserBalances struct {
	Account  string    `json:"account"`
	Balances []Balance `json:"balances"`
}

// ActionRequest is handed to the external signing layer. Name is the
// business action, Payload the typed params that produced it.
type ActionRequest struct {
	Network string `json:"network"`
	Name    string `json:"name"`
	Account string `json:"account"`
	Payload any    `json:"payload"`
}

// CompareSymbol compares token symbols case-insensitively.
func CompareSymbol(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
