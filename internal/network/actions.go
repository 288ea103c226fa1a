package network

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dexflow/internal/chain"
	"dexflow/internal/model"
	"dexflow/internal/retry"
	"dexflow/logger"
)

// LoadMorePools reveals the next page of relays.
func (m *Module) LoadMorePools(ctx context.Context) error {
	m.mu.Lock()
	m.visible = min(m.visible+poolPageSize, len(m.order))
	m.mu.Unlock()
	return nil
}

// LoadMoreTokens registers tokens given as "contract-SYMBOL" ids after
// checking that they exist on chain.
func (m *Module) LoadMoreTokens(ctx context.Context, tokenIDs []string) error {
	for _, id := range tokenIDs {
		contract, symbol, ok := strings.Cut(id, "-")
		if !ok || contract == "" || symbol == "" {
			return fmt.Errorf("token id %q: %w", id, model.ErrNotFound)
		}
		symbol = strings.ToUpper(symbol)

		m.mu.RLock()
		_, known := m.tokens[contract+"-"+symbol]
		m.mu.RUnlock()
		if known {
			continue
		}

		stat, err := m.chain.TokenStats(ctx, contract, symbol)
		if err != nil {
			return err
		}
		tok := model.Token{Contract: contract, Symbol: symbol, Precision: stat.MaxSupply.Precision}
		m.mu.Lock()
		m.tokens[tok.ID()] = tok
		m.mu.Unlock()
	}
	return nil
}

// FocusSymbol selects a token and refreshes its balance when a wallet is
// attached.
func (m *Module) FocusSymbol(ctx context.Context, symbol string) error {
	tok, err := m.findToken(symbol)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.focused = tok.Symbol
	m.mu.Unlock()

	if _, err := m.account(); err != nil {
		return nil
	}
	return m.RefreshBalances(ctx, []string{tok.Symbol})
}

// RefreshBalances reloads the wallet balances of symbols, or of every known
// token when symbols is empty.
func (m *Module) RefreshBalances(ctx context.Context, symbols []string) error {
	account, err := m.account()
	if err != nil {
		return err
	}

	var toks []model.Token
	if len(symbols) == 0 {
		toks = m.Tokens()
	} else {
		for _, s := range symbols {
			t, err := m.findToken(s)
			if err != nil {
				return err
			}
			toks = append(toks, t)
		}
	}

	for _, t := range toks {
		bal, err := m.chain.Balance(ctx, t.Contract, account, t.Symbol)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", t.ID(), err)
		}
		m.mu.Lock()
		m.balances[t.ID()] = model.Balance{Token: t, Amount: bal.Amount}
		m.mu.Unlock()
	}
	return nil
}

// Balances returns the cached wallet balances.
func (m *Module) Balances() []model.Balance {
	toks := m.Tokens()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Balance
	for _, t := range toks {
		if b, ok := m.balances[t.ID()]; ok {
			out = append(out, b)
		}
	}
	return out
}

// FetchHistoryData is not served by EOSIO relays.
func (m *Module) FetchHistoryData(ctx context.Context, relayID string) ([]model.HistoryRow, error) {
	return nil, fmt.Errorf("history of %s on %s: %w", relayID, m.cfg.ID, model.ErrNotSupported)
}

// GetUserBalances reads the wallet's holdings of a relay's reserves and
// smart token.
func (m *Module) GetUserBalances(ctx context.Context, symbol string) (model.UserBalances, error) {
	account, err := m.account()
	if err != nil {
		return model.UserBalances{}, err
	}
	relay, err := m.relay(symbol)
	if err != nil {
		return model.UserBalances{}, err
	}

	toks := []model.Token{relay.SmartToken}
	for _, r := range relay.Reserves {
		toks = append(toks, r.Token)
	}
	out := model.UserBalances{Account: account}
	for _, t := range toks {
		bal, err := m.chain.Balance(ctx, t.Contract, account, t.Symbol)
		if err != nil {
			return model.UserBalances{}, fmt.Errorf("balance of %s: %w", t.ID(), err)
		}
		out.Balances = append(out.Balances, model.Balance{Token: t, Amount: bal.Amount})
	}
	return out, nil
}

func (m *Module) GetReturn(ctx context.Context, tx model.ProposedFromTx) (model.ConvertReturn, error) {
	relay, err := m.pairRelay(tx.From.Symbol, tx.ToSymbol)
	if err != nil {
		return model.ConvertReturn{}, err
	}
	from, _ := relay.Reserve(tx.From.Symbol)
	to, _ := relay.Reserve(tx.ToSymbol)
	return calculateReturn(from, to, tx.From.Amount, relay.FeePPM)
}

func (m *Module) GetCost(ctx context.Context, tx model.ProposedToTx) (model.ConvertReturn, error) {
	relay, err := m.pairRelay(tx.FromSymbol, tx.To.Symbol)
	if err != nil {
		return model.ConvertReturn{}, err
	}
	from, _ := relay.Reserve(tx.FromSymbol)
	to, _ := relay.Reserve(tx.To.Symbol)
	return calculateCost(from, to, tx.To.Amount, relay.FeePPM)
}

func (m *Module) supply(symbol string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supplies[strings.ToUpper(symbol)]
}

func (m *Module) CalculateOpposingDeposit(ctx context.Context, p model.OpposingLiquidParams) (model.OpposingLiquid, error) {
	relay, err := m.relay(p.SmartTokenSymbol)
	if err != nil {
		return model.OpposingLiquid{}, err
	}
	return calculateOpposingDeposit(relay, m.supply(p.SmartTokenSymbol), p.Reserve)
}

func (m *Module) CalculateOpposingWithdraw(ctx context.Context, p model.OpposingLiquidParams) (model.OpposingLiquid, error) {
	relay, err := m.relay(p.SmartTokenSymbol)
	if err != nil {
		return model.OpposingLiquid{}, err
	}
	return calculateOpposingWithdraw(relay, m.supply(p.SmartTokenSymbol), p.Reserve)
}

// submit hands name to the signer on behalf of the wallet account.
func (m *Module) submit(ctx context.Context, name string, payload any) (string, error) {
	if m.tx == nil {
		return "", fmt.Errorf("%s on %s: %w", name, m.cfg.ID, model.ErrReadOnly)
	}
	account, err := m.account()
	if err != nil {
		return "", err
	}
	txID, err := m.tx.Submit(ctx, model.ActionRequest{
		Network: m.cfg.ID,
		Name:    name,
		Account: account,
		Payload: payload,
	})
	if err != nil {
		return "", fmt.Errorf("%s on %s: %w", name, m.cfg.ID, err)
	}
	m.entry().WithFields(logger.Fields{"action": name, "tx_id": txID}).Info("action submitted")
	return txID, nil
}

// reload refreshes the balances of relay after a trade touched it, in the
// background and with a single read per balance. Failures only leave the old
// balances in place.
func (m *Module) reload(ctx context.Context, relay model.Relay) {
	m.reloads.Add(1)
	go func() {
		defer m.reloads.Done()
		fresh, supply, err := m.loadRelay(context.WithoutCancel(ctx), relay, retry.WithMaxAttempts(1))
		if err != nil {
			m.entry().WithError(err).WithFields(logger.Fields{"relay": relay.SmartToken.Symbol}).Warn("relay reload failed")
			return
		}
		m.mu.Lock()
		key := strings.ToUpper(fresh.SmartToken.Symbol)
		m.relays[key] = fresh
		m.supplies[key] = supply
		m.mu.Unlock()
	}()
}

func (m *Module) Convert(ctx context.Context, tx model.ConvertTx) (string, error) {
	relay, err := m.pairRelay(tx.From.Symbol, tx.To.Symbol)
	if err != nil {
		return "", err
	}
	if !tx.From.Amount.IsPositive() {
		return "", ErrInvalidAmount
	}
	id, err := m.submit(ctx, "convert", tx)
	if err != nil {
		return "", err
	}
	m.reload(ctx, relay)
	return id, nil
}

func (m *Module) AddLiquidity(ctx context.Context, p model.LiquidityParams) (string, error) {
	relay, err := m.liquidityRelay(p)
	if err != nil {
		return "", err
	}
	id, err := m.submit(ctx, "add_liquidity", p)
	if err != nil {
		return "", err
	}
	m.reload(ctx, relay)
	return id, nil
}

func (m *Module) RemoveLiquidity(ctx context.Context, p model.LiquidityParams) (string, error) {
	relay, err := m.liquidityRelay(p)
	if err != nil {
		return "", err
	}
	for _, r := range p.Reserves {
		res, _ := relay.Reserve(r.Symbol)
		if r.Amount.GreaterThan(res.Balance) {
			return "", fmt.Errorf("withdraw %s %s: %w", r.Amount, r.Symbol, model.ErrInsufficientReserve)
		}
	}
	id, err := m.submit(ctx, "remove_liquidity", p)
	if err != nil {
		return "", err
	}
	m.reload(ctx, relay)
	return id, nil
}

func (m *Module) liquidityRelay(p model.LiquidityParams) (model.Relay, error) {
	relay, err := m.relay(p.SmartTokenSymbol)
	if err != nil {
		return model.Relay{}, err
	}
	if len(p.Reserves) == 0 {
		return model.Relay{}, ErrInvalidAmount
	}
	for _, r := range p.Reserves {
		if _, ok := relay.Reserve(r.Symbol); !ok {
			return model.Relay{}, fmt.Errorf("reserve %s in relay %s: %w", r.Symbol, relay.SmartToken.Symbol, model.ErrNotFound)
		}
		if !r.Amount.IsPositive() {
			return model.Relay{}, ErrInvalidAmount
		}
	}
	return relay, nil
}

func (m *Module) CreatePool(ctx context.Context, p model.NewPoolParams) (string, error) {
	if len(p.Reserves) != 2 {
		return "", fmt.Errorf("pool needs 2 reserves, got %d: %w", len(p.Reserves), ErrInvalidAmount)
	}
	for _, r := range p.Reserves {
		if _, err := m.findToken(r.Symbol); err != nil {
			return "", err
		}
		if !r.Amount.IsPositive() {
			return "", ErrInvalidAmount
		}
	}
	if _, err := m.pairRelay(p.Reserves[0].Symbol, p.Reserves[1].Symbol); err == nil {
		return "", fmt.Errorf("relay for %s/%s already exists", p.Reserves[0].Symbol, p.Reserves[1].Symbol)
	}
	return m.submit(ctx, "create_pool", p)
}

func (m *Module) RemoveRelay(ctx context.Context, symbol string) (string, error) {
	if _, err := m.relay(symbol); err != nil {
		return "", err
	}
	return m.submit(ctx, "remove_relay", symbol)
}

func (m *Module) UpdateFee(ctx context.Context, p model.FeeParams) (string, error) {
	if _, err := m.relay(p.SmartTokenSymbol); err != nil {
		return "", err
	}
	if p.FeePPM >= 1_000_000 {
		return "", fmt.Errorf("fee %d ppm: %w", p.FeePPM, ErrInvalidAmount)
	}
	return m.submit(ctx, "update_fee", p)
}

func (m *Module) UpdateOwner(ctx context.Context, p model.OwnerParams) (string, error) {
	if _, err := m.relay(p.SmartTokenSymbol); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Owner) == "" {
		return "", fmt.Errorf("new owner of %s is empty", p.SmartTokenSymbol)
	}
	return m.submit(ctx, "update_owner", p)
}

var _ Chain = (*chain.Client)(nil)
