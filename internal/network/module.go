// Package network implements the EOSIO-family network module: static relays
// whose reserve balances are read from chain, relay pricing and the
// business actions handed to an external signer.
package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dexflow/config"
	"dexflow/internal/chain"
	"dexflow/internal/model"
	"dexflow/internal/retry"
	"dexflow/logger"
)

// ErrNoAccount is returned by account-bound actions when no wallet is
// authenticated.
var ErrNoAccount = errors.New("no authenticated account")

const (
	poolPageSize = 10
	initParallel = 4
)

// Chain is the read side of the chain RPC used by a module.
type Chain interface {
	Balance(ctx context.Context, contract, account, symbol string) (chain.Asset, error)
	TokenStats(ctx context.Context, contract, symbol string) (chain.Stat, error)
}

// Wallet is the account the module acts for.
type Wallet interface {
	Account() string
	IsAuthenticated() bool
}

// Transactor hands a prepared action to the external signing layer and
// returns its transaction id.
type Transactor interface {
	Submit(ctx context.Context, req model.ActionRequest) (string, error)
}

// StaticWallet is a watch-only account. An empty name is unauthenticated.
type StaticWallet string

func (w StaticWallet) Account() string       { return string(w) }
func (w StaticWallet) IsAuthenticated() bool { return w != "" }

type Option func(*Module)

func WithWallet(w Wallet) Option {
	return func(m *Module) { m.wallet = w }
}

func WithTransactor(tx Transactor) Option {
	return func(m *Module) { m.tx = tx }
}

func WithLogger(log *logger.Log) Option {
	return func(m *Module) { m.log = log }
}

// Module is one network. It is safe for concurrent use.
type Module struct {
	cfg    config.NetworkConfig
	chain  Chain
	static []config.StaticRelay
	wallet Wallet
	tx     Transactor
	log    *logger.Log

	reloads sync.WaitGroup

	mu       sync.RWMutex
	relays   map[string]model.Relay
	supplies map[string]decimal.Decimal
	order    []string
	visible  int
	tokens   map[string]model.Token
	balances map[string]model.Balance
	focused  string
}

func New(cfg config.NetworkConfig, c Chain, relays []config.StaticRelay, opts ...Option) *Module {
	m := &Module{
		cfg:      cfg,
		chain:    c,
		static:   relays,
		log:      logger.GetLogger(),
		relays:   make(map[string]model.Relay),
		supplies: make(map[string]decimal.Decimal),
		tokens:   make(map[string]model.Token),
		balances: make(map[string]model.Balance),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) ID() string { return m.cfg.ID }

func (m *Module) entry() *logger.Entry {
	return m.log.WithComponent("network").WithFields(logger.Fields{"network": m.cfg.ID})
}

func toRelay(s config.StaticRelay) model.Relay {
	r := model.Relay{
		Contract: s.Contract,
		SmartToken: model.Token{
			Contract:  s.SmartToken.Contract,
			Symbol:    strings.ToUpper(s.SmartToken.Symbol),
			Precision: s.SmartToken.Precision,
		},
		FeePPM: uint32(s.FeePPM),
		Owner:  s.Owner,
	}
	for _, res := range s.Reserves {
		r.Reserves = append(r.Reserves, model.Reserve{Token: model.Token{
			Contract:  res.Contract,
			Symbol:    strings.ToUpper(res.Symbol),
			Precision: res.Precision,
		}})
	}
	return r
}

func (m *Module) retryOpts(op string) []retry.Option {
	return []retry.Option{
		retry.WithMaxAttempts(m.cfg.Retry.MaxAttempts),
		retry.WithInterval(m.cfg.Retry.Interval),
		retry.WithNotify(func(attempt int, err error, next time.Duration) {
			m.entry().WithError(err).WithFields(logger.Fields{
				"operation": op,
				"attempt":   attempt,
				"next":      next.String(),
			}).Warn("chain read failed, retrying")
		}),
	}
}

// loadRelay reads both reserve balances and the smart token supply. extra
// options override the configured retry policy.
func (m *Module) loadRelay(ctx context.Context, relay model.Relay, extra ...retry.Option) (model.Relay, decimal.Decimal, error) {
	relay.Reserves = append([]model.Reserve(nil), relay.Reserves...)
	for i, res := range relay.Reserves {
		bal, err := retry.Do(ctx, func(ctx context.Context) (chain.Asset, error) {
			return m.chain.Balance(ctx, res.Contract, relay.Contract, res.Symbol)
		}, append(m.retryOpts("reserve_balance"), extra...)...)
		if err != nil {
			return relay, decimal.Zero, fmt.Errorf("relay %s reserve %s: %w", relay.Contract, res.Symbol, err)
		}
		relay.Reserves[i].Balance = bal.Amount
	}

	stat, err := retry.Do(ctx, func(ctx context.Context) (chain.Stat, error) {
		st, err := m.chain.TokenStats(ctx, relay.SmartToken.Contract, relay.SmartToken.Symbol)
		if errors.Is(err, model.ErrNotFound) {
			return st, retry.Permanent(err)
		}
		return st, err
	}, append(m.retryOpts("smart_supply"), extra...)...)
	if err != nil {
		return relay, decimal.Zero, fmt.Errorf("relay %s smart token %s: %w", relay.Contract, relay.SmartToken.Symbol, err)
	}
	return relay, stat.Supply.Amount, nil
}

// Init loads every static relay. Params may preselect a pair or a pool,
// which must then exist.
func (m *Module) Init(ctx context.Context, params *model.ModuleParam) error {
	start := time.Now()
	loaded := make([]model.Relay, len(m.static))
	supplies := make([]decimal.Decimal, len(m.static))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(initParallel)
	for i, s := range m.static {
		i, s := i, s
		g.Go(func() error {
			relay, supply, err := m.loadRelay(gctx, toRelay(s))
			if err != nil {
				return err
			}
			loaded[i], supplies[i] = relay, supply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	m.relays = make(map[string]model.Relay, len(loaded))
	m.supplies = make(map[string]decimal.Decimal, len(loaded))
	m.order = m.order[:0]
	for i, r := range loaded {
		key := strings.ToUpper(r.SmartToken.Symbol)
		m.relays[key] = r
		m.supplies[key] = supplies[i]
		m.order = append(m.order, key)
		for _, res := range r.Reserves {
			m.tokens[res.ID()] = res.Token
		}
		m.tokens[r.SmartToken.ID()] = r.SmartToken
	}
	m.visible = min(poolPageSize, len(m.order))
	m.mu.Unlock()

	if err := m.applyParams(params); err != nil {
		return err
	}

	logger.LogPerformanceEntry(m.entry(), "network", "init", time.Since(start), logger.Fields{"relays": len(loaded)})
	return nil
}

func (m *Module) applyParams(params *model.ModuleParam) error {
	if params == nil {
		return nil
	}
	if params.PoolQuery != "" {
		if _, err := m.relay(params.PoolQuery); err != nil {
			return err
		}
	}
	if q := params.TradeQuery; q != nil {
		if _, err := m.pairRelay(q.Base, q.Quote); err != nil {
			return err
		}
		m.mu.Lock()
		m.focused = strings.ToUpper(q.Base)
		m.mu.Unlock()
	}
	return nil
}

// Relays returns the loaded relays in declaration order.
func (m *Module) Relays() []model.Relay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Relay, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.relays[key])
	}
	return out
}

// VisibleRelays returns the relays paged in so far.
func (m *Module) VisibleRelays() []model.Relay {
	all := m.Relays()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return all[:min(m.visible, len(all))]
}

// MorePoolsAvailable reports whether LoadMorePools would reveal more relays.
func (m *Module) MorePoolsAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.visible < len(m.order)
}

// Tokens returns the known tokens sorted by id.
func (m *Module) Tokens() []model.Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Token, 0, len(m.tokens))
	for _, t := range m.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Focused returns the symbol last focused, if any.
func (m *Module) Focused() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.focused
}

// relay finds a relay by smart token symbol.
func (m *Module) relay(symbol string) (model.Relay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return model.Relay{}, fmt.Errorf("relay %s on %s: %w", symbol, m.cfg.ID, model.ErrNotFound)
	}
	return r, nil
}

// pairRelay finds the relay holding both reserves.
func (m *Module) pairRelay(a, b string) (model.Relay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, key := range m.order {
		r := m.relays[key]
		_, okA := r.Reserve(a)
		_, okB := r.Reserve(b)
		if okA && okB && !model.CompareSymbol(a, b) {
			return r, nil
		}
	}
	return model.Relay{}, fmt.Errorf("relay for %s/%s on %s: %w", a, b, m.cfg.ID, model.ErrNotFound)
}

// findToken looks a token up by symbol.
func (m *Module) findToken(symbol string) (model.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if model.CompareSymbol(t.Symbol, symbol) {
			return t, nil
		}
	}
	return model.Token{}, fmt.Errorf("token %s on %s: %w", symbol, m.cfg.ID, model.ErrNotFound)
}

func (m *Module) account() (string, error) {
	if m.wallet == nil || !m.wallet.IsAuthenticated() {
		return "", ErrNoAccount
	}
	return m.wallet.Account(), nil
}
