package registry

import (
	"context"
	"strings"
	"sync"

	"dexflow/internal/model"
)

// NetworkModule is one network integration. Every business action the
// registry routes is a method here.
type NetworkModule interface {
	Init(ctx context.Context, params *model.ModuleParam) error

	LoadMoreTokens(ctx context.Context, tokenIDs []string) error
	LoadMorePools(ctx context.Context) error
	FocusSymbol(ctx context.Context, symbol string) error
	RefreshBalances(ctx context.Context, symbols []string) error
	FetchHistoryData(ctx context.Context, relayID string) ([]model.HistoryRow, error)
	GetUserBalances(ctx context.Context, symbol string) (model.UserBalances, error)

	GetReturn(ctx context.Context, tx model.ProposedFromTx) (model.ConvertReturn, error)
	GetCost(ctx context.Context, tx model.ProposedToTx) (model.ConvertReturn, error)
	CalculateOpposingDeposit(ctx context.Context, p model.OpposingLiquidParams) (model.OpposingLiquid, error)
	CalculateOpposingWithdraw(ctx context.Context, p model.OpposingLiquidParams) (model.OpposingLiquid, error)

	Convert(ctx context.Context, tx model.ConvertTx) (string, error)
	AddLiquidity(ctx context.Context, p model.LiquidityParams) (string, error)
	RemoveLiquidity(ctx context.Context, p model.LiquidityParams) (string, error)
	CreatePool(ctx context.Context, p model.NewPoolParams) (string, error)
	RemoveRelay(ctx context.Context, symbol string) (string, error)
	UpdateFee(ctx context.Context, p model.FeeParams) (string, error)
	UpdateOwner(ctx context.Context, p model.OwnerParams) (string, error)
}

// NetworkSelector names the network business actions go to. An empty id
// selects the registry default.
type NetworkSelector interface {
	Current() string
}

// WalletStatus gates balance refreshes.
type WalletStatus interface {
	IsAuthenticated() bool
}

// StaticSelector always selects the same network.
type StaticSelector string

func (s StaticSelector) Current() string { return string(s) }

// Selector is a NetworkSelector that can be switched at runtime.
type Selector struct {
	mu sync.RWMutex
	id string
}

func NewSelector(id string) *Selector {
	return &Selector{id: normalizeID(id)}
}

func (s *Selector) Select(id string) {
	s.mu.Lock()
	s.id = normalizeID(id)
	s.mu.Unlock()
}

func (s *Selector) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
