package registry

import (
	"context"

	"dexflow/internal/metrics"
	"dexflow/internal/model"
)

// dispatch routes one action to the current module. Module errors are
// returned as is.
func dispatch[T any](r *Registry, action string, call func(NetworkModule) (T, error)) (T, error) {
	id, module, err := r.Current()
	if err != nil {
		var zero T
		return zero, err
	}
	res, err := call(module)
	metrics.RecordDispatch(id, action, err)
	return res, err
}

func dispatchErr(r *Registry, action string, call func(NetworkModule) error) error {
	_, err := dispatch(r, action, func(m NetworkModule) (struct{}, error) {
		return struct{}{}, call(m)
	})
	return err
}

func (r *Registry) LoadMoreTokens(ctx context.Context, tokenIDs []string) error {
	return dispatchErr(r, "load_more_tokens", func(m NetworkModule) error {
		return m.LoadMoreTokens(ctx, tokenIDs)
	})
}

func (r *Registry) LoadMorePools(ctx context.Context) error {
	return dispatchErr(r, "load_more_pools", func(m NetworkModule) error {
		return m.LoadMorePools(ctx)
	})
}

func (r *Registry) FocusSymbol(ctx context.Context, symbol string) error {
	return dispatchErr(r, "focus_symbol", func(m NetworkModule) error {
		return m.FocusSymbol(ctx, symbol)
	})
}

// RefreshBalances is a no-op unless the wallet is authenticated.
func (r *Registry) RefreshBalances(ctx context.Context, symbols []string) error {
	if r.wallet == nil || !r.wallet.IsAuthenticated() {
		return nil
	}
	return dispatchErr(r, "refresh_balances", func(m NetworkModule) error {
		return m.RefreshBalances(ctx, symbols)
	})
}

func (r *Registry) FetchHistoryData(ctx context.Context, relayID string) ([]model.HistoryRow, error) {
	return dispatch(r, "fetch_history_data", func(m NetworkModule) ([]model.HistoryRow, error) {
		return m.FetchHistoryData(ctx, relayID)
	})
}

func (r *Registry) GetUserBalances(ctx context.Context, symbol string) (model.UserBalances, error) {
	return dispatch(r, "get_user_balances", func(m NetworkModule) (model.UserBalances, error) {
		return m.GetUserBalances(ctx, symbol)
	})
}

func (r *Registry) GetReturn(ctx context.Context, tx model.ProposedFromTx) (model.ConvertReturn, error) {
	return dispatch(r, "get_return", func(m NetworkModule) (model.ConvertReturn, error) {
		return m.GetReturn(ctx, tx)
	})
}

func (r *Registry) GetCost(ctx context.Context, tx model.ProposedToTx) (model.ConvertReturn, error) {
	return dispatch(r, "get_cost", func(m NetworkModule) (model.ConvertReturn, error) {
		return m.GetCost(ctx, tx)
	})
}

func (r *Registry) CalculateOpposingDeposit(ctx context.Context, p model.OpposingLiquidParams) (model.OpposingLiquid, error) {
	return dispatch(r, "calculate_opposing_deposit", func(m NetworkModule) (model.OpposingLiquid, error) {
		return m.CalculateOpposingDeposit(ctx, p)
	})
}

func (r *Registry) CalculateOpposingWithdraw(ctx context.Context, p model.OpposingLiquidParams) (model.OpposingLiquid, error) {
	return dispatch(r, "calculate_opposing_withdraw", func(m NetworkModule) (model.OpposingLiquid, error) {
		return m.CalculateOpposingWithdraw(ctx, p)
	})
}

func (r *Registry) Convert(ctx context.Context, tx model.ConvertTx) (string, error) {
	return dispatch(r, "convert", func(m NetworkModule) (string, error) {
		return m.Convert(ctx, tx)
	})
}

func (r *Registry) AddLiquidity(ctx context.Context, p model.LiquidityParams) (string, error) {
	return dispatch(r, "add_liquidity", func(m NetworkModule) (string, error) {
		return m.AddLiquidity(ctx, p)
	})
}

func (r *Registry) RemoveLiquidity(ctx context.Context, p model.LiquidityParams) (string, error) {
	return dispatch(r, "remove_liquidity", func(m NetworkModule) (string, error) {
		return m.RemoveLiquidity(ctx, p)
	})
}

func (r *Registry) CreatePool(ctx context.Context, p model.NewPoolParams) (string, error) {
	return dispatch(r, "create_pool", func(m NetworkModule) (string, error) {
		return m.CreatePool(ctx, p)
	})
}

func (r *Registry) RemoveRelay(ctx context.Context, symbol string) (string, error) {
	return dispatch(r, "remove_relay", func(m NetworkModule) (string, error) {
		return m.RemoveRelay(ctx, symbol)
	})
}

func (r *Registry) UpdateFee(ctx context.Context, p model.FeeParams) (string, error) {
	return dispatch(r, "update_fee", func(m NetworkModule) (string, error) {
		return m.UpdateFee(ctx, p)
	})
}

func (r *Registry) UpdateOwner(ctx context.Context, p model.OwnerParams) (string, error) {
	return dispatch(r, "update_owner", func(m NetworkModule) (string, error) {
		return m.UpdateOwner(ctx, p)
	})
}
