package network

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dexflow/config"
	"dexflow/internal/chain"
	"dexflow/internal/model"
	"dexflow/internal/registry"
)

var _ registry.NetworkModule = (*Module)(nil)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var seedsRelay = config.StaticRelay{
	Contract:   "seedsrelay11",
	Owner:      "seedsrelay11",
	SmartToken: config.RelayReserve{Contract: "relays", Symbol: "SEEDSTLOS", Precision: 4},
	Reserves: []config.RelayReserve{
		{Contract: "eosio.token", Symbol: "TLOS", Precision: 4},
		{Contract: "token.seeds", Symbol: "SEEDS", Precision: 4},
	},
}

var chainTables = map[string]string{
	"eosio.token/accounts/seedsrelay11": `[{"balance":"1000.0000 TLOS"}]`,
	"token.seeds/accounts/seedsrelay11": `[{"balance":"2000.0000 SEEDS"}]`,
	"relays/stat/SEEDSTLOS":             `[{"supply":"500.0000 SEEDSTLOS","max_supply":"1000000.0000 SEEDSTLOS","issuer":"relays"}]`,
	"eosio.token/accounts/alice":        `[{"balance":"12.5000 TLOS"}]`,
	"token.seeds/accounts/alice":        `[{"balance":"40.0000 SEEDS"}]`,
	"token.hypha/stat/HYPHA":            `[{"supply":"10.00 HYPHA","max_supply":"100.00 HYPHA","issuer":"hypha"}]`,
}

func chainServer(t *testing.T, tables map[string]string) *chain.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q chain.TableQuery
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			t.Errorf("decode query: %v", err)
		}
		rows, ok := tables[q.Code+"/"+q.Table+"/"+q.Scope]
		if !ok {
			rows = "[]"
		}
		_, _ = w.Write([]byte(`{"rows":` + rows + `}`))
	}))
	t.Cleanup(srv.Close)
	return chain.NewClient(srv.URL, time.Second, 0)
}

type recordingTx struct {
	mu   sync.Mutex
	reqs []model.ActionRequest
}

func (r *recordingTx) Submit(ctx context.Context, req model.ActionRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return "tx1", nil
}

func newModule(t *testing.T, opts ...Option) *Module {
	t.Helper()
	m := New(config.NetworkConfig{ID: "tlos"}, chainServer(t, chainTables), []config.StaticRelay{seedsRelay}, opts...)
	if err := m.Init(context.Background(), nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(m.reloads.Wait)
	return m
}

func TestInitLoadsReserveBalances(t *testing.T) {
	m := newModule(t)
	relays := m.Relays()
	if len(relays) != 1 {
		t.Fatalf("loaded %d relays", len(relays))
	}
	tlos, _ := relays[0].Reserve("tlos")
	seeds, _ := relays[0].Reserve("SEEDS")
	if !tlos.Balance.Equal(dec("1000")) || !seeds.Balance.Equal(dec("2000")) {
		t.Fatalf("unexpected balances %s / %s", tlos.Balance, seeds.Balance)
	}
	if !m.supply("seedstlos").Equal(dec("500")) {
		t.Fatalf("supply = %s", m.supply("SEEDSTLOS"))
	}
	if len(m.Tokens()) != 3 {
		t.Fatalf("tokens = %+v", m.Tokens())
	}
}

func TestInitFailsForMissingSmartToken(t *testing.T) {
	tables := map[string]string{
		"eosio.token/accounts/seedsrelay11": `[{"balance":"1.0000 TLOS"}]`,
	}
	m := New(config.NetworkConfig{ID: "tlos", Retry: config.RetryConfig{MaxAttempts: 5}}, chainServer(t, tables), []config.StaticRelay{seedsRelay})
	err := m.Init(context.Background(), nil)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type flakyChain struct {
	Chain
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyChain) Balance(ctx context.Context, contract, account, symbol string) (chain.Asset, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return chain.Asset{}, errors.New("node unavailable")
	}
	return f.Chain.Balance(ctx, contract, account, symbol)
}

func TestInitRetriesFlakyReads(t *testing.T) {
	fc := &flakyChain{Chain: chainServer(t, chainTables)}
	fc.failures.Store(2)
	cfg := config.NetworkConfig{ID: "tlos", Retry: config.RetryConfig{MaxAttempts: 3, Interval: time.Millisecond}}
	m := New(cfg, fc, []config.StaticRelay{seedsRelay})
	if err := m.Init(context.Background(), nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if fc.calls.Load() != 4 {
		t.Fatalf("balance calls = %d, want 4", fc.calls.Load())
	}
}

func TestInitParams(t *testing.T) {
	m := New(config.NetworkConfig{ID: "tlos"}, chainServer(t, chainTables), []config.StaticRelay{seedsRelay})
	err := m.Init(context.Background(), &model.ModuleParam{TradeQuery: &model.TradeQuery{Base: "seeds", Quote: "TLOS"}})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if m.Focused() != "SEEDS" {
		t.Fatalf("focused = %q", m.Focused())
	}

	err = m.Init(context.Background(), &model.ModuleParam{PoolQuery: "NOPE"})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown pool, got %v", err)
	}
}

func TestGetReturnAndCost(t *testing.T) {
	m := newModule(t)
	ret, err := m.GetReturn(context.Background(), model.ProposedFromTx{
		From:     model.TokenAmount{Symbol: "TLOS", Amount: dec("10")},
		ToSymbol: "SEEDS",
	})
	if err != nil {
		t.Fatalf("GetReturn: %v", err)
	}
	if !ret.Amount.Equal(dec("19.8019")) {
		t.Fatalf("return = %s, want 19.8019", ret.Amount)
	}

	cost, err := m.GetCost(context.Background(), model.ProposedToTx{
		FromSymbol: "TLOS",
		To:         model.TokenAmount{Symbol: "SEEDS", Amount: dec("19.8019")},
	})
	if err != nil {
		t.Fatalf("GetCost: %v", err)
	}
	if !cost.Amount.Equal(dec("10")) {
		t.Fatalf("cost = %s, want 10", cost.Amount)
	}

	_, err = m.GetReturn(context.Background(), model.ProposedFromTx{
		From:     model.TokenAmount{Symbol: "TLOS", Amount: dec("1")},
		ToSymbol: "HYPHA",
	})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRelayMathWithFee(t *testing.T) {
	tlos := model.Reserve{Token: model.Token{Symbol: "TLOS", Precision: 4}, Balance: dec("1000")}
	seeds := model.Reserve{Token: model.Token{Symbol: "SEEDS", Precision: 4}, Balance: dec("2000")}

	ret, err := calculateReturn(tlos, seeds, dec("10"), 2500)
	if err != nil {
		t.Fatalf("calculateReturn: %v", err)
	}
	if !ret.Amount.Equal(dec("19.7524")) || !ret.Fee.Equal(dec("0.0495")) {
		t.Fatalf("return = %s fee = %s", ret.Amount, ret.Fee)
	}
	if ret.Slippage <= 0.0099 || ret.Slippage >= 0.01 {
		t.Fatalf("slippage = %v", ret.Slippage)
	}

	cost, err := calculateCost(tlos, seeds, dec("10"), 2500)
	if err != nil {
		t.Fatalf("calculateCost: %v", err)
	}
	if !cost.Amount.Equal(dec("5.0378")) {
		t.Fatalf("cost = %s, want 5.0378", cost.Amount)
	}

	cases := []struct {
		name   string
		amount string
		want   error
	}{
		{"zero", "0", ErrInvalidAmount},
		{"negative", "-1", ErrInvalidAmount},
		{"drains reserve", "2000", model.ErrInsufficientReserve},
	}
	for _, tc := range cases {
		if _, err := calculateCost(tlos, seeds, dec(tc.amount), 0); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestOpposingLiquidity(t *testing.T) {
	m := newModule(t)
	dep, err := m.CalculateOpposingDeposit(context.Background(), model.OpposingLiquidParams{
		SmartTokenSymbol: "SEEDSTLOS",
		Reserve:          model.TokenAmount{Symbol: "TLOS", Amount: dec("100")},
	})
	if err != nil {
		t.Fatalf("CalculateOpposingDeposit: %v", err)
	}
	if dep.OpposingAmount.Symbol != "SEEDS" || !dep.OpposingAmount.Amount.Equal(dec("200")) || !dep.SmartTokenAmount.Equal(dec("50")) {
		t.Fatalf("unexpected deposit %+v", dep)
	}

	wd, err := m.CalculateOpposingWithdraw(context.Background(), model.OpposingLiquidParams{
		SmartTokenSymbol: "SEEDSTLOS",
		Reserve:          model.TokenAmount{Symbol: "SEEDS", Amount: dec("500")},
	})
	if err != nil {
		t.Fatalf("CalculateOpposingWithdraw: %v", err)
	}
	if wd.OpposingAmount.Symbol != "TLOS" || !wd.OpposingAmount.Amount.Equal(dec("250")) || !wd.SmartTokenAmount.Equal(dec("125")) {
		t.Fatalf("unexpected withdraw %+v", wd)
	}

	_, err = m.CalculateOpposingWithdraw(context.Background(), model.OpposingLiquidParams{
		SmartTokenSymbol: "SEEDSTLOS",
		Reserve:          model.TokenAmount{Symbol: "SEEDS", Amount: dec("2500")},
	})
	if !errors.Is(err, model.ErrInsufficientReserve) {
		t.Fatalf("expected ErrInsufficientReserve, got %v", err)
	}
}

func TestWriteActionsNeedTransactorAndWallet(t *testing.T) {
	tx := model.ConvertTx{
		From: model.TokenAmount{Symbol: "TLOS", Amount: dec("1")},
		To:   model.TokenAmount{Symbol: "SEEDS", Amount: dec("1.9")},
	}

	readOnly := newModule(t, WithWallet(StaticWallet("alice")))
	if _, err := readOnly.Convert(context.Background(), tx); !errors.Is(err, model.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}

	rec := &recordingTx{}
	noWallet := newModule(t, WithTransactor(rec))
	if _, err := noWallet.Convert(context.Background(), tx); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}

	m := newModule(t, WithTransactor(rec), WithWallet(StaticWallet("alice")))
	id, err := m.Convert(context.Background(), tx)
	if err != nil || id != "tx1" {
		t.Fatalf("Convert = %q, %v", id, err)
	}
	if _, err := m.UpdateFee(context.Background(), model.FeeParams{SmartTokenSymbol: "SEEDSTLOS", FeePPM: 3000}); err != nil {
		t.Fatalf("UpdateFee: %v", err)
	}
	if _, err := m.UpdateFee(context.Background(), model.FeeParams{SmartTokenSymbol: "SEEDSTLOS", FeePPM: 1_000_000}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := m.RemoveRelay(context.Background(), "NOPE"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if len(rec.reqs) != 2 {
		t.Fatalf("submitted %d requests, want 2", len(rec.reqs))
	}
	if got := rec.reqs[0]; got.Name != "convert" || got.Account != "alice" || got.Network != "tlos" {
		t.Fatalf("unexpected request %+v", got)
	}
}

// stallingChain fails every balance read once stall is set, after the read
// is released.
type stallingChain struct {
	Chain
	stall   atomic.Bool
	release chan struct{}
	calls   atomic.Int32
}

func (s *stallingChain) Balance(ctx context.Context, contract, account, symbol string) (chain.Asset, error) {
	if !s.stall.Load() {
		return s.Chain.Balance(ctx, contract, account, symbol)
	}
	s.calls.Add(1)
	<-s.release
	return chain.Asset{}, errors.New("node unavailable")
}

func TestConvertDoesNotWaitForRelayReload(t *testing.T) {
	sc := &stallingChain{Chain: chainServer(t, chainTables), release: make(chan struct{})}
	cfg := config.NetworkConfig{ID: "tlos", Retry: config.RetryConfig{MaxAttempts: 5, Interval: time.Millisecond}}
	m := New(cfg, sc, []config.StaticRelay{seedsRelay},
		WithTransactor(&recordingTx{}), WithWallet(StaticWallet("alice")))
	if err := m.Init(context.Background(), nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sc.stall.Store(true)

	tx := model.ConvertTx{
		From: model.TokenAmount{Symbol: "TLOS", Amount: dec("1")},
		To:   model.TokenAmount{Symbol: "SEEDS", Amount: dec("1.9")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	var (
		id   string
		err  error
		done = make(chan struct{})
	)
	go func() {
		id, err = m.Convert(ctx, tx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Convert blocked on the relay reload")
	}
	if err != nil || id != "tx1" {
		t.Fatalf("Convert = %q, %v", id, err)
	}

	cancel()
	close(sc.release)
	m.reloads.Wait()

	if got := sc.calls.Load(); got != 1 {
		t.Fatalf("reload balance reads = %d, want 1", got)
	}
	tlos, _ := m.Relays()[0].Reserve("TLOS")
	if !tlos.Balance.Equal(dec("1000")) {
		t.Fatalf("failed reload replaced balance with %s", tlos.Balance)
	}
}

func TestCreatePoolRejectsExistingPair(t *testing.T) {
	m := newModule(t, WithTransactor(&recordingTx{}), WithWallet(StaticWallet("alice")))
	_, err := m.CreatePool(context.Background(), model.NewPoolParams{
		Reserves: []model.TokenAmount{{Symbol: "TLOS", Amount: dec("1")}, {Symbol: "SEEDS", Amount: dec("2")}},
	})
	if err == nil {
		t.Fatal("expected error for an existing pair")
	}
}

func TestBalances(t *testing.T) {
	m := newModule(t, WithWallet(StaticWallet("alice")))

	ub, err := m.GetUserBalances(context.Background(), "seedstlos")
	if err != nil {
		t.Fatalf("GetUserBalances: %v", err)
	}
	if ub.Account != "alice" || len(ub.Balances) != 3 {
		t.Fatalf("unexpected balances %+v", ub)
	}
	if !ub.Balances[0].Amount.IsZero() || !ub.Balances[2].Amount.Equal(dec("40")) {
		t.Fatalf("unexpected amounts %+v", ub.Balances)
	}

	if err := m.FocusSymbol(context.Background(), "seeds"); err != nil {
		t.Fatalf("FocusSymbol: %v", err)
	}
	if got := m.Balances(); len(got) != 1 || !got[0].Amount.Equal(dec("40")) {
		t.Fatalf("focused balance not refreshed: %+v", got)
	}
	if err := m.RefreshBalances(context.Background(), nil); err != nil {
		t.Fatalf("RefreshBalances: %v", err)
	}
	if got := m.Balances(); len(got) != 3 {
		t.Fatalf("expected 3 balances, got %+v", got)
	}

	anon := newModule(t)
	if _, err := anon.GetUserBalances(context.Background(), "SEEDSTLOS"); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
}

func TestLoadMore(t *testing.T) {
	m := newModule(t)
	if m.MorePoolsAvailable() {
		t.Fatal("single relay should fit in the first page")
	}
	if err := m.LoadMorePools(context.Background()); err != nil {
		t.Fatalf("LoadMorePools: %v", err)
	}
	if len(m.VisibleRelays()) != 1 {
		t.Fatalf("visible = %d", len(m.VisibleRelays()))
	}

	if err := m.LoadMoreTokens(context.Background(), []string{"token.hypha-hypha"}); err != nil {
		t.Fatalf("LoadMoreTokens: %v", err)
	}
	if _, err := m.findToken("HYPHA"); err != nil {
		t.Fatalf("HYPHA not registered: %v", err)
	}
	if err := m.LoadMoreTokens(context.Background(), []string{"token.none-NONE"}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchHistoryNotSupported(t *testing.T) {
	m := newModule(t)
	if _, err := m.FetchHistoryData(context.Background(), "SEEDSTLOS"); !errors.Is(err, model.ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}
