package trade

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"github.com/boxmeout/pool-engine/internal/model"
	"github.com/boxmeout/pool-engine/internal/policy"
	"github.com/boxmeout/pool-engine/internal/store"
	"github.com/boxmeout/pool-engine/internal/token"
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func testMarket(t *testing.T) model.MarketID {
	t.Helper()
	id, err := model.ParseMarketID(strings.Repeat("ab", 32))
	if err != nil {
		t.Fatalf("bad test id: %v", err)
	}
	return id
}

// newTestEngine builds an engine on the in-memory store and ledger with the
// default 0.2% fee and 1% floor, and funds the named accounts.
func newTestEngine(t *testing.T, cfg Config, funded map[string]uint64) (*Engine, *token.MemoryLedger) {
	t.Helper()

	ledger := token.NewMemoryLedger()
	for account, amount := range funded {
		if err := ledger.Mint(context.Background(), account, u(amount)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}

	e, err := NewEngine(cfg, store.NewMemoryStore(), ledger, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e, ledger
}

// --- CreatePool ---

func TestCreatePool(t *testing.T) {
	e, ledger := newTestEngine(t, DefaultConfig(), map[string]uint64{"alice": 10_000_000_000})
	ctx := context.Background()
	id := testMarket(t)

	res, err := e.CreatePool(ctx, "alice", id, u(10_000_000_000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !res.LPMinted.Eq(u(10_000_000_000)) {
		t.Errorf("expected full LP mint, got %s", res.LPMinted.Dec())
	}
	if !res.Pool.YesReserve.Eq(u(5_000_000_000)) || !res.Pool.NoReserve.Eq(u(5_000_000_000)) {
		t.Errorf("expected even split, got %s/%s",
			res.Pool.YesReserve.Dec(), res.Pool.NoReserve.Dec())
	}

	// Collateral moved into pool custody.
	bal, _ := ledger.BalanceOf(ctx, "alice")
	if !bal.IsZero() {
		t.Errorf("expected empty creator balance, got %s", bal.Dec())
	}
	custody, _ := ledger.BalanceOf(ctx, custodyAccount(id))
	if !custody.Eq(u(10_000_000_000)) {
		t.Errorf("expected 10B in custody, got %s", custody.Dec())
	}
}

func TestCreatePool_Duplicate(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{"alice": 2_000})
	ctx := context.Background()
	id := testMarket(t)

	e.CreatePool(ctx, "alice", id, u(1_000))
	_, err := e.CreatePool(ctx, "alice", id, u(1_000))
	if !errors.Is(err, store.ErrPoolAlreadyExists) {
		t.Errorf("expected ErrPoolAlreadyExists, got %v", err)
	}
}

func TestCreatePool_ZeroLiquidity(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), nil)

	_, err := e.CreatePool(context.Background(), "alice", testMarket(t), u(0))
	if !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreatePool_CapEnforced(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLiquidityCap = u(1_000_000)
	e, _ := newTestEngine(t, cfg, map[string]uint64{"alice": 2_000_000})

	_, err := e.CreatePool(context.Background(), "alice", testMarket(t), u(1_000_001))
	if !errors.Is(err, policy.ErrCapExceeded) {
		t.Errorf("expected ErrCapExceeded, got %v", err)
	}
}

func TestCreatePool_InsufficientFunds(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{"alice": 10})

	_, err := e.CreatePool(context.Background(), "alice", testMarket(t), u(100))
	if !errors.Is(err, token.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

// --- Buy ---

func TestBuy_KnownScenario(t *testing.T) {
	e, ledger := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))

	res, err := e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), nil)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !res.Fee.Eq(u(4_000_000)) {
		t.Errorf("expected fee 4000000, got %s", res.Fee.Dec())
	}
	if !res.Output.Eq(u(1_426_529_445)) {
		t.Errorf("expected 1426529445 shares, got %s", res.Output.Dec())
	}
	if !res.Pool.YesReserve.Eq(u(3_573_470_555)) {
		t.Errorf("expected yes reserve 3573470555, got %s", res.Pool.YesReserve.Dec())
	}
	if !res.Pool.NoReserve.Eq(u(6_996_000_000)) {
		t.Errorf("expected no reserve 6996000000, got %s", res.Pool.NoReserve.Dec())
	}

	// Payment left the buyer.
	bal, _ := ledger.BalanceOf(ctx, "bob")
	if !bal.IsZero() {
		t.Errorf("expected empty buyer balance, got %s", bal.Dec())
	}
}

func TestBuy_SlippageExceeded(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))

	_, err := e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), u(1_426_529_446))
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Errorf("expected ErrSlippageExceeded, got %v", err)
	}

	// Exactly the computed output passes.
	if _, err := e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), u(1_426_529_445)); err != nil {
		t.Errorf("minimum equal to output should pass: %v", err)
	}
}

func TestBuy_PoolNotFound(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{"bob": 1_000})

	_, err := e.Buy(context.Background(), "bob", testMarket(t), model.OutcomeYes, u(100), nil)
	if !errors.Is(err, store.ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestBuy_InvalidInputs(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{"alice": 1_000})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(1_000))

	if _, err := e.Buy(ctx, "bob", id, model.Outcome(9), u(100), nil); !errors.Is(err, model.ErrInvalidOutcome) {
		t.Errorf("expected ErrInvalidOutcome, got %v", err)
	}
	if _, err := e.Buy(ctx, "bob", id, model.OutcomeYes, u(0), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero, got %v", err)
	}
	huge := new(uint256.Int).Lsh(u(1), 129)
	if _, err := e.Buy(ctx, "bob", id, model.OutcomeYes, huge, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for oversized value, got %v", err)
	}
}

func TestBuy_MovesOdds(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))
	e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), nil)

	odds, err := e.Odds(ctx, id)
	if err != nil {
		t.Fatalf("odds: %v", err)
	}
	if odds.YesBps != 6620 || odds.NoBps != 3380 {
		t.Errorf("expected 6620/3380 after YES buy, got %d/%d", odds.YesBps, odds.NoBps)
	}
}

// --- Sell ---

func TestSell_RoundTripLossBounded(t *testing.T) {
	e, ledger := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))

	buyRes, err := e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), nil)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	sellRes, err := e.Sell(ctx, "bob", id, model.OutcomeYes, buyRes.Output, nil)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !sellRes.Output.Eq(u(1_992_008_000)) {
		t.Errorf("expected net 1992008000, got %s", sellRes.Output.Dec())
	}

	// Loss is bounded by the two fees plus rounding.
	bal, _ := ledger.BalanceOf(ctx, "bob")
	loss := new(uint256.Int).Sub(u(2_000_000_000), bal)
	if loss.Gt(u(8_000_000)) {
		t.Errorf("round-trip loss too large: %s", loss.Dec())
	}
}

func TestSell_SlippageExceeded(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))
	buyRes, _ := e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), nil)

	_, err := e.Sell(ctx, "bob", id, model.OutcomeYes, buyRes.Output, u(1_992_008_001))
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Errorf("expected ErrSlippageExceeded, got %v", err)
	}
}

// --- Liquidity ---

func TestAddLiquidity_ProportionalMint(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"carol": 5_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))

	res, err := e.AddLiquidity(ctx, "carol", id, u(5_000_000_000))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	// Even pool: deposit splits evenly and mints supply/2.
	if !res.LPMinted.Eq(u(5_000_000_000)) {
		t.Errorf("expected 5B LP minted, got %s", res.LPMinted.Dec())
	}
	if !res.Pool.TotalLiquidity().Eq(u(15_000_000_000)) {
		t.Errorf("expected total 15B, got %s", res.Pool.TotalLiquidity().Dec())
	}

	pos, err := e.LPPosition(ctx, id, "carol")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Balance != "5000000000" {
		t.Errorf("expected balance 5000000000, got %s", pos.Balance)
	}
	if pos.ShareBps != 3333 {
		t.Errorf("expected 3333 bps share, got %d", pos.ShareBps)
	}
}

func TestAddLiquidity_SkewedPoolKeepsRatio(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
		"carol": 1_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))
	e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), nil)

	// Pool is now 3573470555 / 6996000000, supply 10B.
	res, err := e.AddLiquidity(ctx, "carol", id, u(1_000_000_000))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !res.LPMinted.Eq(u(946_121_184)) {
		t.Errorf("expected 946121184 LP minted, got %s", res.LPMinted.Dec())
	}
	if !res.Pool.YesReserve.Eq(u(3_911_564_174)) { // 3573470555 + 338093619
		t.Errorf("unexpected yes reserve %s", res.Pool.YesReserve.Dec())
	}
	if !res.Pool.NoReserve.Eq(u(7_657_906_381)) { // 6996000000 + 661906381
		t.Errorf("unexpected no reserve %s", res.Pool.NoReserve.Dec())
	}
}

func TestRemoveLiquidity(t *testing.T) {
	e, ledger := newTestEngine(t, DefaultConfig(), map[string]uint64{"alice": 10_000_000_000})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))

	res, err := e.RemoveLiquidity(ctx, "alice", id, u(4_000_000_000))
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !res.YesOut.Eq(u(2_000_000_000)) || !res.NoOut.Eq(u(2_000_000_000)) {
		t.Errorf("expected 2B/2B out, got %s/%s", res.YesOut.Dec(), res.NoOut.Dec())
	}
	if !res.Pool.LPSupply.Eq(u(6_000_000_000)) {
		t.Errorf("expected supply 6B, got %s", res.Pool.LPSupply.Dec())
	}

	bal, _ := ledger.BalanceOf(ctx, "alice")
	if !bal.Eq(u(4_000_000_000)) {
		t.Errorf("expected 4B returned, got %s", bal.Dec())
	}
}

func TestRemoveLiquidity_FloorAllowsNinetyNinePercent(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{"alice": 10_000_000_000})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))

	// 9.9B LP burns to a 9.9B payout, leaving exactly the 1% floor.
	res, err := e.RemoveLiquidity(ctx, "alice", id, u(9_900_000_000))
	if err != nil {
		t.Fatalf("99%% withdrawal should pass: %v", err)
	}
	if !res.Pool.TotalLiquidity().Eq(u(100_000_000)) {
		t.Errorf("expected 100M remaining, got %s", res.Pool.TotalLiquidity().Dec())
	}
}

func TestRemoveLiquidity_FullDrainRejected(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{"alice": 10_000_000_000})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))

	_, err := e.RemoveLiquidity(ctx, "alice", id, u(10_000_000_000))
	if !errors.Is(err, policy.ErrMinimumLiquidityFloor) {
		t.Errorf("expected ErrMinimumLiquidityFloor, got %v", err)
	}
}

func TestRemoveLiquidity_InsufficientBalance(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"carol": 0,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))

	_, err := e.RemoveLiquidity(ctx, "carol", id, u(1_000))
	if !errors.Is(err, ErrInsufficientLPBalance) {
		t.Errorf("expected ErrInsufficientLPBalance, got %v", err)
	}
}

// --- Queries ---

func TestOdds_MissingPoolIsEven(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), nil)

	odds, err := e.Odds(context.Background(), testMarket(t))
	if err != nil {
		t.Fatalf("odds: %v", err)
	}
	if odds.YesBps != 5000 || odds.NoBps != 5000 {
		t.Errorf("expected even odds, got %d/%d", odds.YesBps, odds.NoBps)
	}
}

func TestPoolState_MissingPoolIsNeutral(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), nil)

	state, err := e.PoolState(context.Background(), testMarket(t))
	if err != nil {
		t.Fatalf("pool state: %v", err)
	}
	if state.YesReserve != "0" || state.NoReserve != "0" {
		t.Errorf("expected zero reserves, got %s/%s", state.YesReserve, state.NoReserve)
	}
	if state.YesBps != 5000 || state.NoBps != 5000 {
		t.Errorf("expected even odds, got %d/%d", state.YesBps, state.NoBps)
	}
}

func TestQuoteBuy_DoesNotMutate(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{"alice": 10_000_000_000})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))

	quote, err := e.QuoteBuy(ctx, id, model.OutcomeYes, u(2_000_000_000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.SharesOut != "1426529445" {
		t.Errorf("expected 1426529445 shares, got %s", quote.SharesOut)
	}

	state, _ := e.PoolState(ctx, id)
	if state.YesReserve != "5000000000" {
		t.Errorf("quote mutated the pool: %s", state.YesReserve)
	}
}

func TestAnalytics(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))
	e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), nil)

	stats, err := e.Analytics(ctx, id)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if stats.Trades != 1 {
		t.Errorf("expected 1 trade, got %d", stats.Trades)
	}
	if stats.BuyVolume != "2000000000" {
		t.Errorf("expected buy volume 2000000000, got %s", stats.BuyVolume)
	}
	if stats.FeesPaid != "4000000" {
		t.Errorf("expected fees 4000000, got %s", stats.FeesPaid)
	}
	// VWAP = 2000000000 / 1426529445 collateral per share.
	if !strings.HasPrefix(stats.VWAP.String(), "1.40") {
		t.Errorf("unexpected VWAP %s", stats.VWAP)
	}
}

func TestGlobalAnalytics(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))
	e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), nil)

	stats, err := e.GlobalAnalytics(ctx)
	if err != nil {
		t.Fatalf("global analytics: %v", err)
	}
	if stats.ActivePools != 1 {
		t.Errorf("expected 1 pool, got %d", stats.ActivePools)
	}
	if stats.Trades != 1 {
		t.Errorf("expected 1 trade, got %d", stats.Trades)
	}
	if stats.TotalVolume != "2000000000" {
		t.Errorf("expected volume 2000000000, got %s", stats.TotalVolume)
	}
	if stats.TotalFees != "4000000" {
		t.Errorf("expected fees 4000000, got %s", stats.TotalFees)
	}
	if stats.TotalLiquidity != "10569470555" {
		t.Errorf("expected liquidity 10569470555, got %s", stats.TotalLiquidity)
	}
}

func TestTradeHistory(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	e.CreatePool(ctx, "alice", id, u(10_000_000_000))
	e.Buy(ctx, "bob", id, model.OutcomeYes, u(1_000_000_000), nil)
	e.Buy(ctx, "bob", id, model.OutcomeNo, u(1_000_000_000), nil)

	trades, err := e.TradeHistory(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Outcome != model.OutcomeYes || trades[1].Outcome != model.OutcomeNo {
		t.Error("trades out of order")
	}

	byTrader, _ := e.TraderHistory(ctx, "bob")
	if len(byTrader) != 2 {
		t.Errorf("expected 2 trades for bob, got %d", len(byTrader))
	}
}

// --- Store failure paths ---

var errStoreDown = errors.New("store down")

// faultStore wraps a working store and fails selected writes.
type faultStore struct {
	store.Store
	failCreate bool
	failCommit bool
}

func (f *faultStore) CreatePool(ctx context.Context, pool *model.Pool, creator string, lpBalance *uint256.Int) error {
	if f.failCreate {
		return errStoreDown
	}
	return f.Store.CreatePool(ctx, pool, creator, lpBalance)
}

func (f *faultStore) CommitTrade(ctx context.Context, id model.MarketID, yes, no, lpSupply *uint256.Int, rec *model.TradeRecord) error {
	if f.failCommit {
		return errStoreDown
	}
	return f.Store.CommitTrade(ctx, id, yes, no, lpSupply, rec)
}

func newFaultEngine(t *testing.T, funded map[string]uint64) (*Engine, *faultStore, *token.MemoryLedger) {
	t.Helper()

	ledger := token.NewMemoryLedger()
	for account, amount := range funded {
		if err := ledger.Mint(context.Background(), account, u(amount)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}

	fs := &faultStore{Store: store.NewMemoryStore()}
	e, err := NewEngine(DefaultConfig(), fs, ledger, nil, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e, fs, ledger
}

func TestCreatePool_StoreFailureRefundsCreator(t *testing.T) {
	e, fs, ledger := newFaultEngine(t, map[string]uint64{"alice": 10_000_000_000})
	ctx := context.Background()
	id := testMarket(t)

	fs.failCreate = true
	if _, err := e.CreatePool(ctx, "alice", id, u(10_000_000_000)); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}

	if _, err := e.store.GetPool(ctx, id); !errors.Is(err, store.ErrPoolNotFound) {
		t.Errorf("expected no pool record, got %v", err)
	}
	bal, _ := ledger.BalanceOf(ctx, "alice")
	if !bal.Eq(u(10_000_000_000)) {
		t.Errorf("expected full refund, got %s", bal.Dec())
	}
	custody, _ := ledger.BalanceOf(ctx, custodyAccount(id))
	if !custody.IsZero() {
		t.Errorf("expected empty custody, got %s", custody.Dec())
	}
}

func TestBuy_StoreFailureLeavesNoTrace(t *testing.T) {
	e, fs, ledger := newFaultEngine(t, map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	if _, err := e.CreatePool(ctx, "alice", id, u(10_000_000_000)); err != nil {
		t.Fatalf("create: %v", err)
	}

	fs.failCommit = true
	if _, err := e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), nil); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}

	pool, _ := e.store.GetPool(ctx, id)
	if !pool.YesReserve.Eq(u(5_000_000_000)) || !pool.NoReserve.Eq(u(5_000_000_000)) {
		t.Errorf("reserves moved on a failed buy: %s/%s",
			pool.YesReserve.Dec(), pool.NoReserve.Dec())
	}
	bal, _ := ledger.BalanceOf(ctx, "bob")
	if !bal.Eq(u(2_000_000_000)) {
		t.Errorf("expected buyer refunded, got %s", bal.Dec())
	}
	trades, _ := e.store.TradesByMarket(ctx, id, 0, 0)
	if len(trades) != 0 {
		t.Errorf("expected no trade records, got %d", len(trades))
	}
}

func TestSell_StoreFailureLeavesNoTrace(t *testing.T) {
	e, fs, ledger := newFaultEngine(t, map[string]uint64{
		"alice": 10_000_000_000,
		"bob":   2_000_000_000,
	})
	ctx := context.Background()
	id := testMarket(t)
	if _, err := e.CreatePool(ctx, "alice", id, u(10_000_000_000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	buy, err := e.Buy(ctx, "bob", id, model.OutcomeYes, u(2_000_000_000), nil)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	custodyBefore, _ := ledger.BalanceOf(ctx, custodyAccount(id))

	fs.failCommit = true
	if _, err := e.Sell(ctx, "bob", id, model.OutcomeYes, buy.Output, nil); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}

	pool, _ := e.store.GetPool(ctx, id)
	if !pool.YesReserve.Eq(u(3_573_470_555)) || !pool.NoReserve.Eq(u(6_996_000_000)) {
		t.Errorf("reserves moved on a failed sell: %s/%s",
			pool.YesReserve.Dec(), pool.NoReserve.Dec())
	}
	custody, _ := ledger.BalanceOf(ctx, custodyAccount(id))
	if !custody.Eq(custodyBefore) {
		t.Errorf("custody changed on a failed sell: %s -> %s",
			custodyBefore.Dec(), custody.Dec())
	}
	bal, _ := ledger.BalanceOf(ctx, "bob")
	if !bal.IsZero() {
		t.Errorf("expected seller balance unchanged, got %s", bal.Dec())
	}
	trades, _ := e.store.TradesByMarket(ctx, id, 0, 0)
	if len(trades) != 1 {
		t.Errorf("expected only the buy record, got %d trades", len(trades))
	}
}
