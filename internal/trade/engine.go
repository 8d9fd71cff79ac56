// Package trade implements the pool engine's public operations: pool
// creation, buy/sell execution against the CPMM, liquidity provisioning and
// withdrawal, and the read-only odds/state/quote queries, plus their HTTP
// handlers.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/boxmeout/pool-engine/internal/cpmm"
	"github.com/boxmeout/pool-engine/internal/event"
	"github.com/boxmeout/pool-engine/internal/metrics"
	"github.com/boxmeout/pool-engine/internal/model"
	"github.com/boxmeout/pool-engine/internal/policy"
	"github.com/boxmeout/pool-engine/internal/store"
	"github.com/boxmeout/pool-engine/internal/token"
)

var (
	// ErrInvalidAmount is returned for zero amounts, and for amounts that
	// do not fit (or whose resulting reserves would not fit) in the
	// 128-bit range.
	ErrInvalidAmount = errors.New("trade: amount must be positive")

	// ErrInvalidInitialLiquidity is the create_pool variant of
	// ErrInvalidAmount; errors.Is matches both.
	ErrInvalidInitialLiquidity = fmt.Errorf("%w: initial liquidity", ErrInvalidAmount)

	// ErrInsufficientLiquidity is returned when a reserve is, or would
	// become, zero.
	ErrInsufficientLiquidity = errors.New("trade: insufficient pool liquidity")

	// ErrSlippageExceeded is returned when the computed output is worse
	// than the caller's stated minimum.
	ErrSlippageExceeded = errors.New("trade: slippage exceeded")

	// ErrInvariantViolation is returned when a computed trade would
	// decrease the constant product. Defensive: correct math never
	// triggers it, but it guards against fee misconfiguration.
	ErrInvariantViolation = errors.New("trade: constant-product invariant would decrease")

	// ErrInsufficientLPBalance is returned when a withdrawal exceeds the
	// provider's LP balance.
	ErrInsufficientLPBalance = errors.New("trade: insufficient LP balance")
)

// Config is the engine's explicit configuration, passed at construction and
// never read from ambient state.
type Config struct {
	// FeeBps is the trading fee in basis points.
	FeeBps uint32

	// MaxLiquidityCap bounds a pool's total liquidity. Nil or zero means
	// uncapped.
	MaxLiquidityCap *uint256.Int

	// MinLiquidityFloorBps is the fraction of current total liquidity
	// that must remain after any withdrawal.
	MinLiquidityFloorBps uint32
}

// DefaultConfig mirrors the production deployment: 0.2% fee, 1% floor,
// uncapped pools.
func DefaultConfig() Config {
	return Config{
		FeeBps:               cpmm.DefaultFeeBps,
		MinLiquidityFloorBps: policy.DefaultFloorBps,
	}
}

// Engine executes pool operations. A mutex serializes state-mutating calls
// (single-instance); each call either fully applies or fully aborts, and no
// intermediate state is observable. Distinct market ids share the mutex only
// for simplicity; their state is fully independent.
type Engine struct {
	store  store.Store
	ledger token.Ledger
	pricer cpmm.Pricer
	policy *policy.LiquidityPolicy

	mu     sync.Mutex
	hub    *WSHub          // optional WebSocket broadcasts
	events event.Publisher // optional outbound event publishing
}

// NewEngine creates an engine with the given collaborators. Pass nil for hub
// and publisher if not needed.
func NewEngine(cfg Config, st store.Store, ledger token.Ledger, hub *WSHub, events event.Publisher) (*Engine, error) {
	pricer, err := cpmm.NewPricer(cfg.FeeBps)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:  st,
		ledger: ledger,
		pricer: pricer,
		policy: policy.NewLiquidityPolicy(cfg.MaxLiquidityCap, cfg.MinLiquidityFloorBps),
		hub:    hub,
		events: events,
	}, nil
}

// custodyAccount is the ledger account holding a pool's collateral.
func custodyAccount(id model.MarketID) string {
	return "pool:" + id.String()
}

// --- Result types ---

// TradeResult is returned from Buy and Sell.
type TradeResult struct {
	TradeID string
	Output  *uint256.Int // shares out for buys, net payout for sells
	Fee     *uint256.Int
	Pool    *model.Pool // post-trade state
}

// LiquidityResult is returned from CreatePool and AddLiquidity.
type LiquidityResult struct {
	LPMinted *uint256.Int
	Pool     *model.Pool
}

// WithdrawalResult is returned from RemoveLiquidity.
type WithdrawalResult struct {
	YesOut *uint256.Int
	NoOut  *uint256.Int
	Pool   *model.Pool
}

// --- Operations ---

// CreatePool creates the pool for a market: reserves split 50/50 from
// initialLiquidity and the full amount minted to the creator as LP supply.
// Fails if the market already has a pool; creation is once-only.
func (e *Engine) CreatePool(ctx context.Context, creator string, id model.MarketID, initialLiquidity *uint256.Int) (*LiquidityResult, error) {
	if isZero(initialLiquidity) {
		return nil, ErrInvalidInitialLiquidity
	}
	if !cpmm.FitsUint128(initialLiquidity) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, cpmm.ErrValueRange)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.policy.CheckDeposit(new(uint256.Int), initialLiquidity); err != nil {
		return nil, err
	}

	half := new(uint256.Int).Rsh(initialLiquidity, 1)
	pool := &model.Pool{
		MarketID:   id,
		YesReserve: new(uint256.Int).Set(half),
		NoReserve:  new(uint256.Int).Set(half),
		LPSupply:   new(uint256.Int).Set(initialLiquidity),
		CreatedAt:  time.Now().UTC(),
	}

	if err := e.ledger.Transfer(ctx, creator, custodyAccount(id), initialLiquidity); err != nil {
		return nil, err
	}
	if err := e.store.CreatePool(ctx, pool, creator, initialLiquidity); err != nil {
		e.refund(ctx, custodyAccount(id), creator, initialLiquidity)
		return nil, err
	}

	metrics.ActivePools.Inc()
	metrics.LiquidityOps.WithLabelValues("create").Inc()

	slog.Info("pool created",
		"market", id.String(),
		"creator", creator,
		"initial_liquidity", initialLiquidity.Dec(),
	)

	e.publish(ctx, event.Event{
		Type:     event.TypePoolCreated,
		MarketID: id.String(),
		Payload: map[string]string{
			"initial_liquidity": initialLiquidity.Dec(),
			"yes_reserve":       pool.YesReserve.Dec(),
			"no_reserve":        pool.NoReserve.Dec(),
		},
	})
	e.broadcastOdds("pool_created", pool)

	return &LiquidityResult{LPMinted: new(uint256.Int).Set(initialLiquidity), Pool: pool}, nil
}

// Buy purchases outcome shares with amountIn collateral. The payment (net
// of fee) is absorbed into the opposite reserve and the purchased reserve is
// drawn down; the fee stays in the pool and grows the invariant.
func (e *Engine) Buy(ctx context.Context, buyer string, id model.MarketID, outcome model.Outcome, amountIn, minSharesOut *uint256.Int) (*TradeResult, error) {
	if !outcome.Valid() {
		return nil, model.ErrInvalidOutcome
	}
	if isZero(amountIn) {
		return nil, ErrInvalidAmount
	}
	if !cpmm.FitsUint128(amountIn) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, cpmm.ErrValueRange)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	if pool.YesReserve.IsZero() || pool.NoReserve.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	// For a YES buy the payment enters the NO reserve and YES shares are
	// drawn down; symmetric for NO.
	reserveIn, reserveOut := pool.NoReserve, pool.YesReserve
	if outcome == model.OutcomeNo {
		reserveIn, reserveOut = pool.YesReserve, pool.NoReserve
	}

	fee, sharesOut, err := e.pricer.QuoteBuy(reserveIn, reserveOut, amountIn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if minSharesOut != nil && sharesOut.Lt(minSharesOut) {
		return nil, fmt.Errorf("%w: computed %s < minimum %s", ErrSlippageExceeded, sharesOut.Dec(), minSharesOut.Dec())
	}

	afterFee := new(uint256.Int).Sub(amountIn, fee)
	newIn := new(uint256.Int).Add(reserveIn, afterFee)
	newOut := new(uint256.Int).Sub(reserveOut, sharesOut)
	if !cpmm.FitsUint128(newIn) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, cpmm.ErrValueRange)
	}
	if newIn.IsZero() || newOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	if cpmm.K(newIn, newOut).Lt(cpmm.K(reserveIn, reserveOut)) {
		return nil, ErrInvariantViolation
	}

	newYes, newNo := newOut, newIn
	if outcome == model.OutcomeNo {
		newYes, newNo = newIn, newOut
	}

	rec := e.record(buyer, id, outcome, model.SideBuy, amountIn, sharesOut, fee)

	if err := e.ledger.Transfer(ctx, buyer, custodyAccount(id), amountIn); err != nil {
		return nil, err
	}
	if err := e.store.CommitTrade(ctx, id, newYes, newNo, pool.LPSupply, rec); err != nil {
		e.refund(ctx, custodyAccount(id), buyer, amountIn)
		return nil, err
	}
	pool.YesReserve, pool.NoReserve = newYes, newNo

	e.observeTrade(rec, pool)
	return &TradeResult{TradeID: rec.ID, Output: sharesOut, Fee: fee, Pool: pool}, nil
}

// Sell returns outcome shares to the pool for a collateral payout. The sold
// shares enter their own reserve, the gross payout is drawn from the
// opposite reserve, and the fee is skimmed from the gross payout (it stays
// in pool custody).
func (e *Engine) Sell(ctx context.Context, seller string, id model.MarketID, outcome model.Outcome, sharesIn, minPayout *uint256.Int) (*TradeResult, error) {
	if !outcome.Valid() {
		return nil, model.ErrInvalidOutcome
	}
	if isZero(sharesIn) {
		return nil, ErrInvalidAmount
	}
	if !cpmm.FitsUint128(sharesIn) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, cpmm.ErrValueRange)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	if pool.YesReserve.IsZero() || pool.NoReserve.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	// The sold outcome's reserve is the input side; the payout is drawn
	// from the opposite reserve.
	reserveIn, reserveOut := pool.YesReserve, pool.NoReserve
	if outcome == model.OutcomeNo {
		reserveIn, reserveOut = pool.NoReserve, pool.YesReserve
	}

	gross, fee, net, err := e.pricer.QuoteSell(reserveIn, reserveOut, sharesIn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if minPayout != nil && net.Lt(minPayout) {
		return nil, fmt.Errorf("%w: computed %s < minimum %s", ErrSlippageExceeded, net.Dec(), minPayout.Dec())
	}

	newIn := new(uint256.Int).Add(reserveIn, sharesIn)
	newOut := new(uint256.Int).Sub(reserveOut, gross)
	if !cpmm.FitsUint128(newIn) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, cpmm.ErrValueRange)
	}
	// Never leave a one-sided pool behind.
	if newIn.IsZero() || newOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	if cpmm.K(newIn, newOut).Lt(cpmm.K(reserveIn, reserveOut)) {
		return nil, ErrInvariantViolation
	}

	newYes, newNo := newIn, newOut
	if outcome == model.OutcomeNo {
		newYes, newNo = newOut, newIn
	}

	rec := e.record(seller, id, outcome, model.SideSell, sharesIn, net, fee)

	if err := e.ledger.Transfer(ctx, custodyAccount(id), seller, net); err != nil {
		return nil, err
	}
	if err := e.store.CommitTrade(ctx, id, newYes, newNo, pool.LPSupply, rec); err != nil {
		e.refund(ctx, seller, custodyAccount(id), net)
		return nil, err
	}
	pool.YesReserve, pool.NoReserve = newYes, newNo

	e.observeTrade(rec, pool)
	return &TradeResult{TradeID: rec.ID, Output: net, Fee: fee, Pool: pool}, nil
}

// AddLiquidity deposits collateral into an existing pool. LP units are
// minted proportionally to existing supply and the deposit is split across
// the reserves in their current ratio, so the per-unit value of existing LP
// positions is unchanged.
func (e *Engine) AddLiquidity(ctx context.Context, provider string, id model.MarketID, amount *uint256.Int) (*LiquidityResult, error) {
	if isZero(amount) {
		return nil, ErrInvalidAmount
	}
	if !cpmm.FitsUint128(amount) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, cpmm.ErrValueRange)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}

	total := pool.TotalLiquidity()
	if total.IsZero() || pool.LPSupply.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	if err := e.policy.CheckDeposit(total, amount); err != nil {
		return nil, err
	}

	// lp_minted = amount * lp_supply / total_liquidity.
	minted := new(uint256.Int).Mul(amount, pool.LPSupply)
	minted.Div(minted, total)

	// Split the deposit in the current reserve ratio; the remainder goes
	// to the NO side so the full amount is absorbed.
	yesAdd := new(uint256.Int).Mul(amount, pool.YesReserve)
	yesAdd.Div(yesAdd, total)
	noAdd := new(uint256.Int).Sub(amount, yesAdd)

	newYes := new(uint256.Int).Add(pool.YesReserve, yesAdd)
	newNo := new(uint256.Int).Add(pool.NoReserve, noAdd)
	newSupply := new(uint256.Int).Add(pool.LPSupply, minted)
	if !cpmm.FitsUint128(newYes) || !cpmm.FitsUint128(newNo) || !cpmm.FitsUint128(newSupply) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, cpmm.ErrValueRange)
	}

	balance, err := e.store.GetLPBalance(ctx, id, provider)
	if err != nil {
		return nil, err
	}
	newBalance := new(uint256.Int).Add(balance, minted)

	if err := e.ledger.Transfer(ctx, provider, custodyAccount(id), amount); err != nil {
		return nil, err
	}
	if err := e.store.ApplyLiquidityChange(ctx, id, provider, newYes, newNo, newSupply, newBalance); err != nil {
		e.refund(ctx, custodyAccount(id), provider, amount)
		return nil, err
	}
	pool.YesReserve, pool.NoReserve, pool.LPSupply = newYes, newNo, newSupply

	metrics.LiquidityOps.WithLabelValues("add").Inc()

	slog.Info("liquidity added",
		"market", id.String(),
		"provider", provider,
		"amount", amount.Dec(),
		"lp_minted", minted.Dec(),
	)

	e.publish(ctx, event.Event{
		Type:     event.TypeLiquidityAdded,
		MarketID: id.String(),
		Payload: map[string]string{
			"provider":  provider,
			"amount":    amount.Dec(),
			"lp_minted": minted.Dec(),
		},
	})
	e.broadcastOdds("liquidity_added", pool)

	return &LiquidityResult{LPMinted: minted, Pool: pool}, nil
}

// RemoveLiquidity burns lpTokens from the provider and pays out the
// proportional share of both reserves. A withdrawal may approach, but never
// breach, the minimum liquidity floor; full drains are always rejected.
func (e *Engine) RemoveLiquidity(ctx context.Context, provider string, id model.MarketID, lpTokens *uint256.Int) (*WithdrawalResult, error) {
	if isZero(lpTokens) {
		return nil, ErrInvalidAmount
	}
	if !cpmm.FitsUint128(lpTokens) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, cpmm.ErrValueRange)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	if pool.LPSupply.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	balance, err := e.store.GetLPBalance(ctx, id, provider)
	if err != nil {
		return nil, err
	}
	if lpTokens.Gt(balance) {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrInsufficientLPBalance, balance.Dec(), lpTokens.Dec())
	}

	yesOut := new(uint256.Int).Mul(lpTokens, pool.YesReserve)
	yesOut.Div(yesOut, pool.LPSupply)
	noOut := new(uint256.Int).Mul(lpTokens, pool.NoReserve)
	noOut.Div(noOut, pool.LPSupply)

	payout := new(uint256.Int).Add(yesOut, noOut)
	if err := e.policy.CheckWithdrawal(pool.TotalLiquidity(), payout); err != nil {
		return nil, err
	}

	newYes := new(uint256.Int).Sub(pool.YesReserve, yesOut)
	newNo := new(uint256.Int).Sub(pool.NoReserve, noOut)
	newSupply := new(uint256.Int).Sub(pool.LPSupply, lpTokens)
	newBalance := new(uint256.Int).Sub(balance, lpTokens)

	if err := e.ledger.Transfer(ctx, custodyAccount(id), provider, payout); err != nil {
		return nil, err
	}
	if err := e.store.ApplyLiquidityChange(ctx, id, provider, newYes, newNo, newSupply, newBalance); err != nil {
		e.refund(ctx, provider, custodyAccount(id), payout)
		return nil, err
	}
	pool.YesReserve, pool.NoReserve, pool.LPSupply = newYes, newNo, newSupply

	metrics.LiquidityOps.WithLabelValues("remove").Inc()

	slog.Info("liquidity removed",
		"market", id.String(),
		"provider", provider,
		"lp_tokens", lpTokens.Dec(),
		"yes_out", yesOut.Dec(),
		"no_out", noOut.Dec(),
	)

	e.publish(ctx, event.Event{
		Type:     event.TypeLiquidityRemoved,
		MarketID: id.String(),
		Payload: map[string]string{
			"provider":  provider,
			"lp_tokens": lpTokens.Dec(),
			"yes_out":   yesOut.Dec(),
			"no_out":    noOut.Dec(),
		},
	})
	e.broadcastOdds("liquidity_removed", pool)

	return &WithdrawalResult{YesOut: yesOut, NoOut: noOut, Pool: pool}, nil
}

// --- Internal helpers ---

func (e *Engine) record(trader string, id model.MarketID, outcome model.Outcome, side model.TradeSide, amount, output, fee *uint256.Int) *model.TradeRecord {
	return &model.TradeRecord{
		ID:         uuid.New().String(),
		Trader:     trader,
		MarketID:   id,
		Outcome:    outcome,
		Side:       side,
		Amount:     new(uint256.Int).Set(amount),
		Output:     new(uint256.Int).Set(output),
		Fee:        new(uint256.Int).Set(fee),
		ExecutedAt: time.Now().UTC(),
	}
}

func (e *Engine) observeTrade(rec *model.TradeRecord, pool *model.Pool) {
	metrics.TradesTotal.WithLabelValues(rec.Outcome.String(), string(rec.Side)).Inc()
	metrics.FeesTotal.Add(u128Float(rec.Fee))
	metrics.TradeVolume.WithLabelValues(string(rec.Side)).Add(u128Float(rec.Amount))

	slog.Info("trade executed",
		"trade_id", rec.ID,
		"trader", rec.Trader,
		"market", rec.MarketID.String(),
		"outcome", rec.Outcome.String(),
		"side", string(rec.Side),
		"amount", rec.Amount.Dec(),
		"output", rec.Output.Dec(),
		"fee", rec.Fee.Dec(),
	)

	e.publish(context.Background(), event.Event{
		Type:     event.TypeTrade,
		MarketID: rec.MarketID.String(),
		Payload: map[string]string{
			"trader":  rec.Trader,
			"outcome": rec.Outcome.String(),
			"side":    string(rec.Side),
			"amount":  rec.Amount.Dec(),
			"output":  rec.Output.Dec(),
			"fee":     rec.Fee.Dec(),
		},
	})
	e.broadcastOdds("trade_executed", pool)
}

// refund is the compensating transfer after a failed store commit. Failure
// here is logged: the platform's reconciliation picks it up from the
// custody balance mismatch.
func (e *Engine) refund(ctx context.Context, from, to string, amount *uint256.Int) {
	if err := e.ledger.Transfer(ctx, from, to, amount); err != nil {
		slog.Error("refund failed", "from", from, "to", to, "amount", amount.Dec(), "err", err)
	}
}

func (e *Engine) publish(ctx context.Context, evt event.Event) {
	if e.events != nil {
		e.events.Publish(ctx, evt)
	}
}

func (e *Engine) broadcastOdds(msgType string, pool *model.Pool) {
	if e.hub == nil {
		return
	}
	yesBps, noBps := cpmm.Odds(pool.YesReserve, pool.NoReserve)
	e.hub.Broadcast(WSMessage{
		Type:     msgType,
		MarketID: pool.MarketID.String(),
		YesBps:   yesBps,
		NoBps:    noBps,
	})
}

func isZero(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}

// u128Float degrades a 128-bit quantity to float64 for metrics only; the
// precision loss is acceptable there and nowhere else.
func u128Float(x *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(x.ToBig()).Float64()
	return f
}
