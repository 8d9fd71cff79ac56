// Package model defines the core domain types shared across the pool engine.
// All reserve and share quantities are unsigned 128-bit integers carried in
// uint256.Int values, never float64 for money.
package model

import (
	"time"

	"github.com/holiman/uint256"
)

// Pool is the CPMM state for one market: two complementary outcome reserves
// and the outstanding liquidity-provider supply. Created exactly once per
// market id.
type Pool struct {
	MarketID   MarketID     `json:"market_id"`
	YesReserve *uint256.Int `json:"yes_reserve"`
	NoReserve  *uint256.Int `json:"no_reserve"`
	LPSupply   *uint256.Int `json:"lp_supply"`
	CreatedAt  time.Time    `json:"created_at"`
}

// TotalLiquidity returns yes_reserve + no_reserve. Derived, never stored.
func (p *Pool) TotalLiquidity() *uint256.Int {
	return new(uint256.Int).Add(p.YesReserve, p.NoReserve)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (p *Pool) Clone() *Pool {
	return &Pool{
		MarketID:   p.MarketID,
		YesReserve: new(uint256.Int).Set(p.YesReserve),
		NoReserve:  new(uint256.Int).Set(p.NoReserve),
		LPSupply:   new(uint256.Int).Set(p.LPSupply),
		CreatedAt:  p.CreatedAt,
	}
}

// LPPosition is one provider's liquidity entitlement in one pool.
// Balance / pool.LPSupply is the provider's proportional claim on both
// reserves.
type LPPosition struct {
	MarketID MarketID     `json:"market_id"`
	Provider string       `json:"provider"`
	Balance  *uint256.Int `json:"balance"`
}

// TradeSide distinguishes buys from sells in the trade ledger.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeRecord is an immutable record of one executed trade. Once inserted,
// these are never modified or deleted.
type TradeRecord struct {
	ID         string       `json:"id"`
	Trader     string       `json:"trader"`
	MarketID   MarketID     `json:"market_id"`
	Outcome    Outcome      `json:"outcome"`
	Side       TradeSide    `json:"side"`
	Amount     *uint256.Int `json:"amount"` // collateral in (buy) or shares in (sell)
	Output     *uint256.Int `json:"output"` // shares out (buy) or net payout (sell)
	Fee        *uint256.Int `json:"fee"`
	ExecutedAt time.Time    `json:"executed_at"`
}
