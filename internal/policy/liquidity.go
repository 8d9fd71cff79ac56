// Package policy enforces pool-level liquidity limits: a per-market cap on
// total liquidity and a minimum floor that withdrawals may not breach.
//
// The floor exists so that no remove_liquidity call can drain a pool to a
// one-sided or empty state: a fraction of the pool's current liquidity
// (default 1%) must survive every withdrawal.
package policy

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrCapExceeded is returned when a deposit would push a pool's total
	// liquidity beyond the configured cap.
	ErrCapExceeded = errors.New("policy: liquidity cap exceeded")

	// ErrMinimumLiquidityFloor is returned when a withdrawal would reduce
	// a pool's total liquidity below the configured floor fraction.
	ErrMinimumLiquidityFloor = errors.New("policy: withdrawal would breach minimum liquidity floor")
)

// DefaultFloorBps keeps 1% of current liquidity in the pool.
const DefaultFloorBps = 100

var bpsDen = uint256.NewInt(10000)

// LiquidityPolicy holds the cap and floor limits for all pools.
type LiquidityPolicy struct {
	// MaxTotalLiquidity is the per-pool cap on yes_reserve + no_reserve.
	// A nil or zero cap means uncapped.
	MaxTotalLiquidity *uint256.Int

	// FloorBps is the fraction of current total liquidity, in basis
	// points, that must remain after any withdrawal.
	FloorBps uint32
}

// NewLiquidityPolicy creates a policy with the given cap and floor.
func NewLiquidityPolicy(cap *uint256.Int, floorBps uint32) *LiquidityPolicy {
	if floorBps == 0 {
		floorBps = DefaultFloorBps
	}
	return &LiquidityPolicy{MaxTotalLiquidity: cap, FloorBps: floorBps}
}

// CheckDeposit validates that adding amount to a pool currently holding
// currentTotal stays within the cap.
func (p *LiquidityPolicy) CheckDeposit(currentTotal, amount *uint256.Int) error {
	if p.MaxTotalLiquidity == nil || p.MaxTotalLiquidity.IsZero() {
		return nil
	}
	after := new(uint256.Int).Add(currentTotal, amount)
	if after.Gt(p.MaxTotalLiquidity) {
		return ErrCapExceeded
	}
	return nil
}

// CheckWithdrawal validates that removing withdrawTotal from a pool holding
// currentTotal leaves at least the floor fraction behind. A withdrawal of
// the entire pool always fails, even when the computed floor rounds to
// zero.
func (p *LiquidityPolicy) CheckWithdrawal(currentTotal, withdrawTotal *uint256.Int) error {
	if withdrawTotal.Cmp(currentTotal) >= 0 {
		return ErrMinimumLiquidityFloor
	}

	floor := new(uint256.Int).Mul(currentTotal, uint256.NewInt(uint64(p.FloorBps)))
	floor.Div(floor, bpsDen)

	remaining := new(uint256.Int).Sub(currentTotal, withdrawTotal)
	if remaining.Lt(floor) {
		return ErrMinimumLiquidityFloor
	}
	return nil
}
