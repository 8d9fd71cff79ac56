package policy

import (
	"testing"

	"github.com/holiman/uint256"
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func TestCheckDeposit_Uncapped(t *testing.T) {
	p := NewLiquidityPolicy(nil, 0)
	if err := p.CheckDeposit(u(0), new(uint256.Int).Lsh(u(1), 127)); err != nil {
		t.Errorf("uncapped policy rejected deposit: %v", err)
	}
}

func TestCheckDeposit_CapEnforced(t *testing.T) {
	p := NewLiquidityPolicy(u(1_000_000), 0)

	if err := p.CheckDeposit(u(400_000), u(600_000)); err != nil {
		t.Errorf("deposit exactly at cap should pass: %v", err)
	}
	if err := p.CheckDeposit(u(400_000), u(600_001)); err != ErrCapExceeded {
		t.Errorf("expected ErrCapExceeded, got %v", err)
	}
}

func TestCheckWithdrawal_AtFloorPasses(t *testing.T) {
	p := NewLiquidityPolicy(nil, 100)

	// 99% withdrawal of a 10B pool leaves exactly the 1% floor.
	if err := p.CheckWithdrawal(u(10_000_000_000), u(9_900_000_000)); err != nil {
		t.Errorf("withdrawal to exact floor should pass: %v", err)
	}
}

func TestCheckWithdrawal_BelowFloorRejected(t *testing.T) {
	p := NewLiquidityPolicy(nil, 100)

	if err := p.CheckWithdrawal(u(10_000_000_000), u(9_900_000_001)); err != ErrMinimumLiquidityFloor {
		t.Errorf("expected ErrMinimumLiquidityFloor, got %v", err)
	}
}

func TestCheckWithdrawal_FullDrainAlwaysRejected(t *testing.T) {
	p := NewLiquidityPolicy(nil, 100)

	// Even when the floor rounds to zero, draining everything fails.
	if err := p.CheckWithdrawal(u(50), u(50)); err != ErrMinimumLiquidityFloor {
		t.Errorf("expected ErrMinimumLiquidityFloor for full drain, got %v", err)
	}
	if err := p.CheckWithdrawal(u(50), u(51)); err != ErrMinimumLiquidityFloor {
		t.Errorf("expected ErrMinimumLiquidityFloor for over-drain, got %v", err)
	}
}

func TestNewLiquidityPolicy_ZeroFloorDefaults(t *testing.T) {
	p := NewLiquidityPolicy(nil, 0)
	if p.FloorBps != DefaultFloorBps {
		t.Errorf("expected default floor %d, got %d", DefaultFloorBps, p.FloorBps)
	}
}
