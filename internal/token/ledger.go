// Package token defines the fungible collateral ledger the pool engine moves
// funds through. The engine treats the ledger as an opaque collaborator: a
// transfer either fully succeeds or fails with no effect.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// ErrInsufficientFunds is returned when an account cannot cover a transfer.
var ErrInsufficientFunds = errors.New("token: insufficient funds")

// Ledger moves collateral between accounts. Implementations must be safe
// for concurrent use and must apply each call atomically.
type Ledger interface {
	// Mint credits amount to account.
	Mint(ctx context.Context, account string, amount *uint256.Int) error

	// Transfer moves amount from one account to another, failing with
	// ErrInsufficientFunds if the source balance is too small.
	Transfer(ctx context.Context, from, to string, amount *uint256.Int) error

	// BalanceOf returns the current balance of account (zero if the
	// account has never been touched).
	BalanceOf(ctx context.Context, account string) (*uint256.Int, error)
}

// MemoryLedger implements Ledger with an in-memory balance map. Used for
// testing and development; production deployments plug in the platform's
// token service instead.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]*uint256.Int
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]*uint256.Int)}
}

func (l *MemoryLedger) Mint(_ context.Context, account string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[account]
	if !ok {
		bal = new(uint256.Int)
		l.balances[account] = bal
	}
	bal.Add(bal, amount)
	return nil
}

func (l *MemoryLedger) Transfer(_ context.Context, from, to string, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.balances[from]
	if !ok || src.Lt(amount) {
		return fmt.Errorf("%w: account %s", ErrInsufficientFunds, from)
	}

	dst, ok := l.balances[to]
	if !ok {
		dst = new(uint256.Int)
		l.balances[to] = dst
	}

	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, account string) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[account]
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(bal), nil
}
