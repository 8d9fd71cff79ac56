// Package store defines the persistence interface for the pool engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/boxmeout/pool-engine/internal/model"
)

var (
	// ErrPoolAlreadyExists is returned by CreatePool when a pool record
	// already exists for the market id. Pool creation is once-only.
	ErrPoolAlreadyExists = errors.New("store: pool already exists")

	// ErrPoolNotFound is returned when no pool record exists for the
	// market id.
	ErrPoolNotFound = errors.New("store: pool not found")
)

// Store is the persistence interface. No business validation lives here;
// each write applies all fields of a record together; no partial update is
// ever visible to another call.
type Store interface {
	// --- Pools ---

	// CreatePool persists a new pool together with the creator's initial
	// LP balance in one atomic unit, failing with ErrPoolAlreadyExists if
	// the market id is already taken. A pool record is never visible
	// without its creator's position.
	CreatePool(ctx context.Context, pool *model.Pool, creator string, lpBalance *uint256.Int) error

	// GetPool retrieves a pool, failing with ErrPoolNotFound if absent.
	GetPool(ctx context.Context, id model.MarketID) (*model.Pool, error)

	// CommitTrade overwrites the pool's reserves and appends the trade
	// record in one atomic unit; neither write is visible without the
	// other.
	CommitTrade(ctx context.Context, id model.MarketID, yes, no, lpSupply *uint256.Int, rec *model.TradeRecord) error

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// --- LP positions ---

	// GetLPBalance returns a provider's LP balance for a market, zero if
	// the provider has never deposited.
	GetLPBalance(ctx context.Context, id model.MarketID, provider string) (*uint256.Int, error)

	// ApplyLiquidityChange commits a liquidity deposit or withdrawal: the
	// pool's reserves/supply and the provider's LP balance are written
	// together in one atomic unit.
	ApplyLiquidityChange(ctx context.Context, id model.MarketID, provider string, yes, no, lpSupply, lpBalance *uint256.Int) error

	// --- Immutable trade ledger ---

	// TradesByMarket returns a market's trades ordered oldest first,
	// paginated by offset/limit (limit <= 0 means no limit).
	TradesByMarket(ctx context.Context, id model.MarketID, offset, limit int) ([]model.TradeRecord, error)

	// TradesByTrader returns all trades executed by one trader.
	TradesByTrader(ctx context.Context, trader string) ([]model.TradeRecord, error)
}
