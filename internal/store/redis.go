package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/boxmeout/pool-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for pool records. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary. The trade
// ledger and LP balances are served from the primary directly.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// poolDoc is the cache representation: reserves as decimal strings.
type poolDoc struct {
	MarketID   string    `json:"market_id"`
	YesReserve string    `json:"yes_reserve"`
	NoReserve  string    `json:"no_reserve"`
	LPSupply   string    `json:"lp_supply"`
	CreatedAt  time.Time `json:"created_at"`
}

func poolKey(id model.MarketID) string { return "pool:" + id.String() }

// --- Writes (primary first, then cache maintenance) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool, creator string, lpBalance *uint256.Int) error {
	if err := s.primary.CreatePool(ctx, p, creator, lpBalance); err != nil {
		return err
	}
	s.cachePool(ctx, p)
	return nil
}

func (s *CachedStore) CommitTrade(ctx context.Context, id model.MarketID, yes, no, lpSupply *uint256.Int, rec *model.TradeRecord) error {
	if err := s.primary.CommitTrade(ctx, id, yes, no, lpSupply, rec); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, poolKey(id))
	return nil
}

func (s *CachedStore) ApplyLiquidityChange(ctx context.Context, id model.MarketID, provider string, yes, no, lpSupply, lpBalance *uint256.Int) error {
	if err := s.primary.ApplyLiquidityChange(ctx, id, provider, yes, no, lpSupply, lpBalance); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(id))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetPool(ctx context.Context, id model.MarketID) (*model.Pool, error) {
	data, err := s.rdb.Get(ctx, poolKey(id)).Bytes()
	if err == nil {
		if p := decodePool(data); p != nil {
			return p, nil
		}
	}

	p, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cachePool(ctx, p)
	return p, nil
}

// --- Passthrough ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) GetLPBalance(ctx context.Context, id model.MarketID, provider string) (*uint256.Int, error) {
	return s.primary.GetLPBalance(ctx, id, provider)
}

func (s *CachedStore) TradesByMarket(ctx context.Context, id model.MarketID, offset, limit int) ([]model.TradeRecord, error) {
	return s.primary.TradesByMarket(ctx, id, offset, limit)
}

func (s *CachedStore) TradesByTrader(ctx context.Context, trader string) ([]model.TradeRecord, error) {
	return s.primary.TradesByTrader(ctx, trader)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.Pool) {
	doc := poolDoc{
		MarketID:   p.MarketID.String(),
		YesReserve: p.YesReserve.Dec(),
		NoReserve:  p.NoReserve.Dec(),
		LPSupply:   p.LPSupply.Dec(),
		CreatedAt:  p.CreatedAt,
	}
	if data, err := json.Marshal(doc); err == nil {
		s.rdb.Set(ctx, poolKey(p.MarketID), data, s.ttl)
	}
}

func decodePool(data []byte) *model.Pool {
	var doc poolDoc
	if json.Unmarshal(data, &doc) != nil {
		return nil
	}
	id, err := model.ParseMarketID(doc.MarketID)
	if err != nil {
		return nil
	}
	yes, err := uint256.FromDecimal(doc.YesReserve)
	if err != nil {
		return nil
	}
	no, err := uint256.FromDecimal(doc.NoReserve)
	if err != nil {
		return nil
	}
	supply, err := uint256.FromDecimal(doc.LPSupply)
	if err != nil {
		return nil
	}
	return &model.Pool{
		MarketID:   id,
		YesReserve: yes,
		NoReserve:  no,
		LPSupply:   supply,
		CreatedAt:  doc.CreatedAt,
	}
}
