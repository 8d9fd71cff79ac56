package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/boxmeout/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[model.MarketID]*model.Pool
	positions map[string]*uint256.Int // marketID|provider → balance
	trades    []model.TradeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[model.MarketID]*model.Pool),
		positions: make(map[string]*uint256.Int),
	}
}

func positionKey(id model.MarketID, provider string) string {
	return id.String() + "|" + provider
}

func (s *MemoryStore) CreatePool(_ context.Context, pool *model.Pool, creator string, lpBalance *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[pool.MarketID]; ok {
		return fmt.Errorf("%w: %s", ErrPoolAlreadyExists, pool.MarketID)
	}
	s.pools[pool.MarketID] = pool.Clone()
	s.positions[positionKey(pool.MarketID, creator)] = new(uint256.Int).Set(lpBalance)
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id model.MarketID) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) CommitTrade(_ context.Context, id model.MarketID, yes, no, lpSupply *uint256.Int, rec *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	p.YesReserve = new(uint256.Int).Set(yes)
	p.NoReserve = new(uint256.Int).Set(no)
	p.LPSupply = new(uint256.Int).Set(lpSupply)
	s.trades = append(s.trades, *rec)
	return nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p.Clone())
	}
	return pools, nil
}

func (s *MemoryStore) GetLPBalance(_ context.Context, id model.MarketID, provider string) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.positions[positionKey(id, provider)]
	if !ok {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Set(bal), nil
}

func (s *MemoryStore) ApplyLiquidityChange(_ context.Context, id model.MarketID, provider string, yes, no, lpSupply, lpBalance *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	p.YesReserve = new(uint256.Int).Set(yes)
	p.NoReserve = new(uint256.Int).Set(no)
	p.LPSupply = new(uint256.Int).Set(lpSupply)
	s.positions[positionKey(id, provider)] = new(uint256.Int).Set(lpBalance)
	return nil
}

func (s *MemoryStore) TradesByMarket(_ context.Context, id model.MarketID, offset, limit int) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, tr := range s.trades {
		if tr.MarketID == id {
			result = append(result, tr)
		}
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) TradesByTrader(_ context.Context, trader string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.TradeRecord
	for _, tr := range s.trades {
		if tr.Trader == trader {
			result = append(result, tr)
		}
	}
	return result, nil
}
