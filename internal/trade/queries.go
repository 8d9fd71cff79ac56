package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/boxmeout/pool-engine/internal/cpmm"
	"github.com/boxmeout/pool-engine/internal/model"
	"github.com/boxmeout/pool-engine/internal/store"
)

const timeFormat = time.RFC3339

// OddsView is the implied probability of each outcome in basis points. The
// two sides always sum to 10000.
type OddsView struct {
	MarketID string `json:"market_id"`
	YesBps   uint32 `json:"yes_bps"`
	NoBps    uint32 `json:"no_bps"`
}

// PoolView is the full pool state as reported to clients. Reserves are
// decimal strings; 128-bit values do not survive JSON numbers.
type PoolView struct {
	MarketID       string `json:"market_id"`
	YesReserve     string `json:"yes_reserve"`
	NoReserve      string `json:"no_reserve"`
	LPSupply       string `json:"lp_supply"`
	TotalLiquidity string `json:"total_liquidity"`
	YesBps         uint32 `json:"yes_bps"`
	NoBps          uint32 `json:"no_bps"`
	CreatedAt      string `json:"created_at"`
}

// QuoteView is a read-only buy preview. Nothing is committed. AvgPrice
// includes the fee; ImpactBps is how far it sits above the marginal price.
type QuoteView struct {
	MarketID  string          `json:"market_id"`
	Outcome   string          `json:"outcome"`
	AmountIn  string          `json:"amount_in"`
	Fee       string          `json:"fee"`
	SharesOut string          `json:"shares_out"`
	AvgPrice  decimal.Decimal `json:"avg_price"`  // collateral per share
	SpotPrice decimal.Decimal `json:"spot_price"` // marginal price before the trade
	ImpactBps int64           `json:"impact_bps"`
}

// LPPositionView is a provider's stake in one pool.
type LPPositionView struct {
	MarketID string          `json:"market_id"`
	Provider string          `json:"provider"`
	Balance  string          `json:"lp_balance"`
	ShareBps uint32          `json:"share_bps"` // fraction of LP supply
	Value    decimal.Decimal `json:"value"`     // proportional claim on total liquidity
}

// EngineAnalytics aggregates activity across every pool. Volume is the
// collateral that changed hands; fees are the total skim.
type EngineAnalytics struct {
	ActivePools    int    `json:"active_pools"`
	Trades         int    `json:"trades"`
	TotalVolume    string `json:"total_volume"`
	TotalFees      string `json:"total_fees"`
	TotalLiquidity string `json:"total_liquidity"`
}

// MarketAnalytics aggregates a market's trade history.
type MarketAnalytics struct {
	MarketID   string          `json:"market_id"`
	Trades     int             `json:"trades"`
	BuyVolume  string          `json:"buy_volume"`
	SellVolume string          `json:"sell_volume"`
	FeesPaid   string          `json:"fees_paid"`
	VWAP       decimal.Decimal `json:"vwap"`
	YesBps     uint32          `json:"yes_bps"`
	NoBps      uint32          `json:"no_bps"`
}

// Odds returns the implied probabilities for a market. A market with no
// pool reports even odds rather than an error; a single-sided pool reports
// certainty for the exhausted side.
func (e *Engine) Odds(ctx context.Context, id model.MarketID) (OddsView, error) {
	view := OddsView{MarketID: id.String(), YesBps: 5000, NoBps: 5000}

	pool, err := e.store.GetPool(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrPoolNotFound) {
			return view, nil
		}
		return OddsView{}, err
	}

	view.YesBps, view.NoBps = cpmm.Odds(pool.YesReserve, pool.NoReserve)
	return view, nil
}

// PoolState returns the current reserves and odds for a market. A market
// with no pool reports zero reserves and even odds rather than an error.
func (e *Engine) PoolState(ctx context.Context, id model.MarketID) (PoolView, error) {
	pool, err := e.store.GetPool(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrPoolNotFound) {
			return PoolView{
				MarketID:       id.String(),
				YesReserve:     "0",
				NoReserve:      "0",
				LPSupply:       "0",
				TotalLiquidity: "0",
				YesBps:         5000,
				NoBps:          5000,
			}, nil
		}
		return PoolView{}, err
	}
	return poolView(pool), nil
}

// ListPools returns the state of every pool.
func (e *Engine) ListPools(ctx context.Context) ([]PoolView, error) {
	pools, err := e.store.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]PoolView, 0, len(pools))
	for i := range pools {
		views = append(views, poolView(&pools[i]))
	}
	return views, nil
}

// QuoteBuy previews a buy without executing it: same validation and math as
// Buy, no state change and no slippage bound.
func (e *Engine) QuoteBuy(ctx context.Context, id model.MarketID, outcome model.Outcome, amountIn *uint256.Int) (QuoteView, error) {
	if !outcome.Valid() {
		return QuoteView{}, model.ErrInvalidOutcome
	}
	if isZero(amountIn) {
		return QuoteView{}, ErrInvalidAmount
	}
	if !cpmm.FitsUint128(amountIn) {
		return QuoteView{}, fmt.Errorf("%w: %v", ErrInvalidAmount, cpmm.ErrValueRange)
	}

	pool, err := e.store.GetPool(ctx, id)
	if err != nil {
		return QuoteView{}, err
	}
	if pool.YesReserve.IsZero() || pool.NoReserve.IsZero() {
		return QuoteView{}, ErrInsufficientLiquidity
	}

	reserveIn, reserveOut := pool.NoReserve, pool.YesReserve
	if outcome == model.OutcomeNo {
		reserveIn, reserveOut = pool.YesReserve, pool.NoReserve
	}

	fee, sharesOut, err := e.pricer.QuoteBuy(reserveIn, reserveOut, amountIn)
	if err != nil {
		return QuoteView{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	avg := decimal.Zero
	if !sharesOut.IsZero() {
		avg = u128Decimal(amountIn).DivRound(u128Decimal(sharesOut), 18)
	}
	spot := u128Decimal(reserveIn).DivRound(u128Decimal(reserveOut), 18)
	var impact int64
	if !avg.IsZero() && !spot.IsZero() {
		impact = avg.Sub(spot).Div(spot).Mul(decimal.NewFromInt(cpmm.BpsDenominator)).IntPart()
	}

	return QuoteView{
		MarketID:  id.String(),
		Outcome:   outcome.String(),
		AmountIn:  amountIn.Dec(),
		Fee:       fee.Dec(),
		SharesOut: sharesOut.Dec(),
		AvgPrice:  avg,
		SpotPrice: spot,
		ImpactBps: impact,
	}, nil
}

// LPPosition reports a provider's LP balance, its share of supply, and its
// current proportional value.
func (e *Engine) LPPosition(ctx context.Context, id model.MarketID, provider string) (LPPositionView, error) {
	pool, err := e.store.GetPool(ctx, id)
	if err != nil {
		return LPPositionView{}, err
	}
	balance, err := e.store.GetLPBalance(ctx, id, provider)
	if err != nil {
		return LPPositionView{}, err
	}

	view := LPPositionView{
		MarketID: id.String(),
		Provider: provider,
		Balance:  balance.Dec(),
		Value:    decimal.Zero,
	}
	if pool.LPSupply.IsZero() || balance.IsZero() {
		return view, nil
	}

	supply := u128Decimal(pool.LPSupply)
	bal := u128Decimal(balance)
	view.ShareBps = uint32(bal.Mul(decimal.NewFromInt(cpmm.BpsDenominator)).Div(supply).IntPart())
	view.Value = bal.Mul(u128Decimal(pool.TotalLiquidity())).DivRound(supply, 0)
	return view, nil
}

// TradeHistory returns a market's trades, oldest first, with offset/limit
// paging. limit <= 0 means no limit.
func (e *Engine) TradeHistory(ctx context.Context, id model.MarketID, offset, limit int) ([]model.TradeRecord, error) {
	return e.store.TradesByMarket(ctx, id, offset, limit)
}

// TraderHistory returns one trader's trades across all markets.
func (e *Engine) TraderHistory(ctx context.Context, trader string) ([]model.TradeRecord, error) {
	return e.store.TradesByTrader(ctx, trader)
}

// GlobalAnalytics walks every pool and its full trade ledger.
func (e *Engine) GlobalAnalytics(ctx context.Context) (EngineAnalytics, error) {
	pools, err := e.store.ListPools(ctx)
	if err != nil {
		return EngineAnalytics{}, err
	}

	volume := new(uint256.Int)
	fees := new(uint256.Int)
	liquidity := new(uint256.Int)
	trades := 0

	for i := range pools {
		liquidity.Add(liquidity, pools[i].TotalLiquidity())

		records, err := e.store.TradesByMarket(ctx, pools[i].MarketID, 0, 0)
		if err != nil {
			return EngineAnalytics{}, err
		}
		trades += len(records)
		for _, t := range records {
			fees.Add(fees, t.Fee)
			switch t.Side {
			case model.SideBuy:
				volume.Add(volume, t.Amount)
			case model.SideSell:
				volume.Add(volume, t.Output)
			}
		}
	}

	return EngineAnalytics{
		ActivePools:    len(pools),
		Trades:         trades,
		TotalVolume:    volume.Dec(),
		TotalFees:      fees.Dec(),
		TotalLiquidity: liquidity.Dec(),
	}, nil
}

// Analytics aggregates a market's full trade history with its current odds.
// VWAP is collateral volume over share volume across all trades.
func (e *Engine) Analytics(ctx context.Context, id model.MarketID) (MarketAnalytics, error) {
	pool, err := e.store.GetPool(ctx, id)
	if err != nil {
		return MarketAnalytics{}, err
	}
	trades, err := e.store.TradesByMarket(ctx, id, 0, 0)
	if err != nil {
		return MarketAnalytics{}, err
	}

	buyVol := new(uint256.Int)
	sellVol := new(uint256.Int)
	fees := new(uint256.Int)
	collateral := decimal.Zero
	shares := decimal.Zero

	for _, t := range trades {
		fees.Add(fees, t.Fee)
		switch t.Side {
		case model.SideBuy:
			buyVol.Add(buyVol, t.Amount)
			collateral = collateral.Add(u128Decimal(t.Amount))
			shares = shares.Add(u128Decimal(t.Output))
		case model.SideSell:
			sellVol.Add(sellVol, t.Amount)
			collateral = collateral.Add(u128Decimal(t.Output))
			shares = shares.Add(u128Decimal(t.Amount))
		}
	}

	vwap := decimal.Zero
	if !shares.IsZero() {
		vwap = collateral.DivRound(shares, 18)
	}

	yesBps, noBps := cpmm.Odds(pool.YesReserve, pool.NoReserve)
	return MarketAnalytics{
		MarketID:   id.String(),
		Trades:     len(trades),
		BuyVolume:  buyVol.Dec(),
		SellVolume: sellVol.Dec(),
		FeesPaid:   fees.Dec(),
		VWAP:       vwap,
		YesBps:     yesBps,
		NoBps:      noBps,
	}, nil
}

func poolView(p *model.Pool) PoolView {
	yesBps, noBps := cpmm.Odds(p.YesReserve, p.NoReserve)
	return PoolView{
		MarketID:       p.MarketID.String(),
		YesReserve:     p.YesReserve.Dec(),
		NoReserve:      p.NoReserve.Dec(),
		LPSupply:       p.LPSupply.Dec(),
		TotalLiquidity: p.TotalLiquidity().Dec(),
		YesBps:         yesBps,
		NoBps:          noBps,
		CreatedAt:      p.CreatedAt.Format(timeFormat),
	}
}

func u128Decimal(x *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x.ToBig(), 0)
}
