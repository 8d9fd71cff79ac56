package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boxmeout/pool-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All 128-bit quantities are stored as NUMERIC and round-tripped through
// their decimal string representation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema holds the DDL for the three tables the store uses.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	market_id   TEXT PRIMARY KEY,
	yes_reserve NUMERIC(39, 0) NOT NULL,
	no_reserve  NUMERIC(39, 0) NOT NULL,
	lp_supply   NUMERIC(39, 0) NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS lp_positions (
	market_id TEXT NOT NULL REFERENCES pools (market_id),
	provider  TEXT NOT NULL,
	balance   NUMERIC(39, 0) NOT NULL,
	PRIMARY KEY (market_id, provider)
);

CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	trader      TEXT NOT NULL,
	market_id   TEXT NOT NULL REFERENCES pools (market_id),
	outcome     TEXT NOT NULL,
	side        TEXT NOT NULL,
	amount      NUMERIC(39, 0) NOT NULL,
	output      NUMERIC(39, 0) NOT NULL,
	fee         NUMERIC(39, 0) NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS trades_market_idx ON trades (market_id, executed_at);
CREATE INDEX IF NOT EXISTS trades_trader_idx ON trades (trader, executed_at);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// CreatePool inserts the pool row and the creator's LP position in one
// transaction so a pool is never visible without its creator's stake.
func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool, creator string, lpBalance *uint256.Int) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO pools (market_id, yes_reserve, no_reserve, lp_supply, created_at)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)`,
			p.MarketID.String(),
			p.YesReserve.Dec(), p.NoReserve.Dec(), p.LPSupply.Dec(),
			p.CreatedAt,
		)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO lp_positions (market_id, provider, balance)
			 VALUES ($1, $2, $3::NUMERIC)`,
			p.MarketID.String(), creator, lpBalance.Dec(),
		)
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return fmt.Errorf("%w: %s", ErrPoolAlreadyExists, p.MarketID)
	}
	return err
}

func (s *PostgresStore) GetPool(ctx context.Context, id model.MarketID) (*model.Pool, error) {
	var p model.Pool
	var idStr, yes, no, supply string

	err := s.pool.QueryRow(ctx,
		`SELECT market_id, yes_reserve::TEXT, no_reserve::TEXT, lp_supply::TEXT, created_at
		 FROM pools WHERE market_id = $1`, id.String()).
		Scan(&idStr, &yes, &no, &supply, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}

	p.MarketID = id
	if p.YesReserve, p.NoReserve, p.LPSupply, err = parseReserves(yes, no, supply); err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return &p, nil
}

// CommitTrade writes the post-trade reserves and appends the trade record
// in one transaction so no caller ever observes one without the other.
func (s *PostgresStore) CommitTrade(ctx context.Context, id model.MarketID, yes, no, lpSupply *uint256.Int, rec *model.TradeRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE pools
			 SET yes_reserve = $2::NUMERIC, no_reserve = $3::NUMERIC, lp_supply = $4::NUMERIC
			 WHERE market_id = $1`,
			id.String(), yes.Dec(), no.Dec(), lpSupply.Dec(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrPoolNotFound, id)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO trades (id, trader, market_id, outcome, side, amount, output, fee, executed_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
			rec.ID, rec.Trader, rec.MarketID.String(), rec.Outcome.String(), string(rec.Side),
			rec.Amount.Dec(), rec.Output.Dec(), rec.Fee.Dec(),
			rec.ExecutedAt,
		)
		return err
	})
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, yes_reserve::TEXT, no_reserve::TEXT, lp_supply::TEXT, created_at
		 FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		var p model.Pool
		var idStr, yes, no, supply string
		if err := rows.Scan(&idStr, &yes, &no, &supply, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.MarketID, err = model.ParseMarketID(idStr); err != nil {
			return nil, err
		}
		if p.YesReserve, p.NoReserve, p.LPSupply, err = parseReserves(yes, no, supply); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) GetLPBalance(ctx context.Context, id model.MarketID, provider string) (*uint256.Int, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM lp_positions WHERE market_id = $1 AND provider = $2`,
		id.String(), provider).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lp balance %s/%s: %w", id, provider, err)
	}
	return uint256.FromDecimal(balance)
}

// ApplyLiquidityChange writes the pool record and the provider's LP balance
// in one transaction so no caller ever observes a half-applied deposit or
// withdrawal.
func (s *PostgresStore) ApplyLiquidityChange(ctx context.Context, id model.MarketID, provider string, yes, no, lpSupply, lpBalance *uint256.Int) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE pools
			 SET yes_reserve = $2::NUMERIC, no_reserve = $3::NUMERIC, lp_supply = $4::NUMERIC
			 WHERE market_id = $1`,
			id.String(), yes.Dec(), no.Dec(), lpSupply.Dec(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrPoolNotFound, id)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO lp_positions (market_id, provider, balance)
			 VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (market_id, provider) DO UPDATE SET balance = EXCLUDED.balance`,
			id.String(), provider, lpBalance.Dec(),
		)
		return err
	})
}

func (s *PostgresStore) TradesByMarket(ctx context.Context, id model.MarketID, offset, limit int) ([]model.TradeRecord, error) {
	q := `SELECT id, trader, market_id, outcome, side, amount::TEXT, output::TEXT, fee::TEXT, executed_at
	      FROM trades WHERE market_id = $1 ORDER BY executed_at OFFSET $2`
	args := []any{id.String(), offset}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradesByTrader(ctx context.Context, trader string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trader, market_id, outcome, side, amount::TEXT, output::TEXT, fee::TEXT, executed_at
		 FROM trades WHERE trader = $1 ORDER BY executed_at`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]model.TradeRecord, error) {
	var trades []model.TradeRecord
	for rows.Next() {
		var tr model.TradeRecord
		var idStr, outcome, side, amount, output, fee string

		if err := rows.Scan(&tr.ID, &tr.Trader, &idStr, &outcome, &side,
			&amount, &output, &fee, &tr.ExecutedAt); err != nil {
			return nil, err
		}

		var err error
		if tr.MarketID, err = model.ParseMarketID(idStr); err != nil {
			return nil, err
		}
		if tr.Outcome, err = model.ParseOutcome(outcome); err != nil {
			return nil, err
		}
		tr.Side = model.TradeSide(side)
		if tr.Amount, err = uint256.FromDecimal(amount); err != nil {
			return nil, err
		}
		if tr.Output, err = uint256.FromDecimal(output); err != nil {
			return nil, err
		}
		if tr.Fee, err = uint256.FromDecimal(fee); err != nil {
			return nil, err
		}

		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

func parseReserves(yes, no, supply string) (y, n, s *uint256.Int, err error) {
	if y, err = uint256.FromDecimal(yes); err != nil {
		return nil, nil, nil, err
	}
	if n, err = uint256.FromDecimal(no); err != nil {
		return nil, nil, nil, err
	}
	if s, err = uint256.FromDecimal(supply); err != nil {
		return nil, nil, nil, err
	}
	return y, n, s, nil
}
