// postgres.go implements the Store on PostgreSQL via pgx. Conflict targets
// carry the accumulation semantics: order inserts are no-ops on replay, depth
// quantities are additive, buckets merge OHLC, balances clamp at zero.
//
// Raw integer amounts travel as NUMERIC(78,0) and are scanned through their
// text representation, so no value is ever squeezed through float64.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"clobfeed/pkg/types"
)

// querier is the query surface shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production Store.
type Postgres struct {
	pool *pgxpool.Pool
	db   querier
}

// NewPostgres wraps an existing pgx pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, db: pool}
}

// WithTx runs fn against a Store bound to one transaction. The writes commit
// together when fn returns nil and roll back otherwise.
func (p *Postgres) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Postgres{pool: p.pool, db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func parseBig(s string) *big.Int {
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n
	}
	return new(big.Int)
}

func parseDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ————————————————————————————————————————————————————————————————————————
// Pools and currencies
// ————————————————————————————————————————————————————————————————————————

func (p *Postgres) InsertPool(ctx context.Context, pl *types.Pool) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO pools (id, chain_id, address, order_book, base_currency, quote_currency,
			base_symbol, quote_symbol, base_decimals, quote_decimals, last_update_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		pl.ID, pl.ChainID, pl.Address, pl.OrderBook, pl.BaseCurrency, pl.QuoteCurrency,
		pl.BaseSymbol, pl.QuoteSymbol, pl.BaseDecimals, pl.QuoteDecimals, pl.LastUpdateTs)
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (p *Postgres) ApplyPoolMatch(ctx context.Context, poolID string, m PoolMatch) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE pools SET last_price = $2::numeric, volume = volume + $3::numeric,
			volume_in_quote = volume_in_quote + $4::numeric, last_update_ts = $5
		WHERE id = $1`,
		poolID, types.BigOrZero(m.LastPrice).String(), m.BaseVolume.String(),
		m.QuoteVolume.String(), m.Timestamp)
	if err != nil {
		return fmt.Errorf("apply pool match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrUnknownPool
	}
	return nil
}

const poolColumns = `id, chain_id, address, order_book, base_currency, quote_currency,
	base_symbol, quote_symbol, base_decimals, quote_decimals,
	volume::text, volume_in_quote::text, COALESCE(last_price::text, '0'), last_update_ts`

func scanPool(row pgx.Row) (*types.Pool, error) {
	var pl types.Pool
	var vol, volQ, lastPrice string
	err := row.Scan(&pl.ID, &pl.ChainID, &pl.Address, &pl.OrderBook, &pl.BaseCurrency,
		&pl.QuoteCurrency, &pl.BaseSymbol, &pl.QuoteSymbol, &pl.BaseDecimals,
		&pl.QuoteDecimals, &vol, &volQ, &lastPrice, &pl.LastUpdateTs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pl.Volume = parseDec(vol)
	pl.VolumeInQuote = parseDec(volQ)
	pl.LastPrice = parseBig(lastPrice)
	return &pl, nil
}

func (p *Postgres) GetPool(ctx context.Context, chainID uint64, address string) (*types.Pool, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE chain_id = $1 AND address = $2`,
		chainID, types.NormalizeAddress(address))
	return scanPool(row)
}

func (p *Postgres) GetPoolBySymbol(ctx context.Context, chainID uint64, symbol string) (*types.Pool, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools
		 WHERE chain_id = $1 AND LOWER(base_symbol || quote_symbol) = LOWER($2)`,
		chainID, symbol)
	return scanPool(row)
}

func (p *Postgres) ListPools(ctx context.Context, chainID uint64) ([]*types.Pool, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE chain_id = $1
		 ORDER BY base_symbol, quote_symbol`, chainID)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var out []*types.Pool
	for rows.Next() {
		pl, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertCurrency(ctx context.Context, c *types.Currency) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO currencies (id, chain_id, address, symbol, name, decimals, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET symbol = EXCLUDED.symbol, name = EXCLUDED.name,
			decimals = EXCLUDED.decimals, is_active = EXCLUDED.is_active`,
		c.ID, c.ChainID, c.Address, c.Symbol, c.Name, c.Decimals, c.IsActive)
	if err != nil {
		return fmt.Errorf("upsert currency: %w", err)
	}
	return nil
}

func (p *Postgres) GetCurrency(ctx context.Context, chainID uint64, address string) (*types.Currency, error) {
	var c types.Currency
	err := p.db.QueryRow(ctx, `
		SELECT id, chain_id, address, symbol, name, decimals, is_active
		FROM currencies WHERE chain_id = $1 AND address = $2`,
		chainID, types.NormalizeAddress(address)).
		Scan(&c.ID, &c.ChainID, &c.Address, &c.Symbol, &c.Name, &c.Decimals, &c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get currency: %w", err)
	}
	return &c, nil
}

func (p *Postgres) ListCurrencies(ctx context.Context, chainID uint64) ([]*types.Currency, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, chain_id, address, symbol, name, decimals, is_active
		FROM currencies WHERE chain_id = $1 ORDER BY symbol`, chainID)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	defer rows.Close()

	var out []*types.Currency
	for rows.Next() {
		var c types.Currency
		if err := rows.Scan(&c.ID, &c.ChainID, &c.Address, &c.Symbol, &c.Name,
			&c.Decimals, &c.IsActive); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

const orderColumns = `id, chain_id, pool_address, order_id::text, "user", side, order_type,
	price::text, quantity::text, filled::text, status, expiry, created_ts, last_update_ts`

func scanOrder(row pgx.Row) (*types.Order, error) {
	var o types.Order
	var orderID, price, qty, filled string
	err := row.Scan(&o.ID, &o.ChainID, &o.PoolAddress, &orderID, &o.User, &o.Side,
		&o.Type, &price, &qty, &filled, &o.Status, &o.Expiry, &o.CreatedTs, &o.LastUpdateTs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.OrderID = parseBig(orderID).Uint64()
	o.Price = parseBig(price)
	o.Quantity = parseBig(qty)
	o.Filled = parseBig(filled)
	return &o, nil
}

func (p *Postgres) InsertOrder(ctx context.Context, o *types.Order) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO orders (id, chain_id, pool_address, order_id, "user", side, order_type,
			price, quantity, filled, status, expiry, created_ts, last_update_ts)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric,
			$11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.ChainID, o.PoolAddress, fmt.Sprint(o.OrderID), o.User, o.Side, o.Type,
		types.BigOrZero(o.Price).String(), types.BigOrZero(o.Quantity).String(),
		types.BigOrZero(o.Filled).String(), o.Status, o.Expiry, o.CreatedTs, o.LastUpdateTs)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	row := p.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// terminalStatuses is the SQL guard keeping terminal statuses absorbing.
const terminalStatuses = `('FILLED', 'CANCELLED', 'REJECTED', 'EXPIRED')`

func (p *Postgres) ApplyOrderFill(ctx context.Context, id string, qty *big.Int, ts int64) (*types.Order, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE orders SET
			filled = LEAST(filled + $2::numeric, quantity),
			status = CASE WHEN filled + $2::numeric >= quantity
				THEN 'FILLED' ELSE 'PARTIALLY_FILLED' END,
			last_update_ts = $3
		WHERE id = $1 AND status NOT IN `+terminalStatuses+`
		RETURNING `+orderColumns,
		id, types.BigOrZero(qty).String(), ts)
	o, err := scanOrder(row)
	if errors.Is(err, types.ErrNotFound) {
		// Terminal or missing: return the current row untouched.
		return p.GetOrder(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("apply order fill: %w", err)
	}
	return o, nil
}

func (p *Postgres) SetOrderStatus(ctx context.Context, id string, status types.OrderStatus, ts int64) (*types.Order, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE orders SET status = $2, last_update_ts = $3
		WHERE id = $1 AND status NOT IN `+terminalStatuses+`
		RETURNING `+orderColumns,
		id, status, ts)
	o, err := scanOrder(row)
	if errors.Is(err, types.ErrNotFound) {
		return p.GetOrder(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("set order status: %w", err)
	}
	return o, nil
}

func (p *Postgres) UpsertOrderHistory(ctx context.Context, h *types.OrderHistory) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO order_history (id, chain_id, pool_address, order_id, tx_hash, "user",
			side, price, quantity, filled, status, ts)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11, $12)
		ON CONFLICT (id) DO UPDATE SET filled = EXCLUDED.filled, status = EXCLUDED.status,
			ts = EXCLUDED.ts`,
		h.ID, h.ChainID, h.PoolAddress, fmt.Sprint(h.OrderID), h.TxHash, h.User, h.Side,
		types.BigOrZero(h.Price).String(), types.BigOrZero(h.Quantity).String(),
		types.BigOrZero(h.Filled).String(), h.Status, h.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert order history: %w", err)
	}
	return nil
}

func (p *Postgres) OpenOrders(ctx context.Context, chainID uint64, poolAddress, user string) ([]*types.Order, error) {
	return p.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE chain_id = $1 AND ($2 = '' OR pool_address = $2) AND "user" = $3
		  AND status IN ('OPEN', 'PARTIALLY_FILLED')
		ORDER BY created_ts DESC`,
		chainID, types.NormalizeAddress(poolAddress), types.NormalizeAddress(user))
}

func (p *Postgres) AllOrders(ctx context.Context, chainID uint64, poolAddress, user string, limit int) ([]*types.Order, error) {
	return p.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE chain_id = $1 AND ($2 = '' OR pool_address = $2) AND "user" = $3
		ORDER BY created_ts DESC LIMIT $4`,
		chainID, types.NormalizeAddress(poolAddress), types.NormalizeAddress(user), limit)
}

func (p *Postgres) queryOrders(ctx context.Context, sql string, args ...any) ([]*types.Order, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []*types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Depth
// ————————————————————————————————————————————————————————————————————————

func (p *Postgres) ApplyDepthDelta(ctx context.Context, poolAddress string, side types.Side, price, qtyDelta *big.Int, countDelta int, ts int64) error {
	insQty := types.BigOrZero(qtyDelta)
	if insQty.Sign() < 0 {
		insQty = new(big.Int)
	}
	insCount := countDelta
	if insCount < 0 {
		insCount = 0
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO depth_levels (pool_address, side, price, quantity, order_count, last_updated)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6)
		ON CONFLICT (pool_address, side, price) DO UPDATE SET
			quantity = GREATEST(depth_levels.quantity + $7::numeric, 0),
			order_count = GREATEST(depth_levels.order_count + $8, 0),
			last_updated = EXCLUDED.last_updated`,
		types.NormalizeAddress(poolAddress), side, types.BigOrZero(price).String(),
		insQty.String(), insCount, ts, types.BigOrZero(qtyDelta).String(), countDelta)
	if err != nil {
		return fmt.Errorf("apply depth delta: %w", err)
	}
	return nil
}

func (p *Postgres) DepthTopN(ctx context.Context, poolAddress string, limit int) (*DepthSnapshot, error) {
	snap := &DepthSnapshot{}
	var err error
	snap.Bids, err = p.queryDepth(ctx, poolAddress, types.Buy, "DESC", limit)
	if err != nil {
		return nil, err
	}
	snap.Asks, err = p.queryDepth(ctx, poolAddress, types.Sell, "ASC", limit)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (p *Postgres) queryDepth(ctx context.Context, poolAddress string, side types.Side, dir string, limit int) ([]*types.DepthLevel, error) {
	rows, err := p.db.Query(ctx, `
		SELECT pool_address, side, price::text, quantity::text, order_count, last_updated
		FROM depth_levels
		WHERE pool_address = $1 AND side = $2 AND quantity > 0
		ORDER BY price `+dir+` LIMIT $3`,
		types.NormalizeAddress(poolAddress), side, limit)
	if err != nil {
		return nil, fmt.Errorf("query depth: %w", err)
	}
	defer rows.Close()

	var out []*types.DepthLevel
	for rows.Next() {
		var lvl types.DepthLevel
		var price, qty string
		if err := rows.Scan(&lvl.PoolAddress, &lvl.Side, &price, &qty,
			&lvl.OrderCount, &lvl.LastUpdated); err != nil {
			return nil, err
		}
		lvl.Price = parseBig(price)
		lvl.Quantity = parseBig(qty)
		out = append(out, &lvl)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

func (p *Postgres) InsertTrade(ctx context.Context, t *types.Trade) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO trades (id, chain_id, pool_id, pool_address, order_id, tx_hash, "user",
			side, price, quantity, ts)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9::numeric, $10::numeric, $11)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.ChainID, t.PoolID, t.PoolAddress, fmt.Sprint(t.OrderID), t.TxHash, t.User,
		t.Side, types.BigOrZero(t.Price).String(), types.BigOrZero(t.Quantity).String(),
		t.Timestamp)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (p *Postgres) InsertOrderBookTrade(ctx context.Context, t *types.OrderBookTrade) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO orderbook_trades (id, chain_id, pool_address, buy_order_id,
			sell_order_id, taker_side, price, quantity, tx_hash, ts)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7::numeric, $8::numeric, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.ChainID, t.PoolAddress, fmt.Sprint(t.BuyOrderID), fmt.Sprint(t.SellOrderID),
		t.TakerSide, types.BigOrZero(t.Price).String(), types.BigOrZero(t.Quantity).String(),
		t.TxHash, t.Timestamp)
	if err != nil {
		return fmt.Errorf("insert orderbook trade: %w", err)
	}
	return nil
}

func (p *Postgres) HasOrderBookTrade(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orderbook_trades WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("orderbook trade lookup: %w", err)
	}
	return exists, nil
}

const obTradeColumns = `id, chain_id, pool_address, buy_order_id::text, sell_order_id::text,
	taker_side, price::text, quantity::text, tx_hash, ts`

func (p *Postgres) queryOBTrades(ctx context.Context, sql string, args ...any) ([]*types.OrderBookTrade, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query orderbook trades: %w", err)
	}
	defer rows.Close()

	var out []*types.OrderBookTrade
	for rows.Next() {
		var t types.OrderBookTrade
		var buyID, sellID, price, qty string
		if err := rows.Scan(&t.ID, &t.ChainID, &t.PoolAddress, &buyID, &sellID,
			&t.TakerSide, &price, &qty, &t.TxHash, &t.Timestamp); err != nil {
			return nil, err
		}
		t.BuyOrderID = parseBig(buyID).Uint64()
		t.SellOrderID = parseBig(sellID).Uint64()
		t.Price = parseBig(price)
		t.Quantity = parseBig(qty)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *Postgres) TradesSince(ctx context.Context, chainID uint64, poolAddress string, since int64) ([]*types.OrderBookTrade, error) {
	return p.queryOBTrades(ctx, `
		SELECT `+obTradeColumns+` FROM orderbook_trades
		WHERE chain_id = $1 AND pool_address = $2 AND ts >= $3
		ORDER BY ts ASC`,
		chainID, types.NormalizeAddress(poolAddress), since)
}

func (p *Postgres) RecentTrades(ctx context.Context, chainID uint64, poolAddress string, limit int) ([]*types.OrderBookTrade, error) {
	out, err := p.queryOBTrades(ctx, `
		SELECT `+obTradeColumns+` FROM orderbook_trades
		WHERE chain_id = $1 AND pool_address = $2
		ORDER BY ts DESC LIMIT $3`,
		chainID, types.NormalizeAddress(poolAddress), limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (p *Postgres) UserTrades(ctx context.Context, chainID uint64, poolAddress, user string, limit int) ([]*types.Trade, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, chain_id, pool_id, pool_address, order_id::text, tx_hash, "user", side,
			price::text, quantity::text, ts
		FROM trades
		WHERE chain_id = $1 AND ($2 = '' OR pool_address = $2) AND "user" = $3
		ORDER BY ts DESC LIMIT $4`,
		chainID, types.NormalizeAddress(poolAddress), types.NormalizeAddress(user), limit)
	if err != nil {
		return nil, fmt.Errorf("query user trades: %w", err)
	}
	defer rows.Close()

	var out []*types.Trade
	for rows.Next() {
		var t types.Trade
		var orderID, price, qty string
		if err := rows.Scan(&t.ID, &t.ChainID, &t.PoolID, &t.PoolAddress, &orderID,
			&t.TxHash, &t.User, &t.Side, &price, &qty, &t.Timestamp); err != nil {
			return nil, err
		}
		t.OrderID = parseBig(orderID).Uint64()
		t.Price = parseBig(price)
		t.Quantity = parseBig(qty)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ————————————————————————————————————————————————————————————————————————
// Buckets
// ————————————————————————————————————————————————————————————————————————

const bucketColumns = `id, chain_id, pool_address, interval_s, open_time, close_time,
	open::text, high::text, low::text, close::text, average::text, count,
	volume::text, quote_volume::text, taker_buy_base_volume::text, taker_buy_quote_volume::text`

func scanBucket(row pgx.Row) (*types.Bucket, error) {
	var b types.Bucket
	var interval int64
	var open, high, low, closeP, avg, vol, quoteVol, tbBase, tbQuote string
	err := row.Scan(&b.ID, &b.ChainID, &b.PoolAddress, &interval, &b.OpenTime, &b.CloseTime,
		&open, &high, &low, &closeP, &avg, &b.Count, &vol, &quoteVol, &tbBase, &tbQuote)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Interval = types.Interval(interval)
	b.Open = parseBig(open)
	b.High = parseBig(high)
	b.Low = parseBig(low)
	b.Close = parseBig(closeP)
	b.Average = parseDec(avg)
	b.Volume = parseDec(vol)
	b.QuoteVolume = parseDec(quoteVol)
	b.TakerBuyBaseVolume = parseDec(tbBase)
	b.TakerBuyQuoteVolume = parseDec(tbQuote)
	return &b, nil
}

func (p *Postgres) ApplyBucketTrade(ctx context.Context, b *types.Bucket) (*types.Bucket, error) {
	row := p.db.QueryRow(ctx, `
		INSERT INTO buckets (id, chain_id, pool_address, interval_s, open_time, close_time,
			open, high, low, close, average, count, volume, quote_volume,
			taker_buy_base_volume, taker_buy_quote_volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11::numeric, 1, $12::numeric, $13::numeric, $14::numeric, $15::numeric)
		ON CONFLICT (id) DO UPDATE SET
			close = EXCLUDED.close,
			high = GREATEST(buckets.high, EXCLUDED.close),
			low = LEAST(buckets.low, EXCLUDED.close),
			average = (buckets.average * buckets.count + EXCLUDED.close) / (buckets.count + 1),
			count = buckets.count + 1,
			volume = buckets.volume + EXCLUDED.volume,
			quote_volume = buckets.quote_volume + EXCLUDED.quote_volume,
			taker_buy_base_volume = buckets.taker_buy_base_volume + EXCLUDED.taker_buy_base_volume,
			taker_buy_quote_volume = buckets.taker_buy_quote_volume + EXCLUDED.taker_buy_quote_volume
		RETURNING `+bucketColumns,
		b.ID, b.ChainID, b.PoolAddress, int64(b.Interval), b.OpenTime, b.CloseTime,
		types.BigOrZero(b.Open).String(), types.BigOrZero(b.High).String(),
		types.BigOrZero(b.Low).String(), types.BigOrZero(b.Close).String(),
		b.Average.String(), b.Volume.String(), b.QuoteVolume.String(),
		b.TakerBuyBaseVolume.String(), b.TakerBuyQuoteVolume.String())
	out, err := scanBucket(row)
	if err != nil {
		return nil, fmt.Errorf("apply bucket trade: %w", err)
	}
	return out, nil
}

func (p *Postgres) Klines(ctx context.Context, chainID uint64, poolAddress string, interval types.Interval, limit int, startTime, endTime int64) ([]*types.Bucket, error) {
	sql := `SELECT ` + bucketColumns + ` FROM buckets
		WHERE chain_id = $1 AND pool_address = $2 AND interval_s = $3`
	args := []any{chainID, types.NormalizeAddress(poolAddress), int64(interval)}
	if startTime > 0 {
		args = append(args, startTime)
		sql += fmt.Sprintf(" AND open_time >= $%d", len(args))
	}
	if endTime > 0 {
		args = append(args, endTime)
		sql += fmt.Sprintf(" AND open_time <= $%d", len(args))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(" ORDER BY open_time DESC LIMIT $%d", len(args))

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query klines: %w", err)
	}
	defer rows.Close()

	var out []*types.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Balances
// ————————————————————————————————————————————————————————————————————————

func (p *Postgres) ApplyBalanceDelta(ctx context.Context, chainID uint64, user, currency string, availableDelta, lockedDelta *big.Int, ts int64) (*types.Balance, error) {
	insAvail := types.BigOrZero(availableDelta)
	if insAvail.Sign() < 0 {
		insAvail = new(big.Int)
	}
	insLocked := types.BigOrZero(lockedDelta)
	if insLocked.Sign() < 0 {
		insLocked = new(big.Int)
	}

	var b types.Balance
	var avail, locked string
	err := p.db.QueryRow(ctx, `
		INSERT INTO balances (id, chain_id, "user", currency, available, locked, last_updated)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		ON CONFLICT (id) DO UPDATE SET
			available = GREATEST(balances.available + $8::numeric, 0),
			locked = GREATEST(balances.locked + $9::numeric, 0),
			last_updated = EXCLUDED.last_updated
		RETURNING id, chain_id, "user", currency, available::text, locked::text, last_updated`,
		types.BalanceID(chainID, user, currency), chainID, types.NormalizeAddress(user),
		types.NormalizeAddress(currency), insAvail.String(), insLocked.String(), ts,
		types.BigOrZero(availableDelta).String(), types.BigOrZero(lockedDelta).String()).
		Scan(&b.ID, &b.ChainID, &b.User, &b.Currency, &avail, &locked, &b.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("apply balance delta: %w", err)
	}
	b.Available = parseBig(avail)
	b.Locked = parseBig(locked)
	return &b, nil
}

func (p *Postgres) Balances(ctx context.Context, chainID uint64, user string) ([]*types.Balance, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, chain_id, "user", currency, available::text, locked::text, last_updated
		FROM balances WHERE chain_id = $1 AND "user" = $2 ORDER BY currency`,
		chainID, types.NormalizeAddress(user))
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var out []*types.Balance
	for rows.Next() {
		var b types.Balance
		var avail, locked string
		if err := rows.Scan(&b.ID, &b.ChainID, &b.User, &b.Currency, &avail, &locked,
			&b.LastUpdated); err != nil {
			return nil, err
		}
		b.Available = parseBig(avail)
		b.Locked = parseBig(locked)
		out = append(out, &b)
	}
	return out, rows.Err()
}

// Ping verifies database connectivity for the health endpoint.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
