// Package store provides typed persistence for the market-data entities:
// pools, orders, depth levels, trades, candlestick buckets, balances and
// currencies.
//
// Two implementations share one interface: Postgres (pgx) for production and
// Memory for tests and local development. Upserts encode the accumulation
// semantics directly (depth quantity is additive on insert-conflict, buckets
// merge OHLC on conflict), so event handlers stay thin reducers.
package store

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"

	"clobfeed/pkg/types"
)

// DepthSnapshot is the top-N view of one pool's resting book: bids descending
// by price, asks ascending, zero-quantity levels excluded.
type DepthSnapshot struct {
	Bids []*types.DepthLevel
	Asks []*types.DepthLevel
}

// PoolMatch carries the per-match pool rollup applied on OrderMatched.
type PoolMatch struct {
	LastPrice   *big.Int
	BaseVolume  decimal.Decimal // raw base units
	QuoteVolume decimal.Decimal // qty*price scaled by baseDecimals
	Timestamp   int64
}

// Store is the entity store adapter. All monetary values are exact: raw
// quantities as big integers, scaled volumes as decimals.
type Store interface {
	// WithTx runs fn against a Store whose writes commit together when fn
	// returns nil and roll back otherwise. The in-process implementation
	// applies writes directly; callers needing retry safety pair it with a
	// replay guard.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Pools and currencies
	InsertPool(ctx context.Context, p *types.Pool) error // conflict = no-op
	ApplyPoolMatch(ctx context.Context, poolID string, m PoolMatch) error
	GetPool(ctx context.Context, chainID uint64, address string) (*types.Pool, error)
	GetPoolBySymbol(ctx context.Context, chainID uint64, symbol string) (*types.Pool, error)
	ListPools(ctx context.Context, chainID uint64) ([]*types.Pool, error)
	UpsertCurrency(ctx context.Context, c *types.Currency) error
	GetCurrency(ctx context.Context, chainID uint64, address string) (*types.Currency, error)
	ListCurrencies(ctx context.Context, chainID uint64) ([]*types.Currency, error)

	// Orders
	InsertOrder(ctx context.Context, o *types.Order) error // conflict = no-op
	GetOrder(ctx context.Context, id string) (*types.Order, error)
	ApplyOrderFill(ctx context.Context, id string, qty *big.Int, ts int64) (*types.Order, error)
	SetOrderStatus(ctx context.Context, id string, status types.OrderStatus, ts int64) (*types.Order, error)
	UpsertOrderHistory(ctx context.Context, h *types.OrderHistory) error // conflict = overwrite
	// An empty poolAddress spans every pool on the chain.
	OpenOrders(ctx context.Context, chainID uint64, poolAddress, user string) ([]*types.Order, error)
	AllOrders(ctx context.Context, chainID uint64, poolAddress, user string, limit int) ([]*types.Order, error)

	// Depth
	ApplyDepthDelta(ctx context.Context, poolAddress string, side types.Side, price, qtyDelta *big.Int, countDelta int, ts int64) error
	DepthTopN(ctx context.Context, poolAddress string, limit int) (*DepthSnapshot, error)

	// Trades
	InsertTrade(ctx context.Context, t *types.Trade) error                   // conflict = no-op
	InsertOrderBookTrade(ctx context.Context, t *types.OrderBookTrade) error // conflict = no-op
	HasOrderBookTrade(ctx context.Context, id string) (bool, error)
	TradesSince(ctx context.Context, chainID uint64, poolAddress string, since int64) ([]*types.OrderBookTrade, error)
	RecentTrades(ctx context.Context, chainID uint64, poolAddress string, limit int) ([]*types.OrderBookTrade, error)
	UserTrades(ctx context.Context, chainID uint64, poolAddress, user string, limit int) ([]*types.Trade, error)

	// Candlestick buckets
	ApplyBucketTrade(ctx context.Context, b *types.Bucket) (*types.Bucket, error)
	Klines(ctx context.Context, chainID uint64, poolAddress string, interval types.Interval, limit int, startTime, endTime int64) ([]*types.Bucket, error)

	// Balances
	ApplyBalanceDelta(ctx context.Context, chainID uint64, user, currency string, availableDelta, lockedDelta *big.Int, ts int64) (*types.Balance, error)
	Balances(ctx context.Context, chainID uint64, user string) ([]*types.Balance, error)

	Ping(ctx context.Context) error
}
