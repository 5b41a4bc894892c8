// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the service: entities persisted
// in the relational store (pools, orders, depth levels, trades, candlestick
// buckets, balances, currencies), the decoded blockchain event contract
// supplied by the indexer, and the derived identifiers used as primary keys.
// It has no dependencies on internal packages, so it can be imported by any
// layer.
package types

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: Buy or Sell.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// OrderStatus is the lifecycle state of an order. Terminal statuses are
// absorbing: once an order is Filled, Cancelled, Rejected or Expired it never
// transitions again.
type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Candlestick intervals
// ————————————————————————————————————————————————————————————————————————

// Interval is a fixed candlestick bucket width in seconds.
type Interval int64

const (
	Interval1m  Interval = 60
	Interval5m  Interval = 300
	Interval30m Interval = 1800
	Interval1h  Interval = 3600
	Interval1d  Interval = 86400
)

// Intervals lists every bucket width the aggregator maintains, ascending.
var Intervals = []Interval{Interval1m, Interval5m, Interval30m, Interval1h, Interval1d}

// Name returns the wire name of the interval ("1m", "5m", "30m", "1h", "1d").
func (i Interval) Name() string {
	switch i {
	case Interval1m:
		return "1m"
	case Interval5m:
		return "5m"
	case Interval30m:
		return "30m"
	case Interval1h:
		return "1h"
	case Interval1d:
		return "1d"
	}
	return ""
}

// ParseInterval resolves a wire name back to an interval.
func ParseInterval(name string) (Interval, bool) {
	for _, i := range Intervals {
		if i.Name() == name {
			return i, true
		}
	}
	return 0, false
}

// OpenTime returns the bucket open time containing ts (unix seconds).
func (i Interval) OpenTime(ts int64) int64 { return ts - ts%int64(i) }

// CloseTime returns the inclusive bucket close time for the given open time.
func (i Interval) CloseTime(openTime int64) int64 { return openTime + int64(i) - 1 }

// ————————————————————————————————————————————————————————————————————————
// Entities
// ————————————————————————————————————————————————————————————————————————

// Pool is one on-chain trading pair. Created on PoolCreated, never deleted.
// Cumulative volumes and last price advance on every match.
type Pool struct {
	ID            string // hash(chainID, poolAddress)
	ChainID       uint64
	Address       string // pool contract address, lowercased hex
	OrderBook     string // order book contract address
	BaseCurrency  string // base token address
	QuoteCurrency string // quote token address
	BaseSymbol    string
	QuoteSymbol   string
	BaseDecimals  int
	QuoteDecimals int
	Volume        decimal.Decimal // cumulative base volume, raw base units
	VolumeInQuote decimal.Decimal // cumulative quote volume, scaled by baseDecimals
	LastPrice     *big.Int        // raw quote units, nil until first match
	LastUpdateTs  int64           // unix seconds
}

// Symbol is the lowercase concatenation of base and quote symbols,
// e.g. "wethusdc". It is the public name used on the wire and in REST.
func (p *Pool) Symbol() string {
	return strings.ToLower(p.BaseSymbol + p.QuoteSymbol)
}

// Order is one on-chain order keyed by hash(chainID, poolAddress, orderID).
//
// Invariants: 0 <= Filled <= Quantity; Status == Filled iff Filled == Quantity;
// terminal statuses are absorbing.
type Order struct {
	ID           string
	ChainID      uint64
	PoolAddress  string
	OrderID      uint64 // on-chain order id
	User         string
	Side         Side
	Type         OrderType
	Price        *big.Int
	Quantity     *big.Int
	Filled       *big.Int
	Status       OrderStatus
	Expiry       int64
	CreatedTs    int64
	LastUpdateTs int64
}

// Remaining returns Quantity - Filled (the open amount resting on the book).
func (o *Order) Remaining() *big.Int {
	return new(big.Int).Sub(BigOrZero(o.Quantity), BigOrZero(o.Filled))
}

// OrderHistory is one append-only status/fill transition of an order,
// keyed by hash(chainID, poolAddress, orderID, txHash, filledAtEvent).
type OrderHistory struct {
	ID          string
	ChainID     uint64
	PoolAddress string
	OrderID     uint64
	TxHash      string
	User        string
	Side        Side
	Price       *big.Int
	Quantity    *big.Int
	Filled      *big.Int // cumulative fill at this transition
	Status      OrderStatus
	Timestamp   int64
}

// DepthLevel is the aggregated open quantity at one (pool, side, price).
// Quantity and OrderCount never go negative; a zero-quantity level is treated
// as absent by all reads.
type DepthLevel struct {
	PoolAddress string
	Side        Side
	Price       *big.Int
	Quantity    *big.Int
	OrderCount  int
	LastUpdated int64
}

// Trade is one fill from the perspective of one side. A single on-chain match
// produces two Trade rows (buy side and sell side).
type Trade struct {
	ID          string // hash(chainID, txHash, user, side, buyOrderID, sellOrderID, price, qty)
	ChainID     uint64
	PoolID      string
	PoolAddress string
	OrderID     uint64 // this side's on-chain order id
	TxHash      string
	User        string
	Side        Side
	Price       *big.Int
	Quantity    *big.Int
	Timestamp   int64
}

// OrderBookTrade is the flat per-match projection used for time-series reads
// (24h tickers, recent trades). One row per match.
type OrderBookTrade struct {
	ID          string
	ChainID     uint64
	PoolAddress string
	BuyOrderID  uint64
	SellOrderID uint64
	TakerSide   Side // side of the incoming (taker) order
	Price       *big.Int
	Quantity    *big.Int
	TxHash      string
	Timestamp   int64
}

// Bucket is one candlestick at a fixed interval, keyed by
// hash(chainID, poolAddress, interval, openTime).
//
// Invariants: Low <= Open, Close, Average <= High; Count >= 1;
// Average is the arithmetic mean of all trade prices folded in.
type Bucket struct {
	ID                  string
	ChainID             uint64
	PoolAddress         string
	Interval            Interval
	OpenTime            int64 // unix seconds
	CloseTime           int64 // openTime + interval - 1
	Open                *big.Int
	High                *big.Int
	Low                 *big.Int
	Close               *big.Int
	Average             decimal.Decimal
	Count               int64
	Volume              decimal.Decimal // base volume, scaled by baseDecimals
	QuoteVolume         decimal.Decimal
	TakerBuyBaseVolume  decimal.Decimal
	TakerBuyQuoteVolume decimal.Decimal
}

// Balance is one (chainID, user, currency) account row.
// Available and Locked never go negative.
type Balance struct {
	ID          string
	ChainID     uint64
	User        string
	Currency    string // token address
	Available   *big.Int
	Locked      *big.Int
	LastUpdated int64
}

// Currency is one known token on a chain.
type Currency struct {
	ID       string
	ChainID  uint64
	Address  string
	Symbol   string
	Name     string
	Decimals int
	IsActive bool
}

// ————————————————————————————————————————————————————————————————————————
// Error kinds
// ————————————————————————————————————————————————————————————————————————

// Sentinel error kinds shared across the pipeline. Callers match with
// errors.Is; handlers wrap them with event context.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownPool    = errors.New("unknown pool")
	ErrUnknownOrder   = errors.New("unknown order")
	ErrSymbolUnknown  = errors.New("unknown symbol")
	ErrStoreConflict  = errors.New("store conflict")
	ErrNotFound       = errors.New("not found")
)

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

// NormalizeAddress lowercases a hex address, round-tripping through
// go-ethereum's address type so mixed-case input normalizes predictably.
func NormalizeAddress(addr string) string {
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(addr)
}

// BigOrZero returns v, or a zero big.Int when v is nil. Store adapters use it
// so arithmetic never trips on absent values.
func BigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
