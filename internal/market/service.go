// Package market is the REST read side: it resolves public symbols to pools
// and shapes store reads into the response views the HTTP layer returns.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"clobfeed/internal/store"
	"clobfeed/pkg/types"
)

// DefaultDepthLimit bounds depth responses when the client does not ask for
// a specific number of levels.
const DefaultDepthLimit = 20

// MaxDepthLimit caps the levels a client may request.
const MaxDepthLimit = 100

// Service answers market-data queries against the entity store.
type Service struct {
	store   store.Store
	chainID uint64
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a market read service for one chain namespace.
func NewService(st store.Store, chainID uint64, logger *slog.Logger) *Service {
	return &Service{
		store:   st,
		chainID: chainID,
		logger:  logger.With("component", "market"),
		now:     time.Now,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Response views
// ————————————————————————————————————————————————————————————————————————

// Pair is one tradable pair listing.
type Pair struct {
	Symbol        string `json:"symbol"`
	PoolAddress   string `json:"poolAddress"`
	BaseAsset     string `json:"baseAsset"`
	QuoteAsset    string `json:"quoteAsset"`
	BaseDecimals  int    `json:"baseDecimals"`
	QuoteDecimals int    `json:"quoteDecimals"`
	LastPrice     string `json:"lastPrice"`
	Volume        string `json:"volume"`
	QuoteVolume   string `json:"quoteVolume"`
}

// Depth is the order-book snapshot view: price levels as [price, quantity]
// decimal-string pairs, bids descending and asks ascending.
type Depth struct {
	Symbol    string      `json:"symbol"`
	Bids      [][2]string `json:"bids"`
	Asks      [][2]string `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

// Ticker is the rolling 24-hour statistics view, computed over the trades of
// the last 24 hours at query time.
type Ticker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	TradeCount         int64  `json:"tradeCount"`
}

// Price is the last-trade price view.
type Price struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Kline is one candlestick view.
type Kline struct {
	Interval      string `json:"interval"`
	OpenTime      int64  `json:"openTime"`
	CloseTime     int64  `json:"closeTime"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Average       string `json:"average"`
	TradeCount    int64  `json:"tradeCount"`
	Volume        string `json:"volume"`
	QuoteVolume   string `json:"quoteVolume"`
	TakerBuyBase  string `json:"takerBuyBaseVolume"`
	TakerBuyQuote string `json:"takerBuyQuoteVolume"`
}

// TradeView is one public trade.
type TradeView struct {
	ID           string `json:"id"`
	Price        string `json:"price"`
	Quantity     string `json:"qty"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
	Timestamp    int64  `json:"time"`
	TxHash       string `json:"txHash"`
}

// OrderView is one order as returned to its owner.
type OrderView struct {
	OrderID   uint64 `json:"orderId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	Quantity  string `json:"origQty"`
	Filled    string `json:"executedQty"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"time"`
	UpdatedAt int64  `json:"updateTime"`
}

// CurrencyView is one registered currency.
type CurrencyView struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	IsActive bool   `json:"isActive"`
}

// BalanceView is one asset row of a user's account.
type BalanceView struct {
	Currency  string `json:"currency"`
	Asset     string `json:"asset"`
	Available string `json:"free"`
	Locked    string `json:"locked"`
}

// ————————————————————————————————————————————————————————————————————————
// Queries
// ————————————————————————————————————————————————————————————————————————

// Resolve maps a public symbol to its pool.
func (s *Service) Resolve(ctx context.Context, symbol string) (*types.Pool, error) {
	pool, err := s.store.GetPoolBySymbol(ctx, s.chainID, symbol)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrSymbolUnknown, symbol)
	}
	return pool, err
}

// Pairs lists every registered pair.
func (s *Service) Pairs(ctx context.Context) ([]Pair, error) {
	pools, err := s.store.ListPools(ctx, s.chainID)
	if err != nil {
		return nil, err
	}
	out := make([]Pair, 0, len(pools))
	for _, p := range pools {
		out = append(out, Pair{
			Symbol:        p.Symbol(),
			PoolAddress:   p.Address,
			BaseAsset:     p.BaseSymbol,
			QuoteAsset:    p.QuoteSymbol,
			BaseDecimals:  p.BaseDecimals,
			QuoteDecimals: p.QuoteDecimals,
			LastPrice:     types.BigOrZero(p.LastPrice).String(),
			Volume:        p.Volume.String(),
			QuoteVolume:   p.VolumeInQuote.String(),
		})
	}
	return out, nil
}

// Currencies lists every registered currency.
func (s *Service) Currencies(ctx context.Context) ([]CurrencyView, error) {
	rows, err := s.store.ListCurrencies(ctx, s.chainID)
	if err != nil {
		return nil, err
	}
	out := make([]CurrencyView, 0, len(rows))
	for _, c := range rows {
		out = append(out, currencyView(c))
	}
	return out, nil
}

// Currency returns one currency by token address.
func (s *Service) Currency(ctx context.Context, address string) (*CurrencyView, error) {
	c, err := s.store.GetCurrency(ctx, s.chainID, types.NormalizeAddress(address))
	if err != nil {
		return nil, err
	}
	v := currencyView(c)
	return &v, nil
}

func currencyView(c *types.Currency) CurrencyView {
	return CurrencyView{
		Address:  c.Address,
		Symbol:   c.Symbol,
		Name:     c.Name,
		Decimals: c.Decimals,
		IsActive: c.IsActive,
	}
}

// Depth returns the top-of-book snapshot for a symbol.
func (s *Service) Depth(ctx context.Context, symbol string, limit int) (*Depth, error) {
	pool, err := s.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultDepthLimit
	}
	if limit > MaxDepthLimit {
		limit = MaxDepthLimit
	}
	snap, err := s.store.DepthTopN(ctx, pool.Address, limit)
	if err != nil {
		return nil, err
	}
	return &Depth{
		Symbol:    pool.Symbol(),
		Bids:      levelPairs(snap.Bids),
		Asks:      levelPairs(snap.Asks),
		Timestamp: s.now().Unix(),
	}, nil
}

func levelPairs(levels []*types.DepthLevel) [][2]string {
	out := make([][2]string, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, [2]string{lvl.Price.String(), lvl.Quantity.String()})
	}
	return out
}

// Ticker computes rolling 24-hour statistics from the trades of the last
// 24 hours. With no trades in the window it falls back to the pool's last
// price with zeroed change and volume.
func (s *Service) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	pool, err := s.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	since := s.now().Add(-24 * time.Hour).Unix()
	trades, err := s.store.TradesSince(ctx, s.chainID, pool.Address, since)
	if err != nil {
		return nil, err
	}

	t := &Ticker{
		Symbol:             pool.Symbol(),
		LastPrice:          types.BigOrZero(pool.LastPrice).String(),
		OpenPrice:          "0",
		HighPrice:          "0",
		LowPrice:           "0",
		PriceChange:        "0",
		PriceChangePercent: "0",
		Volume:             "0",
		QuoteVolume:        "0",
	}
	if len(trades) == 0 {
		return t, nil
	}

	open := trades[0].Price
	last := trades[len(trades)-1].Price
	high, low := new(big.Int).Set(open), new(big.Int).Set(open)
	volume := new(big.Int)
	quote := decimal.Zero
	for _, tr := range trades {
		if tr.Price.Cmp(high) > 0 {
			high.Set(tr.Price)
		}
		if tr.Price.Cmp(low) < 0 {
			low.Set(tr.Price)
		}
		volume.Add(volume, tr.Quantity)
		notional := new(big.Int).Mul(tr.Quantity, tr.Price)
		quote = quote.Add(store.ScaleBig(notional, pool.BaseDecimals))
	}
	change := new(big.Int).Sub(last, open)

	t.LastPrice = last.String()
	t.OpenPrice = open.String()
	t.HighPrice = high.String()
	t.LowPrice = low.String()
	t.PriceChange = change.String()
	if open.Sign() != 0 {
		pct := decimal.NewFromBigInt(change, 0).
			Div(decimal.NewFromBigInt(open, 0)).
			Mul(decimal.NewFromInt(100)).
			Round(4)
		t.PriceChangePercent = pct.String()
	}
	t.Volume = volume.String()
	t.QuoteVolume = quote.String()
	t.TradeCount = int64(len(trades))
	return t, nil
}

// Price returns the last-trade price for a symbol.
func (s *Service) Price(ctx context.Context, symbol string) (*Price, error) {
	pool, err := s.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &Price{Symbol: pool.Symbol(), Price: types.BigOrZero(pool.LastPrice).String()}, nil
}

// Klines returns candlesticks for a symbol and interval, ascending by open
// time.
func (s *Service) Klines(ctx context.Context, symbol string, interval types.Interval, limit int, startTime, endTime int64) ([]Kline, error) {
	pool, err := s.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	buckets, err := s.store.Klines(ctx, s.chainID, pool.Address, interval, limit, startTime, endTime)
	if err != nil {
		return nil, err
	}
	out := make([]Kline, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, Kline{
			Interval:      b.Interval.Name(),
			OpenTime:      b.OpenTime,
			CloseTime:     b.CloseTime,
			Open:          b.Open.String(),
			High:          b.High.String(),
			Low:           b.Low.String(),
			Close:         b.Close.String(),
			Average:       b.Average.String(),
			TradeCount:    b.Count,
			Volume:        b.Volume.String(),
			QuoteVolume:   b.QuoteVolume.String(),
			TakerBuyBase:  b.TakerBuyBaseVolume.String(),
			TakerBuyQuote: b.TakerBuyQuoteVolume.String(),
		})
	}
	return out, nil
}

// RecentTrades returns the newest public trades for a symbol, newest first.
func (s *Service) RecentTrades(ctx context.Context, symbol string, limit int) ([]TradeView, error) {
	pool, err := s.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	trades, err := s.store.RecentTrades(ctx, s.chainID, pool.Address, limit)
	if err != nil {
		return nil, err
	}
	out := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeView{
			ID:           t.ID,
			Price:        t.Price.String(),
			Quantity:     t.Quantity.String(),
			IsBuyerMaker: t.TakerSide == types.Sell,
			Timestamp:    t.Timestamp,
			TxHash:       t.TxHash,
		})
	}
	return out, nil
}

// OpenOrders returns a user's open orders, optionally scoped to one symbol.
func (s *Service) OpenOrders(ctx context.Context, symbol, user string) ([]OrderView, error) {
	poolAddress, symbols, err := s.scope(ctx, symbol)
	if err != nil {
		return nil, err
	}
	orders, err := s.store.OpenOrders(ctx, s.chainID, poolAddress, types.NormalizeAddress(user))
	if err != nil {
		return nil, err
	}
	return orderViews(orders, symbols), nil
}

// Orders returns a user's orders in any status, optionally scoped to one
// symbol, newest first.
func (s *Service) Orders(ctx context.Context, symbol, user string, limit int) ([]OrderView, error) {
	poolAddress, symbols, err := s.scope(ctx, symbol)
	if err != nil {
		return nil, err
	}
	orders, err := s.store.AllOrders(ctx, s.chainID, poolAddress, types.NormalizeAddress(user), limit)
	if err != nil {
		return nil, err
	}
	return orderViews(orders, symbols), nil
}

// UserTrades returns a user's fills, optionally scoped to one symbol.
func (s *Service) UserTrades(ctx context.Context, symbol, user string, limit int) ([]TradeView, error) {
	poolAddress := ""
	if symbol != "" {
		pool, err := s.Resolve(ctx, symbol)
		if err != nil {
			return nil, err
		}
		poolAddress = pool.Address
	}
	trades, err := s.store.UserTrades(ctx, s.chainID, poolAddress, types.NormalizeAddress(user), limit)
	if err != nil {
		return nil, err
	}
	out := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeView{
			ID:        t.ID,
			Price:     t.Price.String(),
			Quantity:  t.Quantity.String(),
			Timestamp: t.Timestamp,
			TxHash:    t.TxHash,
		})
	}
	return out, nil
}

// Balances returns every asset row of a user's account.
func (s *Service) Balances(ctx context.Context, user string) ([]BalanceView, error) {
	rows, err := s.store.Balances(ctx, s.chainID, types.NormalizeAddress(user))
	if err != nil {
		return nil, err
	}
	out := make([]BalanceView, 0, len(rows))
	for _, b := range rows {
		asset := b.Currency
		if c, err := s.store.GetCurrency(ctx, s.chainID, b.Currency); err == nil {
			asset = c.Symbol
		}
		out = append(out, BalanceView{
			Currency:  b.Currency,
			Asset:     asset,
			Available: types.BigOrZero(b.Available).String(),
			Locked:    types.BigOrZero(b.Locked).String(),
		})
	}
	return out, nil
}

// scope resolves an optional symbol filter to a pool address and a symbol
// lookup table for response shaping.
func (s *Service) scope(ctx context.Context, symbol string) (string, map[string]string, error) {
	symbols := make(map[string]string)
	if symbol != "" {
		pool, err := s.Resolve(ctx, symbol)
		if err != nil {
			return "", nil, err
		}
		symbols[pool.Address] = pool.Symbol()
		return pool.Address, symbols, nil
	}
	pools, err := s.store.ListPools(ctx, s.chainID)
	if err != nil {
		return "", nil, err
	}
	for _, p := range pools {
		symbols[p.Address] = p.Symbol()
	}
	return "", symbols, nil
}

func orderViews(orders []*types.Order, symbols map[string]string) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderView{
			OrderID:   o.OrderID,
			Symbol:    symbols[o.PoolAddress],
			Side:      string(o.Side),
			Type:      string(o.Type),
			Price:     types.BigOrZero(o.Price).String(),
			Quantity:  types.BigOrZero(o.Quantity).String(),
			Filled:    types.BigOrZero(o.Filled).String(),
			Status:    string(o.Status),
			CreatedAt: o.CreatedTs,
			UpdatedAt: o.LastUpdateTs,
		})
	}
	return out
}
