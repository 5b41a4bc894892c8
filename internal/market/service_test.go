package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"clobfeed/internal/store"
	"clobfeed/pkg/types"
)

const (
	testChain = uint64(31337)
	testPool  = "0x00000000000000000000000000000000000000aa"
	testUser  = "0x00000000000000000000000000000000000000bb"
)

// fixedNow keeps 24h window math deterministic.
var fixedNow = time.Unix(1_700_000_000, 0)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	svc := NewService(st, testChain, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return fixedNow }

	pool := &types.Pool{
		ID:            types.PoolID(testChain, testPool),
		ChainID:       testChain,
		Address:       testPool,
		BaseSymbol:    "WETH",
		QuoteSymbol:   "USDC",
		BaseDecimals:  0,
		QuoteDecimals: 0,
		LastPrice:     big.NewInt(105),
		Volume:        decimal.NewFromInt(500),
		VolumeInQuote: decimal.NewFromInt(50000),
	}
	if err := st.InsertPool(context.Background(), pool); err != nil {
		t.Fatalf("InsertPool: %v", err)
	}
	return svc, st
}

func seedTrade(t *testing.T, st *store.Memory, price, qty, ts int64, taker types.Side) {
	t.Helper()
	tr := &types.OrderBookTrade{
		ID:          types.TradeID(testChain, "0xtx", testUser, taker, uint64(ts), 2, big.NewInt(price), big.NewInt(qty)),
		ChainID:     testChain,
		PoolAddress: testPool,
		TakerSide:   taker,
		Price:       big.NewInt(price),
		Quantity:    big.NewInt(qty),
		TxHash:      "0xtx",
		Timestamp:   ts,
	}
	if err := st.InsertOrderBookTrade(context.Background(), tr); err != nil {
		t.Fatalf("InsertOrderBookTrade: %v", err)
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	_, err := svc.Resolve(context.Background(), "dogeusdt")
	if !errors.Is(err, types.ErrSymbolUnknown) {
		t.Errorf("err = %v, want ErrSymbolUnknown", err)
	}
}

func TestPairs(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	pairs, err := svc.Pairs(context.Background())
	if err != nil {
		t.Fatalf("Pairs: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("pairs = %d, want 1", len(pairs))
	}
	p := pairs[0]
	if p.Symbol != "wethusdc" || p.LastPrice != "105" || p.Volume != "500" {
		t.Errorf("pair = %+v", p)
	}
}

func TestDepthLimitClamps(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()
	for i := int64(1); i <= 30; i++ {
		st.ApplyDepthDelta(ctx, testPool, types.Buy, big.NewInt(100-i), big.NewInt(1), 1, 0)
	}

	depth, err := svc.Depth(ctx, "wethusdc", 0)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if len(depth.Bids) != DefaultDepthLimit {
		t.Errorf("default limit = %d, want %d", len(depth.Bids), DefaultDepthLimit)
	}
	depth, _ = svc.Depth(ctx, "wethusdc", 1000)
	if len(depth.Bids) != 30 {
		t.Errorf("clamped request returned %d levels", len(depth.Bids))
	}
	// Best bid first.
	if depth.Bids[0][0] != "99" {
		t.Errorf("best bid = %q", depth.Bids[0][0])
	}
}

func TestTicker24h(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	now := fixedNow.Unix()

	// Outside the 24h window: ignored.
	seedTrade(t, st, 50, 1, now-25*3600, types.Buy)
	// Inside, in time order.
	seedTrade(t, st, 100, 2, now-3600, types.Buy)
	seedTrade(t, st, 120, 1, now-1800, types.Sell)
	seedTrade(t, st, 110, 3, now-60, types.Buy)

	ticker, err := svc.Ticker(context.Background(), "wethusdc")
	if err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if ticker.OpenPrice != "100" || ticker.LastPrice != "110" {
		t.Errorf("open/last = %s/%s", ticker.OpenPrice, ticker.LastPrice)
	}
	if ticker.HighPrice != "120" || ticker.LowPrice != "100" {
		t.Errorf("high/low = %s/%s", ticker.HighPrice, ticker.LowPrice)
	}
	if ticker.PriceChange != "10" || ticker.PriceChangePercent != "10" {
		t.Errorf("change = %s (%s%%)", ticker.PriceChange, ticker.PriceChangePercent)
	}
	if ticker.Volume != "6" {
		t.Errorf("volume = %s, want 6", ticker.Volume)
	}
	// 2*100 + 1*120 + 3*110 = 650 with zero-decimal assets.
	if ticker.QuoteVolume != "650" {
		t.Errorf("quote volume = %s, want 650", ticker.QuoteVolume)
	}
	if ticker.TradeCount != 3 {
		t.Errorf("count = %d, want 3", ticker.TradeCount)
	}
}

func TestTickerWithNoTrades(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ticker, err := svc.Ticker(context.Background(), "wethusdc")
	if err != nil {
		t.Fatalf("Ticker: %v", err)
	}
	if ticker.LastPrice != "105" {
		t.Errorf("LastPrice = %s, want pool fallback 105", ticker.LastPrice)
	}
	if ticker.TradeCount != 0 || ticker.Volume != "0" {
		t.Errorf("empty window ticker = %+v", ticker)
	}
}

func TestPrice(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	p, err := svc.Price(context.Background(), "wethusdc")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if p.Price != "105" {
		t.Errorf("price = %s", p.Price)
	}
}

func TestKlinesViews(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()

	iv := types.Interval1m
	b := &types.Bucket{
		ID:          types.BucketID(testChain, testPool, iv, 60),
		ChainID:     testChain,
		PoolAddress: testPool,
		Interval:    iv,
		OpenTime:    60,
		CloseTime:   119,
		Open:        big.NewInt(100),
		High:        big.NewInt(100),
		Low:         big.NewInt(100),
		Close:       big.NewInt(100),
		Average:     decimal.NewFromInt(100),
		Count:       1,
		Volume:      decimal.NewFromInt(2),
		QuoteVolume: decimal.NewFromInt(200),
	}
	if _, err := st.ApplyBucketTrade(ctx, b); err != nil {
		t.Fatalf("ApplyBucketTrade: %v", err)
	}

	out, err := svc.Klines(ctx, "wethusdc", iv, 10, 0, 0)
	if err != nil {
		t.Fatalf("Klines: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("klines = %d", len(out))
	}
	k := out[0]
	if k.Interval != "1m" || k.OpenTime != 60 || k.Open != "100" || k.Volume != "2" {
		t.Errorf("kline = %+v", k)
	}
}

func TestUserQueries(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()

	o := &types.Order{
		ID:          types.OrderKey(testChain, testPool, 1),
		ChainID:     testChain,
		PoolAddress: testPool,
		OrderID:     1,
		User:        testUser,
		Side:        types.Buy,
		Type:        types.Limit,
		Price:       big.NewInt(100),
		Quantity:    big.NewInt(10),
		Filled:      big.NewInt(4),
		Status:      types.StatusPartiallyFilled,
	}
	st.InsertOrder(ctx, o)

	open, err := svc.OpenOrders(ctx, "wethusdc", testUser)
	if err != nil {
		t.Fatalf("OpenOrders: %v", err)
	}
	if len(open) != 1 || open[0].Symbol != "wethusdc" || open[0].Filled != "4" {
		t.Errorf("open orders = %+v", open)
	}

	// Unscoped query resolves the symbol through the pool registry.
	all, err := svc.Orders(ctx, "", testUser, 10)
	if err != nil {
		t.Fatalf("Orders: %v", err)
	}
	if len(all) != 1 || all[0].Symbol != "wethusdc" {
		t.Errorf("all orders = %+v", all)
	}
}
