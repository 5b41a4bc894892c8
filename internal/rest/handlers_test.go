package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"clobfeed/internal/config"
	"clobfeed/internal/market"
	"clobfeed/internal/store"
	"clobfeed/internal/ws"
	"clobfeed/pkg/types"
)

const (
	testChain   = uint64(31337)
	testPool    = "0x00000000000000000000000000000000000000aa"
	testAddress = "0x00000000000000000000000000000000000000bb"
)

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pool := &types.Pool{
		ID:          types.PoolID(testChain, testPool),
		ChainID:     testChain,
		Address:     testPool,
		BaseSymbol:  "WETH",
		QuoteSymbol: "USDC",
		LastPrice:   big.NewInt(105),
	}
	if err := st.InsertPool(context.Background(), pool); err != nil {
		t.Fatalf("InsertPool: %v", err)
	}

	svc := market.NewService(st, testChain, logger)
	hub := ws.NewHub(config.WebSocketConfig{SendQueueSize: 8, RateLimit: 10, RateBurst: 10}, logger)
	return NewServer(config.ServerConfig{Port: 0}, svc, hub, logger), st
}

func do(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("GET %s: decode envelope: %v (body %q)", path, err, rec.Body.String())
	}
	return rec, env
}

func TestPairsEndpoint(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rec, env := do(t, s, "/api/pairs")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, success = %v", rec.Code, env.Success)
	}
	pairs, ok := env.Data.([]any)
	if !ok || len(pairs) != 1 {
		t.Errorf("data = %v", env.Data)
	}
}

func TestDepthRequiresSymbol(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rec, env := do(t, s, "/api/depth")
	if rec.Code != http.StatusBadRequest || env.Success {
		t.Errorf("status = %d, success = %v", rec.Code, env.Success)
	}
	if env.Error == "" {
		t.Error("error message missing")
	}
}

func TestUnknownSymbolIsBadRequest(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	for _, path := range []string{
		"/api/depth?symbol=dogeusdt",
		"/api/ticker/24hr?symbol=dogeusdt",
		"/api/ticker/price?symbol=dogeusdt",
		"/api/trades?symbol=dogeusdt",
		"/api/klines?symbol=dogeusdt&interval=1m",
	} {
		rec, env := do(t, s, path)
		if rec.Code != http.StatusBadRequest || env.Success {
			t.Errorf("GET %s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestCurrencyEndpoints(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	token := "0x00000000000000000000000000000000000000cc"
	err := st.UpsertCurrency(context.Background(), &types.Currency{
		ID:       types.CurrencyID(testChain, token),
		ChainID:  testChain,
		Address:  token,
		Symbol:   "WETH",
		Name:     "Wrapped Ether",
		Decimals: 18,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("UpsertCurrency: %v", err)
	}

	rec, env := do(t, s, "/api/currencies")
	if rec.Code != http.StatusOK || len(env.Data.([]any)) != 1 {
		t.Errorf("currencies: status = %d, data = %v", rec.Code, env.Data)
	}

	rec, env = do(t, s, "/api/currency?address="+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("currency: status = %d", rec.Code)
	}
	c := env.Data.(map[string]any)
	if c["symbol"] != "WETH" || c["decimals"].(float64) != 18 {
		t.Errorf("currency = %v", c)
	}

	// Unknown but well-formed address is a lookup miss.
	rec, _ = do(t, s, "/api/currency?address=0x00000000000000000000000000000000000000dd")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown currency: status = %d, want 404", rec.Code)
	}
}

func TestDepthSnapshot(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	ctx := context.Background()
	st.ApplyDepthDelta(ctx, testPool, types.Buy, big.NewInt(100), big.NewInt(5), 1, 0)
	st.ApplyDepthDelta(ctx, testPool, types.Sell, big.NewInt(110), big.NewInt(3), 1, 0)

	rec, env := do(t, s, "/api/depth?symbol=wethusdc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := env.Data.(map[string]any)
	bids := data["bids"].([]any)
	asks := data["asks"].([]any)
	if len(bids) != 1 || len(asks) != 1 {
		t.Errorf("bids/asks = %v / %v", bids, asks)
	}
}

func TestKlinesRejectsBadInterval(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	rec, _ := do(t, s, "/api/klines?symbol=wethusdc&interval=2h")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAccountEndpointsValidateAddress(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	for _, path := range []string{
		"/api/openOrders",
		"/api/allOrders?address=nothex",
		"/api/myTrades?address=0x123",
		"/api/balances?address=",
	} {
		rec, env := do(t, s, path)
		if rec.Code != http.StatusBadRequest || env.Success {
			t.Errorf("GET %s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestBalancesEndpoint(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	ctx := context.Background()
	token := "0x00000000000000000000000000000000000000cc"
	if _, err := st.ApplyBalanceDelta(ctx, testChain, testAddress, token, big.NewInt(50), big.NewInt(0), 0); err != nil {
		t.Fatalf("ApplyBalanceDelta: %v", err)
	}

	rec, env := do(t, s, "/api/balances?address="+testAddress)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, success = %v", rec.Code, env.Success)
	}
	rows := env.Data.([]any)
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	row := rows[0].(map[string]any)
	if row["free"] != "50" || row["locked"] != "0" {
		t.Errorf("balance row = %v", row)
	}
}

func TestOpenOrdersEndpoint(t *testing.T) {
	t.Parallel()
	s, st := newTestServer(t)
	o := &types.Order{
		ID:          types.OrderKey(testChain, testPool, 1),
		ChainID:     testChain,
		PoolAddress: testPool,
		OrderID:     1,
		User:        testAddress,
		Side:        types.Buy,
		Type:        types.Limit,
		Price:       big.NewInt(100),
		Quantity:    big.NewInt(10),
		Filled:      big.NewInt(0),
		Status:      types.StatusOpen,
	}
	if err := st.InsertOrder(context.Background(), o); err != nil {
		t.Fatalf("InsertOrder: %v", err)
	}

	rec, env := do(t, s, "/api/openOrders?address="+testAddress+"&symbol=wethusdc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	orders := env.Data.([]any)
	if len(orders) != 1 {
		t.Fatalf("orders = %v", orders)
	}
	order := orders[0].(map[string]any)
	if order["symbol"] != "wethusdc" || order["origQty"] != "10" || order["status"] != "OPEN" {
		t.Errorf("order = %v", order)
	}
}

func TestWebSocketRejectsBadAddress(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ws/nothex", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
