package types

import (
	"math/big"
	"testing"
)

func TestSideOpposite(t *testing.T) {
	t.Parallel()
	if Buy.Opposite() != Sell {
		t.Errorf("Buy.Opposite() = %v, want SELL", Buy.Opposite())
	}
	if Sell.Opposite() != Buy {
		t.Errorf("Sell.Opposite() = %v, want BUY", Sell.Opposite())
	}
}

func TestSideValid(t *testing.T) {
	t.Parallel()
	if !Buy.Valid() || !Sell.Valid() {
		t.Error("BUY and SELL must be valid sides")
	}
	if Side("HOLD").Valid() {
		t.Error("HOLD must not be a valid side")
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status   OrderStatus
		terminal bool
	}{
		{StatusOpen, false},
		{StatusPartiallyFilled, false},
		{StatusFilled, true},
		{StatusCancelled, true},
		{StatusRejected, true},
		{StatusExpired, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestIntervalOpenTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		interval Interval
		ts       int64
		open     int64
	}{
		{Interval1m, 125, 120},
		{Interval1m, 120, 120},
		{Interval5m, 299, 0},
		{Interval5m, 300, 300},
		{Interval30m, 3599, 1800},
		{Interval1h, 7199, 3600},
		{Interval1d, 86400 + 5, 86400},
	}
	for _, tt := range tests {
		if got := tt.interval.OpenTime(tt.ts); got != tt.open {
			t.Errorf("%s.OpenTime(%d) = %d, want %d", tt.interval.Name(), tt.ts, got, tt.open)
		}
	}
}

func TestIntervalCloseTime(t *testing.T) {
	t.Parallel()
	if got := Interval1m.CloseTime(120); got != 179 {
		t.Errorf("CloseTime(120) = %d, want 179", got)
	}
	if got := Interval1d.CloseTime(0); got != 86399 {
		t.Errorf("CloseTime(0) = %d, want 86399", got)
	}
}

func TestParseInterval(t *testing.T) {
	t.Parallel()
	for _, iv := range Intervals {
		got, ok := ParseInterval(iv.Name())
		if !ok || got != iv {
			t.Errorf("ParseInterval(%q) = %v, %v", iv.Name(), got, ok)
		}
	}
	if _, ok := ParseInterval("2h"); ok {
		t.Error("ParseInterval(2h) must fail")
	}
}

func TestPoolSymbol(t *testing.T) {
	t.Parallel()
	p := &Pool{BaseSymbol: "WETH", QuoteSymbol: "USDC"}
	if p.Symbol() != "wethusdc" {
		t.Errorf("Symbol() = %q, want wethusdc", p.Symbol())
	}
}

func TestOrderRemaining(t *testing.T) {
	t.Parallel()
	o := &Order{Quantity: big.NewInt(100), Filled: big.NewInt(30)}
	if o.Remaining().Int64() != 70 {
		t.Errorf("Remaining() = %v, want 70", o.Remaining())
	}
	empty := &Order{Quantity: big.NewInt(5)}
	if empty.Remaining().Int64() != 5 {
		t.Errorf("Remaining() with nil Filled = %v, want 5", empty.Remaining())
	}
}

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()
	mixed := "0xAbCd000000000000000000000000000000001234"
	lower := "0xabcd000000000000000000000000000000001234"
	if got := NormalizeAddress(mixed); got != lower {
		t.Errorf("NormalizeAddress(%q) = %q, want %q", mixed, got, lower)
	}
	if got := NormalizeAddress("Not-An-Address"); got != "not-an-address" {
		t.Errorf("NormalizeAddress fallback = %q", got)
	}
}

func TestHashDeterminism(t *testing.T) {
	t.Parallel()
	a := PoolID(1, "0xpool")
	b := PoolID(1, "0xpool")
	if a != b {
		t.Errorf("PoolID not deterministic: %q vs %q", a, b)
	}
	if a == PoolID(2, "0xpool") {
		t.Error("PoolID must differ across chains")
	}
	if a == PoolID(1, "0xother") {
		t.Error("PoolID must differ across pools")
	}
}

func TestHashDistinctPerEntity(t *testing.T) {
	t.Parallel()
	price, qty := big.NewInt(100), big.NewInt(5)
	ids := map[string]string{
		"order":   OrderKey(1, "0xpool", 7),
		"bucket":  BucketID(1, "0xpool", Interval1m, 60),
		"balance": BalanceID(1, "0xuser", "0xtoken"),
		"trade":   TradeID(1, "0xtx", "0xuser", Buy, 1, 2, price, qty),
	}
	seen := make(map[string]string)
	for name, id := range ids {
		if id == "" {
			t.Errorf("%s id is empty", name)
		}
		if prev, ok := seen[id]; ok {
			t.Errorf("%s collides with %s", name, prev)
		}
		seen[id] = name
	}
}

func TestTradeIDSideDisambiguates(t *testing.T) {
	t.Parallel()
	price, qty := big.NewInt(100), big.NewInt(5)
	buy := TradeID(1, "0xtx", "0xuser", Buy, 1, 2, price, qty)
	sell := TradeID(1, "0xtx", "0xuser", Sell, 1, 2, price, qty)
	if buy == sell {
		t.Error("trade ids for the two sides of one match must differ")
	}
}
