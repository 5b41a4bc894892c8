package intake

import (
	"math/big"
	"testing"

	"clobfeed/internal/codec"
	"clobfeed/pkg/types"
)

const (
	testChain = uint64(31337)
	testPool  = "0x00000000000000000000000000000000000000aa"
	testUser  = "0x00000000000000000000000000000000000000b1"
)

func baseEvent(kind types.EventKind) *types.Event {
	return &types.Event{
		Kind:        kind,
		Block:       types.Block{Number: 120, Timestamp: 1440},
		Transaction: types.Transaction{Hash: "0xtx", From: testUser},
		Log:         types.Log{Address: testPool, Index: 3},
		Network:     types.Network{ChainID: testChain},
	}
}

func roundTrip(t *testing.T, evt *types.Event) *types.Event {
	t.Helper()
	fields, err := EncodeEvent(evt)
	if err != nil {
		t.Fatalf("EncodeEvent(%s): %v", evt.Kind, err)
	}
	out, err := DecodeEvent(fields)
	if err != nil {
		t.Fatalf("DecodeEvent(%s): %v", evt.Kind, err)
	}
	return out
}

func TestRoundTripMetadata(t *testing.T) {
	t.Parallel()
	evt := baseEvent(types.EvDeposit)
	evt.Balance = &types.BalanceArgs{User: testUser, Currency: testPool, Amount: big.NewInt(1)}

	out := roundTrip(t, evt)
	if out.Kind != types.EvDeposit {
		t.Errorf("kind = %s", out.Kind)
	}
	if out.Block.Number != 120 || out.Block.Timestamp != 1440 {
		t.Errorf("block = %+v", out.Block)
	}
	if out.Transaction.Hash != "0xtx" || out.Transaction.From != testUser {
		t.Errorf("transaction = %+v", out.Transaction)
	}
	if out.Log.Address != testPool || out.Log.Index != 3 {
		t.Errorf("log = %+v", out.Log)
	}
	if out.Network.ChainID != testChain {
		t.Errorf("chainId = %d", out.Network.ChainID)
	}
}

func TestRoundTripPoolCreated(t *testing.T) {
	t.Parallel()
	evt := baseEvent(types.EvPoolCreated)
	evt.PoolCreated = &types.PoolCreatedArgs{
		PoolAddress:   testPool,
		OrderBook:     "0x00000000000000000000000000000000000000d1",
		BaseCurrency:  "0x00000000000000000000000000000000000000c1",
		QuoteCurrency: "0x00000000000000000000000000000000000000c2",
		BaseSymbol:    "WETH",
		QuoteSymbol:   "USDC",
		BaseName:      "Wrapped Ether",
		QuoteName:     "USD Coin",
		BaseDecimals:  18,
		QuoteDecimals: 6,
	}

	out := roundTrip(t, evt)
	if out.PoolCreated == nil {
		t.Fatal("PoolCreated args missing")
	}
	if *out.PoolCreated != *evt.PoolCreated {
		t.Errorf("args = %+v, want %+v", out.PoolCreated, evt.PoolCreated)
	}
}

func TestRoundTripOrderPlaced(t *testing.T) {
	t.Parallel()
	evt := baseEvent(types.EvOrderPlaced)
	evt.OrderPlaced = &types.OrderPlacedArgs{
		PoolAddress: testPool,
		OrderID:     7,
		User:        testUser,
		Side:        types.Buy,
		Type:        types.Limit,
		Price:       big.NewInt(1850_000000),
		Quantity:    new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
		Expiry:      2000,
	}

	out := roundTrip(t, evt)
	a := out.OrderPlaced
	if a == nil {
		t.Fatal("OrderPlaced args missing")
	}
	if a.OrderID != 7 || a.User != testUser || a.Side != types.Buy || a.Type != types.Limit {
		t.Errorf("args = %+v", a)
	}
	if a.Price.Cmp(evt.OrderPlaced.Price) != 0 || a.Quantity.Cmp(evt.OrderPlaced.Quantity) != 0 {
		t.Errorf("price/qty = %s/%s", a.Price, a.Quantity)
	}
	if a.Expiry != 2000 {
		t.Errorf("expiry = %d", a.Expiry)
	}
}

func TestRoundTripOrderMatched(t *testing.T) {
	t.Parallel()
	evt := baseEvent(types.EvOrderMatched)
	evt.OrderMatched = &types.OrderMatchedArgs{
		PoolAddress:    testPool,
		BuyOrderID:     1,
		SellOrderID:    2,
		BuyUser:        testUser,
		SellUser:       "0x00000000000000000000000000000000000000b2",
		TakerSide:      types.Sell,
		ExecutionPrice: big.NewInt(100),
		Quantity:       big.NewInt(10),
	}

	out := roundTrip(t, evt)
	a := out.OrderMatched
	if a == nil {
		t.Fatal("OrderMatched args missing")
	}
	if a.BuyOrderID != 1 || a.SellOrderID != 2 || a.TakerSide != types.Sell {
		t.Errorf("args = %+v", a)
	}
	if a.ExecutionPrice.Cmp(big.NewInt(100)) != 0 || a.Quantity.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("price/qty = %s/%s", a.ExecutionPrice, a.Quantity)
	}
}

func TestRoundTripOrderCancelled(t *testing.T) {
	t.Parallel()
	evt := baseEvent(types.EvOrderCancelled)
	evt.OrderCancelled = &types.OrderCancelledArgs{PoolAddress: testPool, OrderID: 9, User: testUser}

	out := roundTrip(t, evt)
	if out.OrderCancelled == nil || *out.OrderCancelled != *evt.OrderCancelled {
		t.Errorf("args = %+v", out.OrderCancelled)
	}
}

func TestRoundTripUpdateOrder(t *testing.T) {
	t.Parallel()
	evt := baseEvent(types.EvUpdateOrder)
	evt.UpdateOrder = &types.UpdateOrderArgs{
		PoolAddress: testPool,
		OrderID:     9,
		Status:      types.StatusExpired,
		Filled:      big.NewInt(4),
	}

	out := roundTrip(t, evt)
	a := out.UpdateOrder
	if a == nil {
		t.Fatal("UpdateOrder args missing")
	}
	if a.OrderID != 9 || a.Status != types.StatusExpired || a.Filled.Cmp(big.NewInt(4)) != 0 {
		t.Errorf("args = %+v", a)
	}
}

func TestRoundTripBalanceKinds(t *testing.T) {
	t.Parallel()
	kinds := []types.EventKind{
		types.EvDeposit, types.EvWithdrawal, types.EvLock, types.EvUnlock,
		types.EvTransferFrom, types.EvTransferLocked, types.EvFaucet,
	}
	for _, kind := range kinds {
		evt := baseEvent(kind)
		evt.Balance = &types.BalanceArgs{User: testUser, Currency: testPool, Amount: big.NewInt(42)}

		out := roundTrip(t, evt)
		if out.Kind != kind {
			t.Errorf("kind = %s, want %s", out.Kind, kind)
		}
		if out.Balance == nil || out.Balance.Amount.Cmp(big.NewInt(42)) != 0 {
			t.Errorf("%s: balance args = %+v", kind, out.Balance)
		}
	}
}

func TestEncodeRejectsArglessEvent(t *testing.T) {
	t.Parallel()
	if _, err := EncodeEvent(baseEvent(types.EvOrderPlaced)); err == nil {
		t.Error("EncodeEvent without args must fail")
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	if _, err := DecodeEvent(codec.FieldMap{"kind": "Bogus"}); err == nil {
		t.Error("DecodeEvent of unknown kind must fail")
	}
}
