package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"clobfeed/internal/codec"
	"clobfeed/internal/config"
	"clobfeed/internal/stream"
	"clobfeed/internal/wire"
)

type fakeSink struct {
	mu        sync.Mutex
	broadcast map[string][][]byte
	user      map[string][][]byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		broadcast: make(map[string][][]byte),
		user:      make(map[string][][]byte),
	}
}

func (f *fakeSink) BroadcastToStream(name string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast[name] = append(f.broadcast[name], payload)
}

func (f *fakeSink) SendToUser(address string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user[address] = append(f.user[address], payload)
}

func (f *fakeSink) broadcasts(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcast[name])
}

func (f *fakeSink) userFrames(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.user[address])
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Chain.DefaultChainID = 31337
	cfg.Consumer.Group = "test-group"
	cfg.Consumer.ID = "test-consumer"
	cfg.Consumer.BatchSize = 10
	cfg.Consumer.PollInterval = 10 * time.Millisecond
	return cfg
}

func newTestConsumer(bus stream.Bus, sink Sink) *Consumer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(bus, sink, testConfig(), logger)
}

func tradeRecord() codec.FieldMap {
	return codec.FieldMap{
		"symbol":       "wethusdc",
		"tradeId":      "t1",
		"price":        "100",
		"quantity":     "5",
		"isBuyerMaker": "false",
		"timestamp":    "1700000000",
	}
}

func TestDispatchTradeBroadcasts(t *testing.T) {
	t.Parallel()
	sink := newFakeSink()
	c := newTestConsumer(stream.NewMemory(), sink)

	if err := c.dispatch(stream.NameTrades, tradeRecord()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sink.broadcasts("wethusdc@trade") != 1 {
		t.Errorf("trade broadcasts = %d, want 1", sink.broadcasts("wethusdc@trade"))
	}
}

func TestDispatchDailyKlineAlsoEmitsMiniTicker(t *testing.T) {
	t.Parallel()
	sink := newFakeSink()
	c := newTestConsumer(stream.NewMemory(), sink)

	fields := codec.FieldMap{
		"symbol": "wethusdc", "interval": "1d",
		"openTime": "0", "closeTime": "86399",
		"open": "100", "high": "120", "low": "90", "close": "105",
		"count": "5", "volume": "5", "quoteVolume": "525",
		"timestamp": "1700000000",
	}
	if err := c.dispatch(stream.NameKlines, fields); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sink.broadcasts("wethusdc@kline_1d") != 1 {
		t.Error("kline frame missing")
	}
	if sink.broadcasts("wethusdc@miniTicker") != 1 {
		t.Error("mini-ticker frame missing")
	}

	fields["interval"] = "1m"
	c.dispatch(stream.NameKlines, fields)
	if sink.broadcasts("wethusdc@miniTicker") != 1 {
		t.Error("1m kline must not produce a mini-ticker")
	}
}

func TestDispatchUserFrames(t *testing.T) {
	t.Parallel()
	sink := newFakeSink()
	c := newTestConsumer(stream.NewMemory(), sink)

	err := c.dispatch(stream.NameExecutionReports, codec.FieldMap{
		"userId": "0xuser", "symbol": "wethusdc", "status": "OPEN",
		"executionType": "NEW", "timestamp": "1700000000",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	err = c.dispatch(stream.NameBalances, codec.FieldMap{
		"userId": "0xuser", "asset": "WETH",
		"available": "10", "locked": "0", "timestamp": "1700000000",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sink.userFrames("0xuser") != 2 {
		t.Errorf("user frames = %d, want 2", sink.userFrames("0xuser"))
	}
}

func TestRunConsumesAndAcks(t *testing.T) {
	t.Parallel()
	bus := stream.NewMemory()
	sink := newFakeSink()
	c := newTestConsumer(bus, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.EnsureGroups(ctx); err != nil {
		t.Fatalf("EnsureGroups: %v", err)
	}
	key := stream.Key(31337, stream.NameTrades)
	if _, err := bus.Append(ctx, key, tradeRecord()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sink.broadcasts("wethusdc@trade") == 0 {
		select {
		case <-deadline:
			t.Fatal("frame never reached the sink")
		case <-time.After(5 * time.Millisecond):
		}
	}
	// Frame delivered, then acked.
	for bus.Pending(key, "test-group") != 0 {
		select {
		case <-deadline:
			t.Fatalf("pending = %d, want 0", bus.Pending(key, "test-group"))
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestUndecodableRecordIsAckedAndSkipped(t *testing.T) {
	t.Parallel()
	bus := stream.NewMemory()
	sink := newFakeSink()
	c := newTestConsumer(bus, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.EnsureGroups(ctx)
	key := stream.Key(31337, stream.NameTrades)
	// Missing symbol: can never decode.
	bus.Append(ctx, key, codec.FieldMap{"price": "1"})
	bus.Append(ctx, key, tradeRecord())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for sink.broadcasts("wethusdc@trade") == 0 || bus.Pending(key, "test-group") != 0 {
		select {
		case <-deadline:
			t.Fatalf("good record blocked behind poison: frames=%d pending=%d",
				sink.broadcasts("wethusdc@trade"), bus.Pending(key, "test-group"))
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestOnlyMalformedDispatchFailuresAreAcked(t *testing.T) {
	t.Parallel()
	if !shouldAck(nil) {
		t.Error("successful dispatch must ack")
	}
	if !shouldAck(fmt.Errorf("trade frame: %w", wire.ErrMalformedRecord)) {
		t.Error("malformed record must ack, redelivery cannot succeed")
	}
	if shouldAck(errors.New("connection refused")) {
		t.Error("transient failure must leave the record pending")
	}
}

func TestUndecodableRecordIsMalformed(t *testing.T) {
	t.Parallel()
	c := newTestConsumer(stream.NewMemory(), newFakeSink())

	// Missing symbol and unknown stream can never succeed on redelivery.
	if err := c.dispatch(stream.NameTrades, codec.FieldMap{"price": "1"}); !errors.Is(err, wire.ErrMalformedRecord) {
		t.Errorf("missing symbol err = %v, want ErrMalformedRecord", err)
	}
	if err := c.dispatch("reorgs", tradeRecord()); !errors.Is(err, wire.ErrMalformedRecord) {
		t.Errorf("unknown stream err = %v, want ErrMalformedRecord", err)
	}
}

func TestOrdersStreamNotConsumed(t *testing.T) {
	t.Parallel()
	for _, name := range consumed {
		if name == stream.NameOrders {
			t.Fatal("orders stream must not be consumed by the fan-out")
		}
	}
}

func TestFramePayloadIsEnveloped(t *testing.T) {
	t.Parallel()
	sink := newFakeSink()
	c := newTestConsumer(stream.NewMemory(), sink)
	c.dispatch(stream.NameTrades, tradeRecord())

	sink.mu.Lock()
	payload := sink.broadcast["wethusdc@trade"][0]
	sink.mu.Unlock()

	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Stream != "wethusdc@trade" || len(env.Data) == 0 {
		t.Errorf("envelope = %+v", env)
	}
}
