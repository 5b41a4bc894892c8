// Package wire converts stream records into the Binance-compatible frames
// pushed to WebSocket subscribers.
//
// Stream records carry domain vocabulary (unix-second timestamps, domain
// order statuses, full field names); this package owns the translation to
// the public wire dialect: single-letter field keys, millisecond timestamps
// and Binance status spellings. Market frames are wrapped in the combined
// {"stream":...,"data":...} envelope keyed by the subscription name.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"clobfeed/internal/codec"
	"clobfeed/pkg/types"
)

// ErrMalformedRecord marks a stream record that can never produce a frame.
// Consumers ack and drop these; redelivering them cannot succeed.
var ErrMalformedRecord = errors.New("malformed record")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...))
}

// Frame is one outbound WebSocket message: the subscription stream name plus
// the event payload.
type Frame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Marshal renders the frame for the socket.
func (f Frame) Marshal() ([]byte, error) { return json.Marshal(f) }

// Subscription stream name builders. Symbols are lowercase on the wire.
func TradeStream(symbol string) string      { return symbol + "@trade" }
func DepthStream(symbol string) string      { return symbol + "@depth" }
func KlineStream(symbol, iv string) string  { return symbol + "@kline_" + iv }
func MiniTickerStream(symbol string) string { return symbol + "@miniTicker" }

// User-frame stream names. User frames bypass the subscription registry and
// go straight to the owning address, but they keep the same envelope so
// clients parse everything one way.
const (
	StreamExecutionReport = "executionReport"
	StreamBalanceUpdate   = "balanceUpdate"
)

// mapStatus translates a domain order status to its Binance spelling.
func mapStatus(s string) string {
	switch types.OrderStatus(s) {
	case types.StatusOpen:
		return "NEW"
	case types.StatusCancelled:
		return "CANCELED"
	default:
		return s
	}
}

func ms(sec int64) int64 { return sec * 1000 }

func upper(symbol string) string { return strings.ToUpper(symbol) }

// ————————————————————————————————————————————————————————————————————————
// Market frames
// ————————————————————————————————————————————————————————————————————————

type tradeEvent struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      string `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// Trade builds the <symbol>@trade frame from one trades-stream record.
func Trade(f codec.FieldMap) (Frame, error) {
	symbol := f.String("symbol")
	if symbol == "" {
		return Frame{}, malformed("trade record: missing symbol")
	}
	ts := ms(f.Int64("timestamp"))
	data, err := json.Marshal(tradeEvent{
		EventType:    "trade",
		EventTime:    ts,
		Symbol:       upper(symbol),
		TradeID:      f.String("tradeId"),
		Price:        f.Big("price").String(),
		Quantity:     f.Big("quantity").String(),
		TradeTime:    ts,
		IsBuyerMaker: f.Bool("isBuyerMaker"),
	})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Stream: TradeStream(symbol), Data: data}, nil
}

type depthEvent struct {
	EventType string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

// Depth builds the <symbol>@depth frame. The record carries full top-of-book
// snapshots, not diffs, so the frame is self-contained.
func Depth(f codec.FieldMap) (Frame, error) {
	symbol := f.String("symbol")
	if symbol == "" {
		return Frame{}, malformed("depth record: missing symbol")
	}
	bids, err := decodeLevels(f.String("bids"))
	if err != nil {
		return Frame{}, malformed("depth record bids: %v", err)
	}
	asks, err := decodeLevels(f.String("asks"))
	if err != nil {
		return Frame{}, malformed("depth record asks: %v", err)
	}
	data, err := json.Marshal(depthEvent{
		EventType: "depthUpdate",
		EventTime: ms(f.Int64("timestamp")),
		Symbol:    upper(symbol),
		Bids:      bids,
		Asks:      asks,
	})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Stream: DepthStream(symbol), Data: data}, nil
}

// decodeLevels parses the nested [price, quantity] pairs, rehydrating any
// tagged big integers back to plain decimal strings.
func decodeLevels(raw string) ([][2]string, error) {
	if raw == "" {
		return [][2]string{}, nil
	}
	v, err := codec.UnmarshalJSON([]byte(raw))
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("levels are not an array")
	}
	out := make([][2]string, 0, len(arr))
	for _, e := range arr {
		pair, ok := e.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("level is not a [price, quantity] pair")
		}
		out = append(out, [2]string{levelString(pair[0]), levelString(pair[1])})
	}
	return out, nil
}

func levelString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *big.Int:
		return t.String()
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

type klineEvent struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime      int64  `json:"t"`
	CloseTime     int64  `json:"T"`
	Symbol        string `json:"s"`
	Interval      string `json:"i"`
	Open          string `json:"o"`
	Close         string `json:"c"`
	High          string `json:"h"`
	Low           string `json:"l"`
	Volume        string `json:"v"`
	TradeCount    int64  `json:"n"`
	QuoteVolume   string `json:"q"`
	TakerBuyBase  string `json:"V"`
	TakerBuyQuote string `json:"Q"`
}

// Kline builds the <symbol>@kline_<interval> frame from one klines-stream
// record.
func Kline(f codec.FieldMap) (Frame, error) {
	symbol := f.String("symbol")
	interval := f.String("interval")
	if symbol == "" || interval == "" {
		return Frame{}, malformed("kline record: missing symbol or interval")
	}
	data, err := json.Marshal(klineEvent{
		EventType: "kline",
		EventTime: ms(f.Int64("timestamp")),
		Symbol:    upper(symbol),
		Kline: klinePayload{
			OpenTime:      ms(f.Int64("openTime")),
			CloseTime:     ms(f.Int64("closeTime")),
			Symbol:        upper(symbol),
			Interval:      interval,
			Open:          f.Big("open").String(),
			Close:         f.Big("close").String(),
			High:          f.Big("high").String(),
			Low:           f.Big("low").String(),
			Volume:        f.Decimal("volume").String(),
			TradeCount:    f.Int64("count"),
			QuoteVolume:   f.Decimal("quoteVolume").String(),
			TakerBuyBase:  f.Decimal("takerBuyBase").String(),
			TakerBuyQuote: f.Decimal("takerBuyQuote").String(),
		},
	})
	if err != nil {
		return Frame{}, err
	}
	return Frame{Stream: KlineStream(symbol, interval), Data: data}, nil
}

type miniTickerEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	Close       string `json:"c"`
	Open        string `json:"o"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
}

// MiniTicker derives the <symbol>@miniTicker frame from a daily kline record.
// Records at other intervals produce no frame.
func MiniTicker(f codec.FieldMap) (Frame, bool, error) {
	if f.String("interval") != types.Interval1d.Name() {
		return Frame{}, false, nil
	}
	symbol := f.String("symbol")
	if symbol == "" {
		return Frame{}, false, malformed("kline record: missing symbol")
	}
	data, err := json.Marshal(miniTickerEvent{
		EventType:   "24hrMiniTicker",
		EventTime:   ms(f.Int64("timestamp")),
		Symbol:      upper(symbol),
		Close:       f.Big("close").String(),
		Open:        f.Big("open").String(),
		High:        f.Big("high").String(),
		Low:         f.Big("low").String(),
		Volume:      f.Decimal("volume").String(),
		QuoteVolume: f.Decimal("quoteVolume").String(),
	})
	if err != nil {
		return Frame{}, false, err
	}
	return Frame{Stream: MiniTickerStream(symbol), Data: data}, true, nil
}

// ————————————————————————————————————————————————————————————————————————
// User frames
// ————————————————————————————————————————————————————————————————————————

type executionReportEvent struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	Side            string `json:"S"`
	OrderType       string `json:"o"`
	OrderID         uint64 `json:"i"`
	ExecutionType   string `json:"x"`
	OrderStatus     string `json:"X"`
	Price           string `json:"p"`
	Quantity        string `json:"q"`
	CumulativeQty   string `json:"z"`
	LastExecutedQty string `json:"l"`
	LastPrice       string `json:"L"`
	TradeID         string `json:"t"`
	TransactTime    int64  `json:"T"`
}

// ExecutionReport builds the per-user order lifecycle frame and returns the
// owning address alongside it.
func ExecutionReport(f codec.FieldMap) (string, Frame, error) {
	user := f.String("userId")
	symbol := f.String("symbol")
	if user == "" || symbol == "" {
		return "", Frame{}, malformed("execution report record: missing user or symbol")
	}
	ts := ms(f.Int64("timestamp"))
	data, err := json.Marshal(executionReportEvent{
		EventType:       "executionReport",
		EventTime:       ts,
		Symbol:          upper(symbol),
		Side:            f.String("side"),
		OrderType:       f.String("orderType"),
		OrderID:         f.Uint64("orderId"),
		ExecutionType:   f.String("executionType"),
		OrderStatus:     mapStatus(f.String("status")),
		Price:           f.Big("price").String(),
		Quantity:        f.Big("quantity").String(),
		CumulativeQty:   f.Big("filled").String(),
		LastExecutedQty: f.Big("lastQty").String(),
		LastPrice:       f.Big("lastPrice").String(),
		TradeID:         f.String("tradeId"),
		TransactTime:    ts,
	})
	if err != nil {
		return "", Frame{}, err
	}
	return user, Frame{Stream: StreamExecutionReport, Data: data}, nil
}

type balanceUpdateEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Asset     string `json:"a"`
	Free      string `json:"f"`
	Locked    string `json:"l"`
}

// BalanceUpdate builds the per-user balance frame and returns the owning
// address alongside it.
func BalanceUpdate(f codec.FieldMap) (string, Frame, error) {
	user := f.String("userId")
	if user == "" {
		return "", Frame{}, malformed("balance record: missing user")
	}
	data, err := json.Marshal(balanceUpdateEvent{
		EventType: "balanceUpdate",
		EventTime: ms(f.Int64("timestamp")),
		Asset:     f.String("asset"),
		Free:      f.Big("available").String(),
		Locked:    f.Big("locked").String(),
	})
	if err != nil {
		return "", Frame{}, err
	}
	return user, Frame{Stream: StreamBalanceUpdate, Data: data}, nil
}
