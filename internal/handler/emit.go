// emit.go builds stream records and appends them to the bus. Field values
// are flat strings (big integers decimal-encoded); the depth snapshot arrays
// travel as nested JSON.
package handler

import (
	"context"
	"fmt"

	"clobfeed/internal/codec"
	"clobfeed/internal/stream"
	"clobfeed/pkg/types"
)

func (p *Processor) append(ctx context.Context, chainID uint64, name string, values map[string]any) error {
	fields, err := codec.Encode(values)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", name, err)
	}
	if _, err := p.bus.Append(ctx, stream.Key(chainID, name), fields); err != nil {
		return fmt.Errorf("append %s record: %w", name, err)
	}
	return nil
}

// emitTrade publishes one public trade record.
func (p *Processor) emitTrade(ctx context.Context, pool *types.Pool, t *types.OrderBookTrade) error {
	return p.append(ctx, pool.ChainID, stream.NameTrades, map[string]any{
		"symbol":       pool.Symbol(),
		"poolAddress":  pool.Address,
		"tradeId":      t.ID,
		"price":        t.Price,
		"quantity":     t.Quantity,
		"takerSide":    string(t.TakerSide),
		"isBuyerMaker": t.TakerSide == types.Sell,
		"timestamp":    t.Timestamp,
		"txHash":       t.TxHash,
	})
}

// emitDepth recomputes the pool's top-of-book snapshot and publishes it.
func (p *Processor) emitDepth(ctx context.Context, pool *types.Pool, ts int64) error {
	snap, err := p.store.DepthTopN(ctx, pool.Address, DepthSnapshotLimit)
	if err != nil {
		return fmt.Errorf("depth snapshot: %w", err)
	}
	return p.append(ctx, pool.ChainID, stream.NameDepth, map[string]any{
		"symbol":      pool.Symbol(),
		"poolAddress": pool.Address,
		"bids":        depthLevels(snap.Bids),
		"asks":        depthLevels(snap.Asks),
		"timestamp":   ts,
	})
}

// depthLevels flattens levels to [price, quantity] string pairs, the shape
// the wire format uses directly.
func depthLevels(levels []*types.DepthLevel) []any {
	out := make([]any, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, []any{lvl.Price.String(), lvl.Quantity.String()})
	}
	return out
}

// emitKline publishes the merged bucket for one interval.
func (p *Processor) emitKline(ctx context.Context, pool *types.Pool, b *types.Bucket, ts int64) error {
	return p.append(ctx, pool.ChainID, stream.NameKlines, map[string]any{
		"symbol":        pool.Symbol(),
		"poolAddress":   pool.Address,
		"interval":      b.Interval.Name(),
		"openTime":      b.OpenTime,
		"closeTime":     b.CloseTime,
		"open":          b.Open,
		"high":          b.High,
		"low":           b.Low,
		"close":         b.Close,
		"count":         b.Count,
		"volume":        b.Volume,
		"quoteVolume":   b.QuoteVolume,
		"takerBuyBase":  b.TakerBuyBaseVolume,
		"takerBuyQuote": b.TakerBuyQuoteVolume,
		"timestamp":     ts,
	})
}

// emitExecutionReport publishes a per-user order lifecycle record.
// lastQty/lastPrice carry the increment of this transition (zero outside
// fills).
func (p *Processor) emitExecutionReport(ctx context.Context, pool *types.Pool, o *types.Order, execType string, lastQty, lastPrice any, tradeID string, ts int64) error {
	return p.append(ctx, pool.ChainID, stream.NameExecutionReports, map[string]any{
		"userId":        o.User,
		"symbol":        pool.Symbol(),
		"poolAddress":   pool.Address,
		"orderId":       o.OrderID,
		"side":          string(o.Side),
		"orderType":     string(o.Type),
		"price":         o.Price,
		"quantity":      o.Quantity,
		"filled":        o.Filled,
		"status":        string(o.Status),
		"executionType": execType,
		"lastQty":       lastQty,
		"lastPrice":     lastPrice,
		"tradeId":       tradeID,
		"timestamp":     ts,
	})
}

// emitOrderUpdate publishes the raw order transition for auxiliary consumers
// (analytics, cross-chain relays). Not consumed by the WebSocket fan-out.
func (p *Processor) emitOrderUpdate(ctx context.Context, pool *types.Pool, o *types.Order, ts int64) error {
	return p.append(ctx, pool.ChainID, stream.NameOrders, map[string]any{
		"orderId":     o.OrderID,
		"poolAddress": pool.Address,
		"symbol":      pool.Symbol(),
		"user":        o.User,
		"side":        string(o.Side),
		"status":      string(o.Status),
		"filled":      o.Filled,
		"quantity":    o.Quantity,
		"timestamp":   ts,
	})
}

// emitBalance publishes a per-user balance record. asset falls back to the
// token address when the currency is not registered.
func (p *Processor) emitBalance(ctx context.Context, chainID uint64, b *types.Balance, ts int64) error {
	asset := b.Currency
	if c, err := p.store.GetCurrency(ctx, chainID, b.Currency); err == nil {
		asset = c.Symbol
	}
	return p.append(ctx, chainID, stream.NameBalances, map[string]any{
		"userId":    b.User,
		"currency":  b.Currency,
		"asset":     asset,
		"available": b.Available,
		"locked":    b.Locked,
		"timestamp": ts,
	})
}
