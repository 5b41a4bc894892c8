// match.go handles OrderMatched, the richest reducer: pool rollup, trade
// rows, fills on both orders, depth consumption, candlestick buckets and the
// full set of live-push records.
package handler

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"clobfeed/internal/store"
	"clobfeed/pkg/types"
)

// HandleOrderMatched applies one on-chain match.
//
// Depth is decremented on BOTH sides at the execution price: the resting
// order consumed liquidity there and the incoming crossed order was first
// added to its own level by OrderPlaced, so a symmetric decrement keeps the
// book consistent with the chain's matching engine.
//
// The cumulative writes (pool rollup, fills, depth, buckets) run in one store
// transaction that finishes with the orderbook trade row. An existing trade
// row therefore means the match is already fully applied, and a redelivered
// event is skipped instead of accumulating twice.
func (p *Processor) HandleOrderMatched(ctx context.Context, evt *types.Event) error {
	args := evt.OrderMatched
	if args == nil {
		return malformed("OrderMatched: missing args")
	}
	if args.PoolAddress == "" {
		return malformed("OrderMatched: missing pool")
	}
	if !args.TakerSide.Valid() {
		return malformed("OrderMatched: invalid taker side %q", args.TakerSide)
	}
	if args.ExecutionPrice == nil || args.Quantity == nil || args.Quantity.Sign() <= 0 {
		return malformed("OrderMatched: missing price or quantity")
	}

	chainID := evt.Network.ChainID
	pool, err := p.store.GetPool(ctx, chainID, args.PoolAddress)
	if err != nil {
		return fmt.Errorf("order matched: %w", types.ErrUnknownPool)
	}
	ts := evt.Block.Timestamp
	price, qty := args.ExecutionPrice, args.Quantity
	txHash := evt.Transaction.Hash

	buyUser, sellUser := types.NormalizeAddress(args.BuyUser), types.NormalizeAddress(args.SellUser)
	obTrade := &types.OrderBookTrade{
		ID: types.TradeID(chainID, txHash, args.BuyUser, args.TakerSide,
			args.BuyOrderID, args.SellOrderID, price, qty),
		ChainID:     chainID,
		PoolAddress: pool.Address,
		BuyOrderID:  args.BuyOrderID,
		SellOrderID: args.SellOrderID,
		TakerSide:   args.TakerSide,
		Price:       price,
		Quantity:    qty,
		TxHash:      txHash,
		Timestamp:   ts,
	}

	seen, err := p.store.HasOrderBookTrade(ctx, obTrade.ID)
	if err != nil {
		return fmt.Errorf("order matched: %w", err)
	}
	if seen {
		p.logger.Warn("match already applied",
			"pool", pool.Address,
			"tx", txHash,
			"trade", obTrade.ID,
		)
		return nil
	}

	var orders []*types.Order
	var buckets []*types.Bucket
	err = p.store.WithTx(ctx, func(st store.Store) error {
		// Pool rollup: last price, cumulative base volume (raw units) and
		// quote volume (qty*price scaled down by the base token's decimals).
		if err := st.ApplyPoolMatch(ctx, pool.ID, poolMatch(pool, price, qty, ts)); err != nil {
			return fmt.Errorf("order matched pool: %w", err)
		}

		// One Trade row per side plus the flat time-series projection.
		sides := []struct {
			user    string
			side    types.Side
			orderID uint64
		}{
			{buyUser, types.Buy, args.BuyOrderID},
			{sellUser, types.Sell, args.SellOrderID},
		}
		for _, s := range sides {
			t := &types.Trade{
				ID: types.TradeID(chainID, txHash, s.user, s.side,
					args.BuyOrderID, args.SellOrderID, price, qty),
				ChainID:     chainID,
				PoolID:      pool.ID,
				PoolAddress: pool.Address,
				OrderID:     s.orderID,
				TxHash:      txHash,
				User:        s.user,
				Side:        s.side,
				Price:       price,
				Quantity:    qty,
				Timestamp:   ts,
			}
			if err := st.InsertTrade(ctx, t); err != nil {
				return fmt.Errorf("order matched trade: %w", err)
			}
		}

		// Fill both orders. A match can reference an order placed before
		// this service started indexing; the trade still counts, the fill
		// for the unknown side is skipped.
		fills := []struct {
			label string
			id    string
		}{
			{"buy", types.OrderKey(chainID, pool.Address, args.BuyOrderID)},
			{"sell", types.OrderKey(chainID, pool.Address, args.SellOrderID)},
		}
		for _, fill := range fills {
			o, err := st.ApplyOrderFill(ctx, fill.id, qty, ts)
			if errors.Is(err, types.ErrNotFound) {
				p.logger.Warn("match for unknown order",
					"pool", pool.Address,
					"side", fill.label,
					"tx", txHash,
				)
				continue
			}
			if err != nil {
				return fmt.Errorf("order matched %s fill: %w", fill.label, err)
			}
			orders = append(orders, o)
		}
		for _, o := range orders {
			if err := p.upsertHistory(ctx, st, o, txHash, ts); err != nil {
				return err
			}
		}

		// Symmetric depth consumption at the execution price.
		neg := new(big.Int).Neg(qty)
		for _, side := range []types.Side{args.TakerSide, args.TakerSide.Opposite()} {
			if err := st.ApplyDepthDelta(ctx, pool.Address, side, price, neg, -1, ts); err != nil {
				return fmt.Errorf("order matched depth: %w", err)
			}
		}

		// Candlestick buckets at every interval, then the trade row that
		// doubles as the applied marker.
		var bErr error
		buckets, bErr = p.applyCandles(ctx, st, pool, price, qty, args.TakerSide, ts)
		if bErr != nil {
			return bErr
		}
		if err := st.InsertOrderBookTrade(ctx, obTrade); err != nil {
			return fmt.Errorf("order matched trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !p.inSync(ctx, evt) {
		return nil
	}

	if err := p.emitTrade(ctx, pool, obTrade); err != nil {
		return err
	}
	for _, o := range orders {
		if err := p.emitExecutionReport(ctx, pool, o, execTypeTrade, qty, price, obTrade.ID, ts); err != nil {
			return err
		}
		if err := p.emitOrderUpdate(ctx, pool, o, ts); err != nil {
			return err
		}
	}
	if err := p.emitDepth(ctx, pool, ts); err != nil {
		return err
	}
	// The daily kline doubles as the mini-ticker source: the consumer derives
	// the 24hrMiniTicker frame from the 1d interval record.
	for _, b := range buckets {
		if err := p.emitKline(ctx, pool, b, ts); err != nil {
			return err
		}
	}
	return nil
}
