// orders.go handles order lifecycle events other than matches: placement,
// cancellation and out-of-band status updates (expiry, rejection).
package handler

import (
	"context"
	"fmt"
	"math/big"

	"clobfeed/internal/store"
	"clobfeed/pkg/types"
)

// Wire execution types (Binance vocabulary).
const (
	execTypeNew      = "NEW"
	execTypeTrade    = "TRADE"
	execTypeCanceled = "CANCELED"
	execTypeExpired  = "EXPIRED"
	execTypeRejected = "REJECTED"
)

// HandleOrderPlaced inserts the order, records its first history transition
// and adds its quantity to the depth level. Replayed events are no-ops for
// the order row; the depth upsert is additive, so the insert-conflict no-op
// on the order is what keeps replays from double-counting depth (a duplicate
// OrderPlaced never reaches the depth write).
func (p *Processor) HandleOrderPlaced(ctx context.Context, evt *types.Event) error {
	args := evt.OrderPlaced
	if args == nil {
		return malformed("OrderPlaced: missing args")
	}
	if args.PoolAddress == "" || args.User == "" {
		return malformed("OrderPlaced: missing pool or user")
	}
	if !args.Side.Valid() {
		return malformed("OrderPlaced: invalid side %q", args.Side)
	}
	if args.Price == nil || args.Quantity == nil || args.Quantity.Sign() <= 0 {
		return malformed("OrderPlaced: missing price or quantity")
	}

	chainID := evt.Network.ChainID
	pool, err := p.store.GetPool(ctx, chainID, args.PoolAddress)
	if err != nil {
		return fmt.Errorf("order placed: %w", types.ErrUnknownPool)
	}
	ts := evt.Block.Timestamp

	order := &types.Order{
		ID:           types.OrderKey(chainID, pool.Address, args.OrderID),
		ChainID:      chainID,
		PoolAddress:  pool.Address,
		OrderID:      args.OrderID,
		User:         types.NormalizeAddress(args.User),
		Side:         args.Side,
		Type:         args.Type,
		Price:        args.Price,
		Quantity:     args.Quantity,
		Filled:       new(big.Int),
		Status:       types.StatusOpen,
		Expiry:       args.Expiry,
		CreatedTs:    ts,
		LastUpdateTs: ts,
	}

	existing, err := p.store.GetOrder(ctx, order.ID)
	if err == nil && existing != nil {
		// Duplicate placement: entity state is already correct.
		return nil
	}
	if err := p.store.InsertOrder(ctx, order); err != nil {
		return fmt.Errorf("order placed: %w", err)
	}

	if err := p.upsertHistory(ctx, p.store, order, evt.Transaction.Hash, ts); err != nil {
		return err
	}

	if err := p.store.ApplyDepthDelta(ctx, pool.Address, order.Side, order.Price,
		order.Quantity, 1, ts); err != nil {
		return fmt.Errorf("order placed depth: %w", err)
	}

	if !p.inSync(ctx, evt) {
		return nil
	}
	if err := p.emitExecutionReport(ctx, pool, order, execTypeNew, new(big.Int), new(big.Int), "", ts); err != nil {
		return err
	}
	if err := p.emitOrderUpdate(ctx, pool, order, ts); err != nil {
		return err
	}
	return p.emitDepth(ctx, pool, ts)
}

// HandleOrderCancelled marks the order cancelled and refunds its remaining
// open quantity to the depth level.
func (p *Processor) HandleOrderCancelled(ctx context.Context, evt *types.Event) error {
	args := evt.OrderCancelled
	if args == nil {
		return malformed("OrderCancelled: missing args")
	}
	if args.PoolAddress == "" {
		return malformed("OrderCancelled: missing pool")
	}

	chainID := evt.Network.ChainID
	pool, err := p.store.GetPool(ctx, chainID, args.PoolAddress)
	if err != nil {
		return fmt.Errorf("order cancelled: %w", types.ErrUnknownPool)
	}
	ts := evt.Block.Timestamp

	id := types.OrderKey(chainID, pool.Address, args.OrderID)
	before, err := p.store.GetOrder(ctx, id)
	if err != nil {
		p.logger.Warn("cancel for unknown order", "pool", pool.Address, "order", args.OrderID)
		return nil
	}
	remaining := before.Remaining()

	order, err := p.store.SetOrderStatus(ctx, id, types.StatusCancelled, ts)
	if err != nil {
		return fmt.Errorf("order cancelled: %w", err)
	}

	if remaining.Sign() > 0 {
		neg := new(big.Int).Neg(remaining)
		if err := p.store.ApplyDepthDelta(ctx, pool.Address, order.Side, order.Price,
			neg, -1, ts); err != nil {
			return fmt.Errorf("order cancelled depth: %w", err)
		}
	}

	if err := p.upsertHistory(ctx, p.store, order, evt.Transaction.Hash, ts); err != nil {
		return err
	}

	if !p.inSync(ctx, evt) {
		return nil
	}
	if err := p.emitExecutionReport(ctx, pool, order, execTypeCanceled, new(big.Int), new(big.Int), "", ts); err != nil {
		return err
	}
	if err := p.emitOrderUpdate(ctx, pool, order, ts); err != nil {
		return err
	}
	return p.emitDepth(ctx, pool, ts)
}

// HandleUpdateOrder applies an out-of-band status transition. An expiry
// refunds the order's remaining open quantity from the depth level, the same
// amount a cancel would (refunding the full original quantity would
// double-count partially filled orders).
func (p *Processor) HandleUpdateOrder(ctx context.Context, evt *types.Event) error {
	args := evt.UpdateOrder
	if args == nil {
		return malformed("UpdateOrder: missing args")
	}
	if args.PoolAddress == "" {
		return malformed("UpdateOrder: missing pool")
	}

	chainID := evt.Network.ChainID
	pool, err := p.store.GetPool(ctx, chainID, args.PoolAddress)
	if err != nil {
		return fmt.Errorf("update order: %w", types.ErrUnknownPool)
	}
	ts := evt.Block.Timestamp

	id := types.OrderKey(chainID, pool.Address, args.OrderID)
	before, err := p.store.GetOrder(ctx, id)
	if err != nil {
		p.logger.Warn("update for unknown order", "pool", pool.Address, "order", args.OrderID)
		return nil
	}
	remaining := before.Remaining()

	order, err := p.store.SetOrderStatus(ctx, id, args.Status, ts)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if args.Status == types.StatusExpired && order.Side.Valid() && remaining.Sign() > 0 {
		neg := new(big.Int).Neg(remaining)
		if err := p.store.ApplyDepthDelta(ctx, pool.Address, order.Side, order.Price,
			neg, -1, ts); err != nil {
			return fmt.Errorf("update order depth: %w", err)
		}
	}

	if err := p.upsertHistory(ctx, p.store, order, evt.Transaction.Hash, ts); err != nil {
		return err
	}

	if !p.inSync(ctx, evt) {
		return nil
	}
	execType := execTypeNew
	switch args.Status {
	case types.StatusExpired:
		execType = execTypeExpired
	case types.StatusRejected:
		execType = execTypeRejected
	case types.StatusCancelled:
		execType = execTypeCanceled
	}
	if err := p.emitExecutionReport(ctx, pool, order, execType, new(big.Int), new(big.Int), "", ts); err != nil {
		return err
	}
	if err := p.emitOrderUpdate(ctx, pool, order, ts); err != nil {
		return err
	}
	return p.emitDepth(ctx, pool, ts)
}

// upsertHistory records the order's current state as one history transition
// through st (the base store or an open transaction), keyed so a replay
// overwrites rather than duplicates.
func (p *Processor) upsertHistory(ctx context.Context, st store.Store, o *types.Order, txHash string, ts int64) error {
	h := &types.OrderHistory{
		ID:          types.HistoryID(o.ChainID, o.PoolAddress, o.OrderID, txHash, o.Filled),
		ChainID:     o.ChainID,
		PoolAddress: o.PoolAddress,
		OrderID:     o.OrderID,
		TxHash:      txHash,
		User:        o.User,
		Side:        o.Side,
		Price:       o.Price,
		Quantity:    o.Quantity,
		Filled:      o.Filled,
		Status:      o.Status,
		Timestamp:   ts,
	}
	if err := st.UpsertOrderHistory(ctx, h); err != nil {
		return fmt.Errorf("order history: %w", err)
	}
	return nil
}
