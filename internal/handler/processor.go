// Package handler contains the event-processing pipeline: deterministic
// reducers that turn decoded blockchain events into entity updates and typed
// stream records.
//
// Each reducer follows the same discipline:
//
//  1. Validate required fields; fail fast with ErrMalformedEvent.
//  2. Derive stable IDs via the content-addressable hashing scheme.
//  3. Apply entity writes. Upserts carry the accumulation semantics, so a
//     replayed event is a no-op and a concurrent conflict accumulates.
//  4. Only when the sync gate reports the event's block has reached the
//     enable watermark, build wire payloads and append them to the streams
//     that feed the WebSocket fan-out. During historical backfill the
//     durable writes still happen; the appends are skipped entirely, so
//     consumers never see backfill records.
//
// The indexer serializes events per chain in block/log order, so reducers
// may treat entity mutations as linearizable and hold no locks.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"clobfeed/internal/store"
	"clobfeed/internal/stream"
	"clobfeed/internal/syncgate"
	"clobfeed/pkg/types"
)

// DepthSnapshotLimit is how many levels per side the depth stream carries.
// Full snapshots, not diffs: on-chain events are rare enough that pushing the
// whole top of book keeps subscriber state trivial.
const DepthSnapshotLimit = 20

// Processor is the reducer carrying the store and stream-bus handles.
// One Processor serves all chains; the event's network metadata selects the
// chain namespace.
type Processor struct {
	store  store.Store
	bus    stream.Bus
	gate   *syncgate.Gate
	logger *slog.Logger
}

// New creates a Processor.
func New(st store.Store, bus stream.Bus, gate *syncgate.Gate, logger *slog.Logger) *Processor {
	return &Processor{
		store:  st,
		bus:    bus,
		gate:   gate,
		logger: logger.With("component", "handler"),
	}
}

// Dispatch routes one decoded event to its reducer.
//
// MALFORMED_EVENT and unknown-pool lookups are handled locally (logged, no
// state change, nil error for unknown pools so the indexer does not retry a
// block that can never succeed). Store and stream failures propagate so the
// caller can retry the block; stream appends happen after entity writes and
// a failed append surfaces rather than acking a half-processed event.
func (p *Processor) Dispatch(ctx context.Context, evt *types.Event) error {
	var err error
	switch evt.Kind {
	case types.EvPoolCreated:
		err = p.HandlePoolCreated(ctx, evt)
	case types.EvOrderPlaced:
		err = p.HandleOrderPlaced(ctx, evt)
	case types.EvOrderMatched:
		err = p.HandleOrderMatched(ctx, evt)
	case types.EvOrderCancelled:
		err = p.HandleOrderCancelled(ctx, evt)
	case types.EvUpdateOrder:
		err = p.HandleUpdateOrder(ctx, evt)
	case types.EvDeposit, types.EvWithdrawal, types.EvLock, types.EvUnlock,
		types.EvTransferFrom, types.EvTransferLocked, types.EvFaucet:
		err = p.HandleBalanceEvent(ctx, evt)
	default:
		return fmt.Errorf("%w: unknown event kind %q", types.ErrMalformedEvent, evt.Kind)
	}

	if errors.Is(err, types.ErrUnknownPool) {
		p.logger.Warn("event references unknown pool",
			"kind", evt.Kind,
			"block", evt.Block.Number,
			"tx", evt.Transaction.Hash,
		)
		return nil
	}
	return err
}

// inSync reports whether live push emission is enabled for the event.
func (p *Processor) inSync(ctx context.Context, evt *types.Event) bool {
	return p.gate.IsInSync(ctx, evt.Block.Number)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrMalformedEvent, fmt.Sprintf(format, args...))
}
