// Package intake reads decoded blockchain events off the indexer's event
// stream and drives them through the processing pipeline.
//
// The indexer appends one flat record per decoded log to the chain's events
// stream; intake consumes them through its own group, rebuilds the typed
// Event and dispatches it. A record is acked only after the pipeline
// succeeded, so store or bus failures leave it pending for redelivery and
// the stream's per-chain ordering gives the pipeline its linearized view.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clobfeed/internal/config"
	"clobfeed/internal/handler"
	"clobfeed/internal/stream"
	"clobfeed/pkg/types"
)

// StreamName is the per-chain events stream appended by the indexer.
const StreamName = "events"

// Intake is the event-stream consumer feeding the processor.
type Intake struct {
	bus       stream.Bus
	processor *handler.Processor
	chainID   uint64
	group     string
	consumer  string
	batch     int64
	poll      time.Duration
	logger    *slog.Logger
}

// New creates an intake consumer. It runs in its own group, separate from the
// fan-out consumers, so the two sides progress independently.
func New(bus stream.Bus, p *handler.Processor, cfg *config.Config, logger *slog.Logger) *Intake {
	return &Intake{
		bus:       bus,
		processor: p,
		chainID:   cfg.Chain.DefaultChainID,
		group:     fmt.Sprintf("event-processors-%d", cfg.Chain.DefaultChainID),
		consumer:  cfg.ConsumerID(),
		batch:     cfg.Consumer.BatchSize,
		poll:      cfg.Consumer.PollInterval,
		logger:    logger.With("component", "intake"),
	}
}

func (i *Intake) key() string { return stream.Key(i.chainID, StreamName) }

// EnsureGroup creates the processing group on the events stream.
func (i *Intake) EnsureGroup(ctx context.Context) error {
	if err := i.bus.CreateGroup(ctx, i.key(), i.group, true); err != nil {
		return fmt.Errorf("create intake group: %w", err)
	}
	return nil
}

// Run consumes and processes until the context is cancelled.
func (i *Intake) Run(ctx context.Context) error {
	i.logger.Info("intake starting", "group", i.group, "chain", i.chainID)
	keys := []string{i.key()}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batches, err := i.bus.Read(ctx, i.group, i.consumer, keys, i.batch, i.poll)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			i.logger.Error("event stream read failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(i.poll):
			}
			continue
		}
		for _, msgs := range batches {
			for _, msg := range msgs {
				if err := i.process(ctx, msg); err != nil {
					return err
				}
			}
		}
	}
}

// process applies one record. Transient failures (store or bus down) are
// retried in place rather than skipped, because a later record must never
// overtake a failed one within the chain's ordering.
func (i *Intake) process(ctx context.Context, msg stream.Message) error {
	evt, err := DecodeEvent(msg.Fields)
	if err != nil {
		// A record that cannot decode never will; ack and move on.
		i.logger.Error("malformed event record", "id", msg.ID, "error", err)
		return i.bus.Ack(ctx, i.key(), i.group, msg.ID)
	}
	for {
		err := i.processor.Dispatch(ctx, evt)
		if err == nil {
			break
		}
		if errors.Is(err, types.ErrMalformedEvent) {
			i.logger.Error("malformed event", "id", msg.ID, "kind", evt.Kind, "error", err)
			break
		}
		i.logger.Error("event processing failed, retrying",
			"id", msg.ID,
			"kind", evt.Kind,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.poll):
		}
	}
	return i.bus.Ack(ctx, i.key(), i.group, msg.ID)
}
