// Package consumer reads the chain's stream records through a consumer group
// and pushes the resulting wire frames into the WebSocket hub.
//
// Delivery is at-least-once: a record is acked only after its frames reached
// the hub, so a crash between read and ack redelivers it to the next
// consumer in the group. A failed dispatch leaves the record pending for
// redelivery, except malformed records, which are acked and logged because
// redelivering them can never succeed.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clobfeed/internal/codec"
	"clobfeed/internal/config"
	"clobfeed/internal/stream"
	"clobfeed/internal/wire"
)

// Sink is the hub surface the consumer pushes frames into.
type Sink interface {
	BroadcastToStream(name string, payload []byte)
	SendToUser(address string, payload []byte)
}

// consumed lists the stream names the fan-out serves. The orders stream is
// for auxiliary consumers and is deliberately absent, so it never accrues
// pending entries under this group.
var consumed = []string{
	stream.NameTrades,
	stream.NameDepth,
	stream.NameKlines,
	stream.NameExecutionReports,
	stream.NameBalances,
}

// Consumer is one group member serving a single chain namespace.
type Consumer struct {
	bus      stream.Bus
	sink     Sink
	chainID  uint64
	group    string
	consumer string
	batch    int64
	poll     time.Duration
	logger   *slog.Logger
}

// New creates a consumer from the service configuration.
func New(bus stream.Bus, sink Sink, cfg *config.Config, logger *slog.Logger) *Consumer {
	return &Consumer{
		bus:      bus,
		sink:     sink,
		chainID:  cfg.Chain.DefaultChainID,
		group:    cfg.ConsumerGroup(),
		consumer: cfg.ConsumerID(),
		batch:    cfg.Consumer.BatchSize,
		poll:     cfg.Consumer.PollInterval,
		logger:   logger.With("component", "consumer"),
	}
}

func (c *Consumer) keys() []string {
	out := make([]string, 0, len(consumed))
	for _, name := range consumed {
		out = append(out, stream.Key(c.chainID, name))
	}
	return out
}

// EnsureGroups creates the consumer group on every consumed stream, creating
// empty streams as needed so the first Read does not race the first Append.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, key := range c.keys() {
		if err := c.bus.CreateGroup(ctx, key, c.group, true); err != nil {
			return fmt.Errorf("create group on %s: %w", key, err)
		}
	}
	c.logger.Info("consumer groups ready", "group", c.group, "streams", len(consumed))
	return nil
}

// DestroyGroups removes the group from every consumed stream. Used when a
// deployment retires a group name, so abandoned groups do not accumulate
// pending entries forever.
func (c *Consumer) DestroyGroups(ctx context.Context) error {
	for _, key := range c.keys() {
		if err := c.bus.DestroyGroup(ctx, key, c.group); err != nil {
			return fmt.Errorf("destroy group on %s: %w", key, err)
		}
	}
	return nil
}

// Run reads and dispatches until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer starting",
		"group", c.group,
		"consumer", c.consumer,
		"chain", c.chainID,
	)
	keys := c.keys()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batches, err := c.bus.Read(ctx, c.group, c.consumer, keys, c.batch, c.poll)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Error("stream read failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.poll):
			}
			continue
		}
		for key, msgs := range batches {
			name := streamName(key)
			for _, msg := range msgs {
				err := c.dispatch(name, msg.Fields)
				if err != nil {
					c.logger.Error("record dispatch failed",
						"stream", name,
						"id", msg.ID,
						"error", err,
					)
				}
				if !shouldAck(err) {
					// Leave the record pending; the group redelivers it.
					continue
				}
				if err := c.bus.Ack(ctx, key, c.group, msg.ID); err != nil {
					c.logger.Error("ack failed", "stream", name, "id", msg.ID, "error", err)
				}
			}
		}
	}
}

// shouldAck reports whether a dispatch outcome allows acking the record.
// Malformed records can never succeed on redelivery; any other failure stays
// pending for the group to redeliver.
func shouldAck(err error) bool {
	return err == nil || errors.Is(err, wire.ErrMalformedRecord)
}

// streamName strips the chain namespace from a stream key.
func streamName(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[i+1:]
		}
	}
	return key
}

// dispatch converts one record into wire frames and pushes them to the sink.
func (c *Consumer) dispatch(name string, fields codec.FieldMap) error {
	switch name {
	case stream.NameTrades:
		frame, err := wire.Trade(fields)
		if err != nil {
			return err
		}
		return c.broadcast(frame)

	case stream.NameDepth:
		frame, err := wire.Depth(fields)
		if err != nil {
			return err
		}
		return c.broadcast(frame)

	case stream.NameKlines:
		frame, err := wire.Kline(fields)
		if err != nil {
			return err
		}
		if err := c.broadcast(frame); err != nil {
			return err
		}
		// The daily kline also feeds the mini-ticker stream.
		mini, ok, err := wire.MiniTicker(fields)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return c.broadcast(mini)

	case stream.NameExecutionReports:
		user, frame, err := wire.ExecutionReport(fields)
		if err != nil {
			return err
		}
		return c.toUser(user, frame)

	case stream.NameBalances:
		user, frame, err := wire.BalanceUpdate(fields)
		if err != nil {
			return err
		}
		return c.toUser(user, frame)
	}
	return fmt.Errorf("%w: unknown stream %q", wire.ErrMalformedRecord, name)
}

func (c *Consumer) broadcast(frame wire.Frame) error {
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	c.sink.BroadcastToStream(frame.Stream, data)
	return nil
}

func (c *Consumer) toUser(user string, frame wire.Frame) error {
	data, err := frame.Marshal()
	if err != nil {
		return err
	}
	c.sink.SendToUser(user, data)
	return nil
}
