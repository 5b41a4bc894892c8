// Package stream provides the append-only event bus that decouples the event
// handlers (producers) from the WebSocket fan-out (consumers).
//
// Streams are ordered per key with monotonic IDs; consumer groups give
// at-least-once delivery with per-message acks. The production implementation
// sits on Redis Streams; Memory mirrors the same semantics for tests and
// local development.
package stream

import (
	"context"
	"fmt"
	"time"

	"clobfeed/internal/codec"
)

// Stream names appended by the event handlers within one chain namespace.
const (
	NameTrades           = "trades"
	NameBalances         = "balances"
	NameOrders           = "orders"
	NameDepth            = "depth"
	NameKlines           = "klines"
	NameExecutionReports = "execution_reports"
)

// Names lists every stream the pipeline produces, in enumeration order.
var Names = []string{
	NameTrades, NameBalances, NameOrders, NameDepth, NameKlines, NameExecutionReports,
}

// Key builds the chain-namespaced stream key, e.g. "chain:31337:trades".
func Key(chainID uint64, name string) string {
	return fmt.Sprintf("chain:%d:%s", chainID, name)
}

// Message is one delivered stream record. ID is the bus-assigned monotonic
// identifier used for acking.
type Message struct {
	ID     string
	Fields codec.FieldMap
}

// Bus is the append-only ordered stream abstraction.
//
// Append preserves total order per stream. CreateGroup is idempotent; with
// createStream it also creates an empty stream when absent. Read blocks up to
// block for unclaimed messages; every delivered ID is pending for the
// (group, consumer) pair until Ack. DestroyGroup is idempotent.
type Bus interface {
	Append(ctx context.Context, key string, fields codec.FieldMap) (string, error)
	CreateGroup(ctx context.Context, key, group string, createStream bool) error
	Read(ctx context.Context, group, consumer string, keys []string, count int64, block time.Duration) (map[string][]Message, error)
	Ack(ctx context.Context, key, group, id string) error
	DestroyGroup(ctx context.Context, key, group string) error
	Exists(ctx context.Context, key string) (bool, error)
}
