// redis.go implements the Bus on Redis Streams (XADD / XREADGROUP / XACK).
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"clobfeed/internal/codec"
)

// Redis is the production Bus backed by Redis Streams.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing go-redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Append XADDs the fields with an auto-generated ID ("*").
func (r *Redis) Append(ctx context.Context, key string, fields codec.FieldMap) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		ID:     "*",
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", key, err)
	}
	return id, nil
}

// CreateGroup ensures the group exists, reading from the stream head ("0" is
// deliberate: a freshly created group replays everything already appended, so
// a consumer started after a backfill still sees the backfilled records).
// BUSYGROUP from a concurrent or earlier creation is not an error.
func (r *Redis) CreateGroup(ctx context.Context, key, group string, createStream bool) error {
	var err error
	if createStream {
		err = r.client.XGroupCreateMkStream(ctx, key, group, "0").Err()
	} else {
		err = r.client.XGroupCreate(ctx, key, group, "0").Err()
	}
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("xgroup create %s %s: %w", key, group, err)
	}
	return nil
}

// Read XREADGROUPs unclaimed messages (">") across the given keys.
// A nil map with nil error means the block timed out with nothing to read.
func (r *Redis) Read(ctx context.Context, group, consumer string, keys []string, count int64, block time.Duration) (map[string][]Message, error) {
	streams := make([]string, 0, len(keys)*2)
	streams = append(streams, keys...)
	for range keys {
		streams = append(streams, ">")
	}

	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streams,
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", group, err)
	}

	out := make(map[string][]Message, len(res))
	for _, s := range res {
		msgs := make([]Message, 0, len(s.Messages))
		for _, m := range s.Messages {
			fields := make(codec.FieldMap, len(m.Values))
			for k, v := range m.Values {
				if sv, ok := v.(string); ok {
					fields[k] = sv
				} else {
					fields[k] = fmt.Sprint(v)
				}
			}
			msgs = append(msgs, Message{ID: m.ID, Fields: fields})
		}
		out[s.Stream] = msgs
	}
	return out, nil
}

// Ack removes the message from the group's pending list.
func (r *Redis) Ack(ctx context.Context, key, group, id string) error {
	if err := r.client.XAck(ctx, key, group, id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", key, id, err)
	}
	return nil
}

// DestroyGroup removes the group; destroying a non-existent group is a no-op.
func (r *Redis) DestroyGroup(ctx context.Context, key, group string) error {
	err := r.client.XGroupDestroy(ctx, key, group).Err()
	if err != nil && !strings.Contains(err.Error(), "NOGROUP") {
		return fmt.Errorf("xgroup destroy %s %s: %w", key, group, err)
	}
	return nil
}

// Exists reports whether the stream key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}
