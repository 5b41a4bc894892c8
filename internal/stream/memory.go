// memory.go implements an in-process Bus with the same observable semantics
// as the Redis implementation: per-stream FIFO, monotonic IDs, idempotent
// group lifecycle and pending-until-ack. Used by tests and local development.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"clobfeed/internal/codec"
)

// Memory is an in-process Bus.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*memStream
}

type memStream struct {
	next    uint64
	entries []Message
	groups  map[string]*memGroup
}

type memGroup struct {
	cursor  int               // index into entries of the next undelivered message
	pending map[string]string // message ID -> consumer
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string]*memStream)}
}

func (m *Memory) stream(key string, create bool) *memStream {
	s, ok := m.streams[key]
	if !ok && create {
		s = &memStream{next: 1, groups: make(map[string]*memGroup)}
		m.streams[key] = s
	}
	return s
}

// Append adds the record and returns its monotonic ID.
func (m *Memory) Append(_ context.Context, key string, fields codec.FieldMap) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(key, true)
	id := fmt.Sprintf("%d-0", s.next)
	s.next++
	cp := make(codec.FieldMap, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.entries = append(s.entries, Message{ID: id, Fields: cp})
	return id, nil
}

// CreateGroup is idempotent. Without createStream it fails when the stream
// does not exist, mirroring Redis' NOGROUP behavior.
func (m *Memory) CreateGroup(_ context.Context, key, group string, createStream bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(key, createStream)
	if s == nil {
		return fmt.Errorf("create group %s: stream %s does not exist", group, key)
	}
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &memGroup{pending: make(map[string]string)}
	}
	return nil
}

// Read delivers unclaimed messages past each group cursor, marking them
// pending for the consumer. Blocks up to block when nothing is available.
func (m *Memory) Read(ctx context.Context, group, consumer string, keys []string, count int64, block time.Duration) (map[string][]Message, error) {
	deadline := time.Now().Add(block)
	for {
		out := m.readOnce(group, consumer, keys, count)
		if len(out) > 0 {
			return out, nil
		}
		if block <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (m *Memory) readOnce(group, consumer string, keys []string, count int64) map[string][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]Message)
	for _, key := range keys {
		s := m.stream(key, false)
		if s == nil {
			continue
		}
		g, ok := s.groups[group]
		if !ok {
			continue
		}
		var msgs []Message
		for g.cursor < len(s.entries) && int64(len(msgs)) < count {
			msg := s.entries[g.cursor]
			g.cursor++
			g.pending[msg.ID] = consumer
			msgs = append(msgs, msg)
		}
		if len(msgs) > 0 {
			out[key] = msgs
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Ack removes the message from the group's pending list.
func (m *Memory) Ack(_ context.Context, key, group, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(key, false)
	if s == nil {
		return nil
	}
	if g, ok := s.groups[group]; ok {
		delete(g.pending, id)
	}
	return nil
}

// DestroyGroup removes the group if present.
func (m *Memory) DestroyGroup(_ context.Context, key, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.stream(key, false); s != nil {
		delete(s.groups, group)
	}
	return nil
}

// Exists reports whether the stream key is present.
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[key]
	return ok, nil
}

// Pending returns how many delivered-but-unacked messages the group holds.
// Test helper.
func (m *Memory) Pending(key, group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(key, false)
	if s == nil {
		return 0
	}
	if g, ok := s.groups[group]; ok {
		return len(g.pending)
	}
	return 0
}

// Entries returns a copy of every record appended to the stream. Test helper.
func (m *Memory) Entries(key string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stream(key, false)
	if s == nil {
		return nil
	}
	out := make([]Message, len(s.entries))
	copy(out, s.entries)
	return out
}
