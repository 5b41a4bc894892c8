// Package syncgate implements the process-wide predicate that separates
// historical backfill from live operation.
//
// The gate holds a single advancing watermark, the "WebSocket enable block".
// During backfill the handlers still perform every durable write, but live
// push side-effects (stream appends feeding the WebSocket fan-out) are
// suppressed until the indexer reaches the watermark; subscribers read
// snapshots via REST instead.
//
// The watermark is initialized once at process start, either from the
// ENABLE_WEBSOCKET_BLOCK_NUMBER override or from the chain head at boot, and
// persisted in the shared cache without expiry. Re-initialization keeps an
// already persisted watermark, so the gate is monotonic across restarts and
// enabling twice yields the same value.
package syncgate

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// KV is the small slice of the shared cache the gate needs. The production
// implementation is Redis; tests use an in-process map.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetNX(ctx context.Context, key, value string) (bool, error)
}

// Gate guards live push emission behind the enable-block watermark.
type Gate struct {
	kv  KV
	key string

	mu        sync.RWMutex
	watermark uint64
	loaded    bool
}

// New creates a gate for one chain namespace.
func New(kv KV, chainID uint64) *Gate {
	return &Gate{
		kv:  kv,
		key: fmt.Sprintf("chain:%d:websocket_enable_block", chainID),
	}
}

// Init establishes the watermark. A watermark already persisted in the cache
// wins over the candidate, keeping the gate monotonic across restarts.
func (g *Gate) Init(ctx context.Context, candidate uint64) (uint64, error) {
	set, err := g.kv.SetNX(ctx, g.key, strconv.FormatUint(candidate, 10))
	if err != nil {
		return 0, fmt.Errorf("persist watermark: %w", err)
	}
	if set {
		g.mu.Lock()
		g.watermark, g.loaded = candidate, true
		g.mu.Unlock()
		return candidate, nil
	}
	return g.load(ctx)
}

func (g *Gate) load(ctx context.Context) (uint64, error) {
	val, ok, err := g.kv.Get(ctx, g.key)
	if err != nil {
		return 0, fmt.Errorf("load watermark: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("watermark not initialized")
	}
	wm, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %q: %w", val, err)
	}
	g.mu.Lock()
	g.watermark, g.loaded = wm, true
	g.mu.Unlock()
	return wm, nil
}

// IsInSync reports whether the given event block has reached the watermark.
// The gate never errors here: before Init (or on a cache miss) it reports
// false, silently suppressing live emission.
func (g *Gate) IsInSync(ctx context.Context, block uint64) bool {
	g.mu.RLock()
	wm, loaded := g.watermark, g.loaded
	g.mu.RUnlock()

	if !loaded {
		var err error
		if wm, err = g.load(ctx); err != nil {
			return false
		}
	}
	return block >= wm
}

// ExecuteIfInSync runs fn only when the block has reached the watermark.
// Handlers route every live-push side-effect through this guard.
func (g *Gate) ExecuteIfInSync(ctx context.Context, block uint64, fn func() error) error {
	if !g.IsInSync(ctx, block) {
		return nil
	}
	return fn()
}

// ————————————————————————————————————————————————————————————————————————
// KV implementations
// ————————————————————————————————————————————————————————————————————————

// RedisKV adapts a go-redis client to the KV interface. Values are stored
// without expiry; the watermark lives as long as the deployment's data.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps an existing go-redis client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) SetNX(ctx context.Context, key, value string) (bool, error) {
	return r.client.SetNX(ctx, key, value, 0).Result()
}

// MemoryKV is an in-process KV for tests and local development.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryKV creates an empty in-process KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) SetNX(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}
