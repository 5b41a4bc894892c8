// Package ws is the WebSocket fan-out gateway: it tracks connected clients,
// their market-stream subscriptions and the address each connection
// authenticated as, and routes wire frames to them.
//
// Market frames go to every subscriber of the frame's stream name; user
// frames (execution reports, balance updates) go only to the connections
// registered under the owning address. Per-connection send queues are
// bounded: a slow subscriber loses market frames (oldest first) but a user
// frame that cannot be queued closes the connection, because user streams
// must never silently gap.
package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"clobfeed/internal/config"
	"clobfeed/pkg/types"
)

// Hub manages WebSocket clients and routes frames to them.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	streams map[string]map[*Client]struct{} // subscription name -> subscribers
	users   map[string]map[*Client]struct{} // lowercased address -> connections

	framesSent    atomic.Int64
	framesDropped atomic.Int64
}

// Stats is a point-in-time view of the hub, reported by the health endpoint.
type Stats struct {
	Connections   int   `json:"connections"`
	Subscriptions int   `json:"subscriptions"`
	FramesSent    int64 `json:"framesSent"`
	FramesDropped int64 `json:"framesDropped"`
}

// NewHub creates a hub.
func NewHub(cfg config.WebSocketConfig, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "ws-hub"),
		clients: make(map[*Client]struct{}),
		streams: make(map[string]map[*Client]struct{}),
		users:   make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if c.address != "" {
		set, ok := h.users[c.address]
		if !ok {
			set = make(map[*Client]struct{})
			h.users[c.address] = set
		}
		set[c] = struct{}{}
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", "address", c.address, "count", count)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for name := range c.subs {
		h.dropSubLocked(name, c)
	}
	if set, ok := h.users[c.address]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.address)
		}
	}
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", "address", c.address, "count", count)
}

func (h *Hub) dropSubLocked(name string, c *Client) {
	if set, ok := h.streams[name]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.streams, name)
		}
	}
}

// subscribe adds the client to one validated stream name.
func (h *Hub) subscribe(c *Client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.streams[name]
	if !ok {
		set = make(map[*Client]struct{})
		h.streams[name] = set
	}
	set[c] = struct{}{}
	c.subs[name] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropSubLocked(name, c)
	delete(c.subs, name)
}

func (h *Hub) subscriptions(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for name := range c.subs {
		out = append(out, name)
	}
	return out
}

// BroadcastToStream delivers one market frame to every subscriber of the
// stream name. Slow subscribers lose the oldest queued frame instead of
// stalling the fan-out.
func (h *Hub) BroadcastToStream(name string, payload []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.streams[name]))
	for c := range h.streams[name] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.enqueue(payload, false) {
			h.framesSent.Add(1)
		} else {
			h.framesDropped.Add(1)
		}
	}
}

// SendToUser delivers one user frame to every connection registered under the
// address. A connection that cannot queue the frame is closed.
func (h *Hub) SendToUser(address string, payload []byte) {
	address = types.NormalizeAddress(address)
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[address]))
	for c := range h.users[address] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.enqueue(payload, true) {
			h.framesSent.Add(1)
		} else {
			h.framesDropped.Add(1)
			h.logger.Warn("closing client behind on user frames", "address", address)
			c.closeSlow()
		}
	}
}

// Stats snapshots the hub counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	subs := 0
	for _, set := range h.streams {
		subs += len(set)
	}
	s := Stats{
		Connections:   len(h.clients),
		Subscriptions: subs,
		FramesSent:    h.framesSent.Load(),
		FramesDropped: h.framesDropped.Load(),
	}
	h.mu.RUnlock()
	return s
}
