package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024
)

// pongWait is the read-deadline extension granted per pong: two ping
// intervals, so a single lost pong does not drop the connection.
func pongWait(pingInterval time.Duration) time.Duration {
	return 2 * pingInterval
}

// Client is one WebSocket connection: its bounded outbound queue, the
// address it connected as and its live subscription set.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	address string              // lowercased, may be empty for market-only clients
	subs    map[string]struct{} // guarded by hub.mu
	limiter *rate.Limiter

	sendMu sync.Mutex
	closed bool
}

// NewClient registers a connection with the hub and starts its pumps.
// address may be empty; such clients receive only market streams.
func NewClient(hub *Hub, conn *websocket.Conn, address string) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, hub.cfg.SendQueueSize),
		address: address,
		subs:    make(map[string]struct{}),
		limiter: rate.NewLimiter(rate.Limit(hub.cfg.RateLimit), hub.cfg.RateBurst),
	}
	hub.register(c)

	go c.writePump()
	go c.readPump()

	return c
}

// enqueue queues one frame without blocking. For market frames a full queue
// sheds the oldest queued frame to make room; for user frames (critical) a
// full queue is a failure the caller handles by closing the connection.
func (c *Client) enqueue(payload []byte, critical bool) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
	}
	if critical {
		return false
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) markClosed() {
	c.sendMu.Lock()
	c.closed = true
	c.sendMu.Unlock()
}

// closeSlow tears down the connection; the read pump's exit unregisters it.
func (c *Client) closeSlow() {
	c.conn.Close()
}

// writePump pumps queued frames to the connection and keeps it alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads control messages from the connection until it drops.
func (c *Client) readPump() {
	defer func() {
		c.markClosed()
		c.hub.unregister(c)
		c.conn.Close()
	}()

	wait := pongWait(c.hub.cfg.PingInterval)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "address", c.address, "error", err)
			}
			break
		}
		c.handleControl(data)
	}
}

// handleControl executes one inbound control message. The rate limiter is
// consulted before any parsing, so a flood of garbage costs no more than a
// flood of valid requests.
func (c *Client) handleControl(data []byte) {
	if !c.limiter.Allow() {
		c.reply(errorResponse(nil, "rate limit exceeded"))
		return
	}
	var req controlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(errorResponse(nil, "invalid control message"))
		return
	}

	switch req.Method {
	case methodSubscribe:
		var bad []string
		for _, name := range req.Params {
			if !ValidStreamName(name) {
				bad = append(bad, name)
				continue
			}
			c.hub.subscribe(c, name)
		}
		if len(bad) > 0 {
			c.reply(errorResponse(req.ID, "invalid stream name: "+bad[0]))
			return
		}
		c.reply(resultResponse(req.ID, nil))

	case methodUnsubscribe:
		for _, name := range req.Params {
			c.hub.unsubscribe(c, name)
		}
		c.reply(resultResponse(req.ID, nil))

	case methodListSubscriptions:
		c.reply(resultResponse(req.ID, c.hub.subscriptions(c)))

	case methodPing:
		c.reply(resultResponse(req.ID, "pong"))

	default:
		c.reply(errorResponse(req.ID, "unknown method"))
	}
}

// reply queues a control response. Control responses ride the same queue as
// frames; a client too slow for its own replies is shed as a slow consumer.
func (c *Client) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if !c.enqueue(data, false) {
		c.hub.framesDropped.Add(1)
	}
}
