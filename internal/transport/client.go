// SPDX-License-Identifier: MIT

package transport

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/jwhector/yggdrasil/internal/metrics"
	"github.com/jwhector/yggdrasil/internal/projection"
	"github.com/jwhector/yggdrasil/internal/show"
)

// sendBufferSize bounds the per-client outbound queue. A client that cannot
// drain this many messages is dropped behind, never blocks the show.
const sendBufferSize = 32

// Client is one live websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	mu          sync.Mutex
	role        projection.Role
	userID      show.UserID // empty until bound by join/reconnect
	missedPings int

	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, role projection.Role) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		role:   role,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Role returns the client's role.
func (c *Client) Role() projection.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// UserID returns the bound user id, empty if the client never joined.
func (c *Client) UserID() show.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) bind(userID show.UserID) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// enqueue queues one encoded message, dropping it if the client's buffer is
// full. Ordering per client is preserved by the single writer loop.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.closed:
	default:
		metrics.DroppedMessagesTotal.Inc()
	}
}

// enqueueMsg encodes and queues one message.
func (c *Client) enqueueMsg(msg Outbound) {
	data, err := encodeOutbound(msg)
	if err != nil {
		c.hub.log.Error().Str("event", "transport.encode_failed").Err(err).Msg("drop unencodable message")
		return
	}
	c.enqueue(data)
}

// writeLoop drains the send queue onto the socket. It owns all writes.
func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, c.hub.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// close shuts the connection down once; safe from any goroutine.
func (c *Client) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close(code, reason)
	})
}

// closeNow tears the connection down without the close handshake. A peer
// that stopped reading cannot stall it, which close can for seconds.
func (c *Client) closeNow() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.CloseNow()
	})
}

// evict delivers one final message past the send queue, then tears the
// connection down immediately. The direct write is safe: the websocket
// serialises concurrent writers, and nothing after this message matters.
func (c *Client) evict(msg Outbound) {
	data, err := encodeOutbound(msg)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.hub.writeTimeout)
		_ = c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}
	c.closeNow()
}
