package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/notifyx/notifyx/internal/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024

	// Size of the send channel buffer
	sendBufferSize = 64
)

// Client is one WebSocket connection scoped to an authenticated tenant.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Envelope

	id        string
	principal domain.Principal
	logger    zerolog.Logger
}

// NewClient creates a Client instance.
func NewClient(id string, principal domain.Principal, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan Envelope, sendBufferSize),
		id:        id,
		principal: principal,
		logger: hub.logger.With().
			Str("client_id", id).
			Str("tenant_id", principal.TenantID).
			Logger(),
	}
}

// deliver enqueues an envelope without blocking the hub. A full send
// buffer drops the message; at-least-once is preserved by the per-run
// sequence numbers, which let the consumer detect the gap and refetch.
func (c *Client) deliver(env Envelope) {
	select {
	case c.send <- env:
	default:
		c.logger.Warn().Msg("client send buffer full, dropping event")
	}
}

// readPump reads commands from the connection and forwards them to the
// hub until the peer closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket unexpected close")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.deliver(Envelope{Response: &Response{
				Type: "error", Success: false, Error: "invalid command payload",
			}})
			continue
		}
		c.hub.handleCommand(c, cmd)
	}
}

// writePump writes queued envelopes and pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
