package hub

import (
	"log"
	"sync"

	"Linkup/server/internal/models"
	"Linkup/server/internal/telemetry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const sendQueueSize = 256

// Client is one live connection of one authenticated user. A user may
// hold several clients at once (multi-device).
type Client struct {
	ID     string
	UserID int

	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan models.Event

	// viewing is the peer user id of the conversation this connection has
	// open, 0 when none. Guarded by the hub's registry lock.
	viewing int
}

func NewClient(userID int, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		conn:   conn,
		send:   make(chan models.Event, sendQueueSize),
	}
}

// Enqueue hands an event to the connection's writer. The channel keeps
// per-connection delivery ordered. A full queue means the client stopped
// draining, so the connection is closed instead of blocking a broadcast.
func (c *Client) Enqueue(ev models.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- ev:
		telemetry.EventsDelivered.WithLabelValues(ev.Event).Inc()
		return true
	default:
		log.Printf("Send queue full for user %d connection %s, dropping connection", c.UserID, c.ID)
		telemetry.EventsDropped.Inc()
		c.closed = true
		close(c.send)
		return false
	}
}

// Close shuts the send queue down. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// WritePump drains the send queue onto the transport. It is the only
// goroutine writing to the connection (gorilla allows one writer).
func (c *Client) WritePump() {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			log.Printf("Error writing to user %d connection %s: %v", c.UserID, c.ID, err)
			break
		}
	}
	c.conn.Close()
}
