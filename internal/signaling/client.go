package signaling

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one websocket connection attached to the hub.
type Client struct {
	ID string
	// Identity, when set before Register, is announced on connect.
	Identity *models.Identity

	hub     *Hub
	conn    *websocket.Conn
	codec   protocol.Codec
	send    chan []byte
	limiter *rate.Limiter
}

// NewClient wraps conn with a fresh connection id. conn may be nil for
// clients driven directly through the hub.
func NewClient(hub *Hub, conn *websocket.Conn, codec protocol.Codec) *Client {
	c := &Client{
		ID:    uuid.NewString(),
		hub:   hub,
		conn:  conn,
		codec: codec,
		send:  make(chan []byte, hub.opts.SendBuffer),
	}
	if hub.opts.MessageRate > 0 {
		burst := hub.opts.MessageBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(hub.opts.MessageRate), burst)
	}
	return c
}

// enqueue encodes env and queues it without blocking. Called from the hub
// loop only.
func (c *Client) enqueue(env models.Envelope) bool {
	data, err := c.codec.Encode(env)
	if err != nil {
		log.Errorf("Failed to encode %s for %s: %v", env.Event, c.ID, err)
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		log.Warnf("Failed to send %s to %s, buffer full", env.Event, c.ID)
		return false
	}
}

// ReadPump reads frames until the connection fails, then unregisters.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("WebSocket error on %s: %v", c.ID, err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			log.Warnf("Rate limit exceeded for %s, dropping message", c.ID)
			continue
		}

		frame, err := c.codec.Decode(message)
		if err != nil {
			log.Debugf("Failed to parse message from %s: %v", c.ID, err)
			continue
		}
		if !c.hub.submit(c, frame) {
			return
		}
	}
}

// WritePump drains the send queue to the socket and keeps it alive with
// pings. It exits when the hub closes the queue.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
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

			if err := c.conn.WriteMessage(c.codec.MessageType(), message); err != nil {
				log.Debugf("Failed to write to %s: %v", c.ID, err)
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
