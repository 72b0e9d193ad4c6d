// Package client is the endpoint side of the relay: a websocket connection
// speaking the signaling protocol and a Session that feeds relay events into
// a peer.Machine.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/meeting-signaling/internal/logging"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/protocol"
)

var log = logging.Logger("client")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrSendFull   = errors.New("send buffer full")
)

// DialOptions select the codec and an optional login token.
type DialOptions struct {
	Codec string
	Token string
}

// SignalURL turns a server address (http, https, ws or wss, with or without
// a path) into the websocket signaling URL.
func SignalURL(server string, opts DialOptions) (string, error) {
	if !strings.Contains(server, "://") {
		server = "ws://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws/signal"
	}

	q := u.Query()
	if opts.Codec != "" {
		q.Set("codec", opts.Codec)
	}
	if opts.Token != "" {
		q.Set("token", opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Conn is a websocket connection to the relay.
type Conn struct {
	ws       *websocket.Conn
	codec    protocol.Codec
	incoming chan models.Frame
	outgoing chan []byte

	once sync.Once
	done chan struct{}
}

// Dial connects to the relay at server.
func Dial(ctx context.Context, server string, opts DialOptions) (*Conn, error) {
	codec, err := protocol.ByName(opts.Codec)
	if err != nil {
		return nil, err
	}
	target, err := SignalURL(server, opts)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Conn{
		ws:       ws,
		codec:    codec,
		incoming: make(chan models.Frame, sendBuffer),
		outgoing: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Incoming delivers frames from the relay. It is closed when the connection
// ends.
func (c *Conn) Incoming() <-chan models.Frame {
	return c.incoming
}

// Codec is the codec negotiated at dial time.
func (c *Conn) Codec() protocol.Codec {
	return c.codec
}

// Send queues an event without blocking.
func (c *Conn) Send(event models.EventType, data any) error {
	payload, err := c.codec.Encode(models.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.outgoing <- payload:
		return nil
	default:
		return ErrSendFull
	}
}

// Close ends the connection. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once Close has been called or the connection failed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		c.ws.Close()
		close(c.incoming)
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("Read failed: %v", err)
			}
			return
		}

		frame, err := c.codec.Decode(data)
		if err != nil {
			log.Warnf("Dropping undecodable frame: %v", err)
			continue
		}
		select {
		case c.incoming <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(c.codec.MessageType(), message); err != nil {
				log.Debugf("Write failed: %v", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
