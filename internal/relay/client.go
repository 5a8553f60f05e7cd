// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/baytrack/internal/logging"
	"github.com/tomtom215/baytrack/internal/metrics"
	"github.com/tomtom215/baytrack/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB; position frames are tiny
	sendBufferSize = 256
)

// Client is the middleman between one websocket connection and the hub.
// It implements registry.Sender: outbound messages are enqueued onto a
// buffered channel and written by the write pump, so the hub never
// blocks on a slow peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan models.Message

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps an upgraded websocket connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan models.Message, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Send enqueues an outbound message without blocking. Returns false
// when the client's buffer is full or the client is closing; the frame
// is dropped and counted, never queued against the hub loop.
func (c *Client) Send(msg models.Message) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		metrics.WSMessagesDropped.WithLabelValues("slow_client").Inc()
		return false
	}
}

// close shuts the outbound path exactly once. Safe to call from the hub
// loop, the read pump, and the liveness sweeper concurrently.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump reads frames from the websocket and hands them to the hub.
// Exit (peer close, transport error, eviction) unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	// Protocol-level pongs count as proof of life alongside app frames.
	c.conn.SetPongHandler(func(string) error {
		c.hub.markAlive(c)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		c.hub.inbound <- frame{client: c, raw: raw}
	}
}

// writePump writes queued messages and keep-alive pings to the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return

		case message := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
