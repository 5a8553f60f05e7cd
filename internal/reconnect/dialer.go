// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package reconnect

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/baytrack/internal/models"
)

// WebsocketDialer is the production Dialer, wrapping gorilla/websocket.
type WebsocketDialer struct {
	// HandshakeTimeout bounds the dial. Default 10s.
	HandshakeTimeout time.Duration
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a gorilla connection to the Conn interface, decoding
// the frames the agent inspects into their typed payloads.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(msg models.Message) error {
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) ReadMessage() (models.Message, error) {
	var env models.Envelope
	if err := c.conn.ReadJSON(&env); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{Type: env.Type}
	body := env.Body()

	switch env.Type {
	case models.MessageTypeAuthResponse:
		var data models.AuthResponse
		if err := json.Unmarshal(body, &data); err == nil {
			msg.Data = data
		}
	case models.MessageTypeRegistrationResponse:
		var data models.RegistrationResponse
		if err := json.Unmarshal(body, &data); err == nil {
			msg.Data = data
		}
	case models.MessageTypeInit:
		var data models.InitPayload
		if err := json.Unmarshal(body, &data); err == nil {
			msg.Data = data
		}
	default:
		msg.Data = body
	}
	return msg, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
