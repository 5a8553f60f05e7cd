// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package relay is the message hub at the center of the server: it owns
// the dispatch of every inbound WebSocket frame, mutates the state
// store, and fans broadcasts out to the right audience (organizers,
// participants, or the sender alone).
//
// A single goroutine runs the event loop, so messages from one
// connection are processed strictly in arrival order and no handler
// ever races another. The only I/O-shaped work, state persistence, is
// handed off to the store's persister via a non-blocking kick.
package relay

import (
	"context"
	"time"

	"github.com/tomtom215/baytrack/internal/logging"
	"github.com/tomtom215/baytrack/internal/metrics"
	"github.com/tomtom215/baytrack/internal/models"
	"github.com/tomtom215/baytrack/internal/registry"
	"github.com/tomtom215/baytrack/internal/store"
)

// statsLogInterval is how often the hub logs a server-stats line.
const statsLogInterval = 5 * time.Minute

// frame is one inbound websocket frame awaiting dispatch.
type frame struct {
	client *Client
	raw    []byte
}

// Kicker requests an immediate state persist without blocking.
// Implemented by *store.Persister.
type Kicker interface {
	Kick()
}

// noopKicker is used when the hub runs without a persister (tests).
type noopKicker struct{}

func (noopKicker) Kick() {}

// Hub routes messages between participant and organizer connections.
type Hub struct {
	registry  *registry.Registry
	store     *store.Store
	persister Kicker

	// checkOrganizerPassword validates organizer auth credentials.
	checkOrganizerPassword func(candidate string) bool

	register   chan *Client
	unregister chan *Client
	inbound    chan frame
}

// NewHub creates a Hub. persister may be nil when no persistence layer
// is wired (tests); checkPassword decides organizer authentication.
func NewHub(reg *registry.Registry, st *store.Store, persister Kicker, checkPassword func(string) bool) *Hub {
	if persister == nil {
		persister = noopKicker{}
	}
	if checkPassword == nil {
		checkPassword = func(string) bool { return false }
	}
	return &Hub{
		registry:               reg,
		store:                  st,
		persister:              persister,
		checkOrganizerPassword: checkPassword,
		register:               make(chan *Client),
		unregister:             make(chan *Client),
		inbound:                make(chan frame, 512),
	}
}

// Register hands a new client to the hub loop.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// markAlive refreshes the liveness mark from pump goroutines.
func (h *Hub) markAlive(c *Client) {
	h.registry.MarkAlive(c)
}

// CloseEvicted force-closes a connection removed by the liveness
// sweeper. The sweep already removed it from the registry, so the read
// pump's unregister finds nothing; the gauges are refreshed here.
func (h *Hub) CloseEvicted(s registry.Sender) {
	if c, ok := s.(*Client); ok {
		c.close()
	}
	h.syncConnGauges()
}

// RunWithContext runs the hub event loop until the context is canceled.
// Designed for suture supervision: on cancellation all clients are
// closed and ctx.Err() is returned.
//
// Selection is priority based so behavior stays predictable when
// multiple channels are ready: shutdown first, then connection
// lifecycle, then inbound frames. Go's select picks randomly among
// ready cases, which would otherwise let a frame overtake the
// unregister of its own connection.
func (h *Hub) RunWithContext(ctx context.Context) error {
	statsTicker := time.NewTicker(statsLogInterval)
	defer statsTicker.Stop()

	for {
		// Priority 1: shutdown.
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: connection lifecycle.
		select {
		case client := <-h.register:
			h.handleRegister(client)
			continue
		case client := <-h.unregister:
			h.handleUnregister(client)
			continue
		default:
		}

		// Priority 3: inbound frames and housekeeping.
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case f := <-h.inbound:
			h.registry.MarkAlive(f.client)
			h.dispatch(f.client, f.raw)

		case <-statsTicker.C:
			h.logStats()
		}
	}
}

// Serve implements suture.Service by delegating to RunWithContext.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (h *Hub) String() string {
	return "relay-hub"
}

// handleRegister adds the client to the registry and immediately sends
// the init snapshot, so a late joiner is fully caught up without
// waiting for the next individual update.
func (h *Hub) handleRegister(c *Client) {
	conn := h.registry.Add(c)

	c.Send(models.Message{
		Type: models.MessageTypeInit,
		Data: models.InitPayload{
			Data:         h.store.SnapshotAll(),
			Participants: h.store.AllProfiles(),
		},
	})

	h.syncConnGauges()
	logging.Info().
		Str("connection_id", conn.ID).
		Int("total_clients", h.registry.Count()).
		Msg("websocket client connected")
}

func (h *Hub) handleUnregister(c *Client) {
	info, ok := h.registry.Remove(c)
	c.close()
	if !ok {
		return
	}

	h.syncConnGauges()
	logging.Info().
		Str("connection_id", info.ID).
		Str("role", string(info.Role)).
		Int("total_clients", h.registry.Count()).
		Msg("websocket client disconnected")
}

// broadcastToRole fans a message out to every connection holding role,
// in registration order.
func (h *Hub) broadcastToRole(role registry.Role, msg models.Message) {
	metrics.WSBroadcasts.WithLabelValues(msg.Type).Inc()
	for _, s := range h.registry.SendersByRole(role) {
		s.Send(msg)
	}
}

// broadcastToOrganizers targets the organizer audience.
func (h *Hub) broadcastToOrganizers(msg models.Message) {
	h.broadcastToRole(registry.RoleOrganizer, msg)
}

// broadcastToParticipants targets the participant audience.
func (h *Hub) broadcastToParticipants(msg models.Message) {
	h.broadcastToRole(registry.RoleParticipant, msg)
}

// broadcastToOthers fans a message out to every connection except the
// originator, regardless of role.
func (h *Hub) broadcastToOthers(origin *Client, msg models.Message) {
	metrics.WSBroadcasts.WithLabelValues(msg.Type).Inc()
	for _, s := range h.registry.Senders() {
		if s == origin {
			continue
		}
		s.Send(msg)
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	senders := h.registry.Senders()
	for _, s := range senders {
		if c, ok := s.(*Client); ok {
			h.registry.Remove(c)
			c.close()
		}
	}

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "relay-hub").
		Str("reason", reason).
		Int("clients_closed", len(senders)).
		Msg("relay hub stopped")
}

// logStats emits the periodic server-stats line.
func (h *Hub) logStats() {
	active, total := h.store.Stats()
	logging.Info().
		Str("component", "relay-hub").
		Int("active_participants", active).
		Int("total_participants", total).
		Int("connected_clients", h.registry.Count()).
		Int("organizers", h.registry.CountByRole(registry.RoleOrganizer)).
		Msg("server stats")
}

func (h *Hub) syncConnGauges() {
	for _, role := range []registry.Role{registry.RoleAnonymous, registry.RoleParticipant, registry.RoleOrganizer} {
		metrics.WSConnections.WithLabelValues(string(role)).Set(float64(h.registry.CountByRole(role)))
	}
}
