// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package relay

import (
	"github.com/goccy/go-json"

	"github.com/tomtom215/baytrack/internal/logging"
	"github.com/tomtom215/baytrack/internal/metrics"
	"github.com/tomtom215/baytrack/internal/models"
	"github.com/tomtom215/baytrack/internal/registry"
	"github.com/tomtom215/baytrack/internal/store"
	"github.com/tomtom215/baytrack/internal/validation"
)

// dispatch routes one inbound frame by its type. Every failure mode is
// terminal for the frame only: malformed, unknown, and invalid frames
// are logged and dropped, never closing the connection.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		metrics.WSMessagesDropped.WithLabelValues("malformed").Inc()
		logging.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	metrics.WSMessagesReceived.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case models.MessageTypeAuth:
		h.handleAuth(c, env.Body())
	case models.MessageTypeRegisterParticipant:
		h.handleRegisterParticipant(c, env.Body())
	case models.MessageTypeProfileUpdate:
		h.handleProfileUpdate(env.Body())
	case models.MessageTypePositionUpdate:
		h.handlePositionUpdate(env.Body())
	case models.MessageTypeSOS:
		h.handleSOS(env.Body())
	case models.MessageTypeOrganizerMessage:
		h.handleOrganizerMessage(c, env.Body())
	case models.MessageTypeRaceResults:
		h.handleRaceResults(c, env.Body())
	case models.MessageTypeChat:
		h.handleChat(c, env.Body())
	case models.MessageTypeLegacyUpdate:
		h.handleLegacyUpdate(env.Body())
	case models.MessageTypePing:
		c.Send(models.Message{Type: models.MessageTypePong})
	case models.MessageTypePong:
		// Liveness probe reply; arrival alone already marked the
		// connection alive.
	default:
		metrics.WSMessagesDropped.WithLabelValues("unknown_type").Inc()
		logging.Warn().Str("message_type", env.Type).Msg("ignoring unknown message type")
	}
}

// decodePayload unmarshals and schema-validates a frame body into v.
func decodePayload(body json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return err
	}
	return validation.ValidateStruct(v)
}

// dropInvalid records and logs a frame whose payload failed its schema.
func dropInvalid(msgType string, err error) {
	metrics.WSMessagesDropped.WithLabelValues("invalid_payload").Inc()
	logging.Warn().Err(err).Str("message_type", msgType).Msg("dropping invalid payload")
}

// handleAuth authenticates the connection. Failure replies with a typed
// rejection and leaves the connection usable anonymously.
func (h *Hub) handleAuth(c *Client, body json.RawMessage) {
	var p models.AuthPayload
	if err := decodePayload(body, &p); err != nil {
		c.Send(models.Message{
			Type: models.MessageTypeAuthResponse,
			Data: models.AuthResponse{Success: false, Message: "invalid auth payload"},
		})
		return
	}

	switch p.Role {
	case string(registry.RoleOrganizer):
		if !h.checkOrganizerPassword(p.Password) {
			logging.Warn().Msg("organizer authentication failed")
			c.Send(models.Message{
				Type: models.MessageTypeAuthResponse,
				Data: models.AuthResponse{Success: false, Message: "invalid organizer password"},
			})
			return
		}
		h.registry.SetRole(c, registry.RoleOrganizer, "")
		h.syncConnGauges()
		c.Send(models.Message{
			Type: models.MessageTypeAuthResponse,
			Data: models.AuthResponse{Success: true, Role: string(registry.RoleOrganizer)},
		})
		logging.Info().Msg("organizer authenticated")

	case string(registry.RoleParticipant):
		if p.ParticipantID == "" {
			c.Send(models.Message{
				Type: models.MessageTypeAuthResponse,
				Data: models.AuthResponse{Success: false, Message: "participantId required"},
			})
			return
		}
		// Unknown ids are accepted: reconnecting clients keep their id
		// across server restarts even if the profile never registered.
		profile, ok := h.store.FindProfile(p.ParticipantID)
		if !ok {
			profile = h.store.UpsertProfile(models.ParticipantProfile{ID: p.ParticipantID})
		}
		h.registry.SetRole(c, registry.RoleParticipant, p.ParticipantID)
		h.syncConnGauges()
		c.Send(models.Message{
			Type: models.MessageTypeAuthResponse,
			Data: models.AuthResponse{Success: true, Role: string(registry.RoleParticipant), Profile: &profile},
		})
	}
}

// handleRegisterParticipant creates a profile, binds the connection to
// it, replies directly, and notifies organizers.
func (h *Hub) handleRegisterParticipant(c *Client, body json.RawMessage) {
	var p models.RegisterParticipantPayload
	if err := decodePayload(body, &p); err != nil {
		c.Send(models.Message{
			Type: models.MessageTypeRegistrationResponse,
			Data: models.RegistrationResponse{Success: false, Message: err.Error()},
		})
		return
	}

	profile := h.store.UpsertProfile(models.ParticipantProfile{
		ID:               p.ID,
		Name:             p.Name,
		SailNumber:       p.SailNumber,
		Email:            p.Email,
		Phone:            p.Phone,
		EmergencyContact: p.EmergencyContact,
		TrackingColor:    p.TrackingColor,
	})
	h.registry.SetRole(c, registry.RoleParticipant, profile.ID)
	h.syncConnGauges()

	c.Send(models.Message{
		Type: models.MessageTypeRegistrationResponse,
		Data: models.RegistrationResponse{Success: true, Profile: &profile},
	})
	h.broadcastToOrganizers(models.Message{
		Type: models.MessageTypeParticipantRegistered,
		Data: profile,
	})
	logging.Info().Str("participant_id", profile.ID).Str("name", profile.Name).Msg("participant registered")
}

// handleProfileUpdate merges non-empty fields into an existing profile.
// An unknown id is treated as an implicit registration.
func (h *Hub) handleProfileUpdate(body json.RawMessage) {
	var p models.ProfileUpdatePayload
	if err := decodePayload(body, &p); err != nil {
		dropInvalid(models.MessageTypeProfileUpdate, err)
		return
	}

	profile, _ := h.store.FindProfile(p.ID)
	profile.ID = p.ID
	if p.Name != "" {
		profile.Name = p.Name
	}
	if p.SailNumber != "" {
		profile.SailNumber = p.SailNumber
	}
	if p.Email != "" {
		profile.Email = p.Email
	}
	if p.Phone != "" {
		profile.Phone = p.Phone
	}
	if p.EmergencyContact != "" {
		profile.EmergencyContact = p.EmergencyContact
	}
	if p.TrackingColor != "" {
		profile.TrackingColor = p.TrackingColor
	}
	profile = h.store.UpsertProfile(profile)

	h.broadcastToOrganizers(models.Message{
		Type: models.MessageTypeProfileUpdated,
		Data: profile,
	})
}

// handlePositionUpdate applies a tracking report and broadcasts the
// resulting snapshot to organizers.
func (h *Hub) handlePositionUpdate(body json.RawMessage) {
	var p models.PositionUpdatePayload
	if err := decodePayload(body, &p); err != nil {
		dropInvalid(models.MessageTypePositionUpdate, err)
		return
	}

	state := h.store.UpsertTracking(p.ID, store.TrackingUpdate{
		Name:       p.Name,
		SailNumber: p.SailNumber,
		Color:      p.Color,
		Position:   p.Position,
		Speed:      &p.Speed,
		Distance:   &p.Distance,
		Status:     p.Status,
	})

	h.broadcastToOrganizers(models.Message{
		Type: models.MessageTypePositionUpdate,
		Data: state,
	})
}

// handleSOS raises the SOS flag, forces an immediate persist, and
// broadcasts the alert to organizers followed by a derived position
// update reflecting the sos status.
func (h *Hub) handleSOS(body json.RawMessage) {
	var p models.SOSPayload
	if err := decodePayload(body, &p); err != nil {
		dropInvalid(models.MessageTypeSOS, err)
		return
	}

	state := h.store.MarkSOS(p.ID, p.Position, p.Message)
	metrics.SOSReceived.Inc()

	// Safety-critical state must survive a crash: kick the persister
	// now instead of waiting for the periodic flush. The kick never
	// blocks, so a slow disk cannot delay the broadcasts below.
	h.persister.Kick()

	logging.Warn().
		Str("participant_id", p.ID).
		Str("message", p.Message).
		Msg("SOS received")

	h.broadcastToOrganizers(models.Message{
		Type: models.MessageTypeSOS,
		Data: state,
	})
	h.broadcastToOrganizers(models.Message{
		Type: models.MessageTypePositionUpdate,
		Data: state,
	})
}

// handleOrganizerMessage relays a stateless organizer broadcast to all
// participant connections.
func (h *Hub) handleOrganizerMessage(c *Client, body json.RawMessage) {
	if !h.senderIsOrganizer(c) {
		return
	}

	var p models.OrganizerMessagePayload
	if err := decodePayload(body, &p); err != nil {
		dropInvalid(models.MessageTypeOrganizerMessage, err)
		return
	}

	h.broadcastToParticipants(models.Message{
		Type: models.MessageTypeOrganizerMessage,
		Data: p,
	})
}

// handleRaceResults stores organizer-posted result sheets and relays
// them to all participant connections.
func (h *Hub) handleRaceResults(c *Client, body json.RawMessage) {
	if !h.senderIsOrganizer(c) {
		return
	}

	var p models.RaceResultsPayload
	if err := decodePayload(body, &p); err != nil {
		dropInvalid(models.MessageTypeRaceResults, err)
		return
	}

	h.store.SetRaceResults(p.Races)
	h.broadcastToParticipants(models.Message{
		Type: models.MessageTypeRaceResults,
		Data: p,
	})
}

// handleChat relays a chat frame to every other connection without
// inspecting the body. Chat is stateless and never persisted.
func (h *Hub) handleChat(c *Client, body json.RawMessage) {
	h.broadcastToOthers(c, models.Message{
		Type: models.MessageTypeChat,
		Data: body,
	})
}

// handleLegacyUpdate normalizes a first-revision participantUpdate
// frame (numeric participant number) into a canonical position update.
func (h *Hub) handleLegacyUpdate(body json.RawMessage) {
	var p models.LegacyUpdatePayload
	if err := decodePayload(body, &p); err != nil {
		dropInvalid(models.MessageTypeLegacyUpdate, err)
		return
	}

	id, err := models.NormalizeParticipantID(p.ParticipantNumber)
	if err != nil {
		dropInvalid(models.MessageTypeLegacyUpdate, err)
		return
	}

	status := models.StatusInactive
	if p.Active {
		status = models.StatusActive
	}
	if p.Position != nil && p.Accuracy > 0 {
		p.Position.Accuracy = p.Accuracy
	}

	state := h.store.UpsertTracking(id, store.TrackingUpdate{
		Position: p.Position,
		Status:   status,
	})
	h.broadcastToOrganizers(models.Message{
		Type: models.MessageTypePositionUpdate,
		Data: state,
	})
}

// senderIsOrganizer checks the organizer precondition, counting and
// logging the drop when it fails.
func (h *Hub) senderIsOrganizer(c *Client) bool {
	info, ok := h.registry.Get(c)
	if !ok || info.Role != registry.RoleOrganizer {
		metrics.WSMessagesDropped.WithLabelValues("unauthorized").Inc()
		logging.Warn().Str("role", string(info.Role)).Msg("dropping organizer-only frame from non-organizer")
		return false
	}
	return true
}
