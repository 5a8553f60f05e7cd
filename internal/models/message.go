// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Message types for WebSocket communication. The envelope is a tagged union
// keyed by Type; each type has its own payload struct below.
const (
	MessageTypeAuth                  = "auth"
	MessageTypeAuthResponse          = "auth_response"
	MessageTypeRegisterParticipant   = "register_participant"
	MessageTypeRegistrationResponse  = "registration_response"
	MessageTypeParticipantRegistered = "participant_registered"
	MessageTypeProfileUpdate         = "profile_update"
	MessageTypeProfileUpdated        = "profile_updated"
	MessageTypePositionUpdate        = "position_update"
	MessageTypeSOS                   = "sos"
	MessageTypeOrganizerMessage      = "organizerMessage"
	MessageTypeRaceResults           = "raceResults"
	MessageTypeChat                  = "chat"
	MessageTypeInit                  = "init"
	MessageTypePing                  = "ping"
	MessageTypePong                  = "pong"

	// MessageTypeLegacyUpdate is the first-revision frame carrying a numeric
	// participant number. Normalized into a position_update at the boundary.
	MessageTypeLegacyUpdate = "participantUpdate"
)

// Message is an outbound WebSocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Envelope is an inbound WebSocket frame before payload decoding. The
// canonical body field is "data"; "payload" is accepted from the legacy
// revision and never emitted.
type Envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Body returns the payload bytes, preferring the canonical data field.
func (e *Envelope) Body() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Payload
}

// AuthPayload authenticates a connection as organizer or participant.
type AuthPayload struct {
	Role          string `json:"role" validate:"required,oneof=organizer participant"`
	Password      string `json:"password,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
}

// AuthResponse is the direct reply to an auth frame.
type AuthResponse struct {
	Success bool                `json:"success"`
	Role    string              `json:"role,omitempty"`
	Profile *ParticipantProfile `json:"profile,omitempty"`
	Message string              `json:"message,omitempty"`
}

// RegisterParticipantPayload creates a ParticipantProfile and binds the
// sending connection to it. ID is optional; the server assigns one if empty.
type RegisterParticipantPayload struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name" validate:"required,max=120"`
	SailNumber       string `json:"sailNumber" validate:"required,max=32"`
	Email            string `json:"email,omitempty" validate:"omitempty,email"`
	Phone            string `json:"phone,omitempty" validate:"omitempty,max=32"`
	EmergencyContact string `json:"emergencyContact,omitempty" validate:"omitempty,max=200"`
	TrackingColor    string `json:"trackingColor,omitempty" validate:"omitempty,hexcolor"`
}

// RegistrationResponse is the direct reply to register_participant.
type RegistrationResponse struct {
	Success bool                `json:"success"`
	Profile *ParticipantProfile `json:"profile,omitempty"`
	Message string              `json:"message,omitempty"`
}

// ProfileUpdatePayload mutates an existing profile. Zero-valued fields are
// left untouched.
type ProfileUpdatePayload struct {
	ID               string `json:"id" validate:"required"`
	Name             string `json:"name,omitempty" validate:"omitempty,max=120"`
	SailNumber       string `json:"sailNumber,omitempty" validate:"omitempty,max=32"`
	Email            string `json:"email,omitempty" validate:"omitempty,email"`
	Phone            string `json:"phone,omitempty" validate:"omitempty,max=32"`
	EmergencyContact string `json:"emergencyContact,omitempty" validate:"omitempty,max=200"`
	TrackingColor    string `json:"trackingColor,omitempty" validate:"omitempty,hexcolor"`
}

// PositionUpdatePayload is the periodic tracking report from a participant.
type PositionUpdatePayload struct {
	ID         string    `json:"id" validate:"required"`
	Name       string    `json:"name,omitempty"`
	SailNumber string    `json:"sailNumber,omitempty"`
	Color      string    `json:"color,omitempty"`
	Position   *Position `json:"position" validate:"required"`
	Speed      float64   `json:"speed" validate:"min=0"`
	Distance   float64   `json:"distance" validate:"min=0"`
	LastUpdate time.Time `json:"lastUpdate,omitempty"`
	Status     Status    `json:"status,omitempty" validate:"omitempty,oneof=active inactive sos waiting"`
}

// SOSPayload is the emergency signal from a participant. Position is an
// optional overwrite of the last known fix.
type SOSPayload struct {
	ID           string    `json:"id" validate:"required"`
	Name         string    `json:"name,omitempty"`
	SailNumber   string    `json:"sailNumber,omitempty"`
	Color        string    `json:"color,omitempty"`
	Position     *Position `json:"position,omitempty"`
	Status       Status    `json:"status,omitempty"`
	SOSTimestamp time.Time `json:"sosTimestamp,omitempty"`
	Message      string    `json:"message,omitempty" validate:"omitempty,max=500"`
}

// OrganizerMessagePayload is a broadcast from an organizer to all
// participant connections. Stateless passthrough.
type OrganizerMessagePayload struct {
	Message string `json:"message" validate:"required,max=1000"`
	Sender  string `json:"sender,omitempty"`
}

// RaceResultsPayload carries result sheets keyed by race id.
type RaceResultsPayload struct {
	Races RaceResultSet `json:"races" validate:"required,dive,dive"`
}

// InitPayload is the server-to-client snapshot sent on every new
// registration so late joiners catch up without waiting for updates.
type InitPayload struct {
	Data         map[string]TrackingState `json:"data"`
	Participants []ParticipantProfile     `json:"participants"`
}

// LegacyUpdatePayload is the first-revision participantUpdate body keyed by
// a numeric participant number.
type LegacyUpdatePayload struct {
	ParticipantNumber int       `json:"participantNumber" validate:"required"`
	Active            bool      `json:"active"`
	Position          *Position `json:"position,omitempty"`
	Accuracy          float64   `json:"accuracy,omitempty"`
	Timestamp         time.Time `json:"timestamp,omitempty"`
}
