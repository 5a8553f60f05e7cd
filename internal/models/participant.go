// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package models defines the domain types and wire payloads shared by the
// relay, the state store, and the HTTP API.
package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Status is the live tracking status of a participant.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusSOS      Status = "sos"
	StatusWaiting  Status = "waiting"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSOS, StatusWaiting:
		return true
	}
	return false
}

// Position is a GPS fix. Accuracy is in meters when reported.
type Position struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	Accuracy  float64 `json:"accuracy,omitempty" validate:"min=0"`
}

// UnmarshalJSON accepts both the canonical {latitude,longitude} shape and the
// legacy {lat,lng} shape emitted by older participant clients.
func (p *Position) UnmarshalJSON(data []byte) error {
	var aux struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Lat       *float64 `json:"lat"`
		Lng       *float64 `json:"lng"`
		Accuracy  float64  `json:"accuracy"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch {
	case aux.Latitude != nil && aux.Longitude != nil:
		p.Latitude = *aux.Latitude
		p.Longitude = *aux.Longitude
	case aux.Lat != nil && aux.Lng != nil:
		p.Latitude = *aux.Lat
		p.Longitude = *aux.Lng
	default:
		return fmt.Errorf("position missing latitude/longitude")
	}
	p.Accuracy = aux.Accuracy
	return nil
}

// ParticipantProfile is the durable registration record for a participant.
// Profiles are never deleted automatically; only the admin API removes them.
type ParticipantProfile struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	SailNumber       string    `json:"sailNumber"`
	Email            string    `json:"email,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	EmergencyContact string    `json:"emergencyContact,omitempty"`
	TrackingColor    string    `json:"trackingColor,omitempty"`
	RegistrationDate time.Time `json:"registrationDate"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// TrackingState is the latest known live state of one participant. The most
// recent value is authoritative; no position history is retained server-side.
type TrackingState struct {
	ID           string     `json:"id"`
	Name         string     `json:"name,omitempty"`
	SailNumber   string     `json:"sailNumber,omitempty"`
	Color        string     `json:"color,omitempty"`
	Position     *Position  `json:"position,omitempty"`
	Speed        float64    `json:"speed"`
	Distance     float64    `json:"distance"`
	Status       Status     `json:"status"`
	SOSTimestamp *time.Time `json:"sosTimestamp,omitempty"`
	SOSMessage   string     `json:"sosMessage,omitempty"`
	LastUpdate   time.Time  `json:"lastUpdate"`
}

// RaceResult is one finishing entry in a race's result sheet.
type RaceResult struct {
	ParticipantID string `json:"participantId" validate:"required"`
	Position      int    `json:"position" validate:"min=1"`
	Time          string `json:"time,omitempty"`
}

// RaceResultSet maps race id to its ordered result sheet.
type RaceResultSet map[string][]RaceResult

// legacy numeric participant-number scheme bounds (original demo clients).
const (
	minParticipantNumber = 1
	maxParticipantNumber = 200
)

// NewParticipantID returns a fresh server-assigned participant id.
func NewParticipantID() string {
	return uuid.NewString()
}

// NormalizeParticipantID converts a legacy numeric participant number into
// the canonical string id scheme. Numbers outside 1-200 are rejected, which
// matches the original server's validation of the numeric scheme.
func NormalizeParticipantID(number int) (string, error) {
	if number < minParticipantNumber || number > maxParticipantNumber {
		return "", fmt.Errorf("participant number %d out of range [%d,%d]",
			number, minParticipantNumber, maxParticipantNumber)
	}
	return fmt.Sprintf("p-%d", number), nil
}
