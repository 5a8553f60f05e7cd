// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/tomtom215/baytrack/internal/models"
)

func TestValidateStructPositionUpdate(t *testing.T) {
	tests := []struct {
		name    string
		payload models.PositionUpdatePayload
		wantErr bool
	}{
		{
			name: "valid update",
			payload: models.PositionUpdatePayload{
				ID:       "p-1",
				Position: &models.Position{Latitude: 54.69, Longitude: 18.43},
				Speed:    10,
			},
		},
		{
			name: "missing id",
			payload: models.PositionUpdatePayload{
				Position: &models.Position{Latitude: 54.69, Longitude: 18.43},
			},
			wantErr: true,
		},
		{
			name:    "missing position",
			payload: models.PositionUpdatePayload{ID: "p-1"},
			wantErr: true,
		},
		{
			name: "latitude out of range",
			payload: models.PositionUpdatePayload{
				ID:       "p-1",
				Position: &models.Position{Latitude: 91, Longitude: 18.43},
			},
			wantErr: true,
		},
		{
			name: "negative speed",
			payload: models.PositionUpdatePayload{
				ID:       "p-1",
				Position: &models.Position{Latitude: 54.69, Longitude: 18.43},
				Speed:    -1,
			},
			wantErr: true,
		},
		{
			name: "unknown status",
			payload: models.PositionUpdatePayload{
				ID:       "p-1",
				Position: &models.Position{Latitude: 54.69, Longitude: 18.43},
				Status:   models.Status("racing"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStruct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStructAuth(t *testing.T) {
	if err := ValidateStruct(&models.AuthPayload{Role: "organizer", Password: "x"}); err != nil {
		t.Errorf("valid auth payload rejected: %v", err)
	}
	if err := ValidateStruct(&models.AuthPayload{Role: "admin"}); err == nil {
		t.Error("unknown role should be rejected")
	}
}

func TestValidateStructRegistration(t *testing.T) {
	valid := models.RegisterParticipantPayload{
		Name:          "Anna Kowalska",
		SailNumber:    "POL-7",
		Email:         "anna@example.com",
		TrackingColor: "#1a73e8",
	}
	if err := ValidateStruct(&valid); err != nil {
		t.Errorf("valid registration rejected: %v", err)
	}

	invalid := models.RegisterParticipantPayload{
		Name:          "Anna",
		SailNumber:    "POL-7",
		Email:         "not-an-email",
		TrackingColor: "blue",
	}
	err := ValidateStruct(&invalid)
	if err == nil {
		t.Fatal("expected validation failure")
	}

	var pe *PayloadError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PayloadError, got %T", err)
	}
	if len(pe.Errors()) != 2 {
		t.Errorf("expected 2 field errors, got %d: %v", len(pe.Errors()), pe)
	}
	if !strings.Contains(pe.Error(), "Email") {
		t.Errorf("error message should name the failing field: %q", pe.Error())
	}
}
