// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package api provides the HTTP surface: health, the participant admin
// CRUD, race results, the Prometheus endpoint, and the WebSocket
// upgrade that hands connections to the relay hub.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/baytrack/internal/config"
	"github.com/tomtom215/baytrack/internal/logging"
	"github.com/tomtom215/baytrack/internal/models"
	"github.com/tomtom215/baytrack/internal/registry"
	"github.com/tomtom215/baytrack/internal/relay"
	"github.com/tomtom215/baytrack/internal/store"
	"github.com/tomtom215/baytrack/internal/validation"
)

// Handler holds the dependencies of all HTTP handlers.
type Handler struct {
	config   *config.Config
	store    *store.Store
	registry *registry.Registry
	hub      *relay.Hub
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, st *store.Store, reg *registry.Registry, hub *relay.Hub) *Handler {
	return &Handler{
		config:   cfg,
		store:    st,
		registry: reg,
		hub:      hub,
	}
}

// healthResponse is the GET /health body.
type healthResponse struct {
	Status             string `json:"status"`
	Timestamp          string `json:"timestamp"`
	ActiveParticipants int    `json:"activeParticipants"`
	ConnectedClients   int    `json:"connectedClients"`
}

// Health reports liveness plus headline race numbers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	active, _ := h.store.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:             "ok",
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		ActiveParticipants: active,
		ConnectedClients:   h.registry.Count(),
	})
}

// participantView merges a profile with its live tracking state.
type participantView struct {
	models.ParticipantProfile
	Tracking *models.TrackingState `json:"tracking,omitempty"`
}

// ListParticipants returns all profiles merged with live tracking.
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	profiles := h.store.AllProfiles()
	views := make([]participantView, 0, len(profiles))
	for _, p := range profiles {
		view := participantView{ParticipantProfile: p}
		if state, ok := h.store.FindTracking(p.ID); ok {
			view.Tracking = &state
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetParticipant returns one profile (with tracking) by id. For legacy
// "p-<n>" ids without a stored profile, a placeholder is returned
// instead of a 404, preserving the behavior numeric-scheme clients
// depend on.
func (h *Handler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, ok := h.store.FindProfile(id)
	if !ok {
		if !strings.HasPrefix(id, "p-") {
			writeError(w, http.StatusNotFound, "participant not found")
			return
		}
		profile = models.ParticipantProfile{ID: id}
	}

	view := participantView{ParticipantProfile: profile}
	if state, ok := h.store.FindTracking(id); ok {
		view.Tracking = &state
	}
	writeJSON(w, http.StatusOK, view)
}

// CreateParticipant registers a profile via the admin API.
func (h *Handler) CreateParticipant(w http.ResponseWriter, r *http.Request) {
	var payload models.RegisterParticipantPayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profile := h.store.UpsertProfile(models.ParticipantProfile{
		ID:               payload.ID,
		Name:             payload.Name,
		SailNumber:       payload.SailNumber,
		Email:            payload.Email,
		Phone:            payload.Phone,
		EmergencyContact: payload.EmergencyContact,
		TrackingColor:    payload.TrackingColor,
	})
	writeJSON(w, http.StatusCreated, profile)
}

// UpdateParticipant replaces mutable profile fields by id.
func (h *Handler) UpdateParticipant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, ok := h.store.FindProfile(id)
	if !ok {
		writeError(w, http.StatusNotFound, "participant not found")
		return
	}

	var payload models.ProfileUpdatePayload
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The path parameter is authoritative over any id in the body.
	payload.ID = id
	if err := validation.ValidateStruct(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if payload.Name != "" {
		existing.Name = payload.Name
	}
	if payload.SailNumber != "" {
		existing.SailNumber = payload.SailNumber
	}
	if payload.Email != "" {
		existing.Email = payload.Email
	}
	if payload.Phone != "" {
		existing.Phone = payload.Phone
	}
	if payload.EmergencyContact != "" {
		existing.EmergencyContact = payload.EmergencyContact
	}
	if payload.TrackingColor != "" {
		existing.TrackingColor = payload.TrackingColor
	}

	writeJSON(w, http.StatusOK, h.store.UpsertProfile(existing))
}

// DeleteParticipant removes a profile and its tracking entry.
func (h *Handler) DeleteParticipant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.store.DeleteProfile(id) {
		writeError(w, http.StatusNotFound, "participant not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Results returns the in-memory race result sheets.
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.RaceResults())
}

// WebSocket upgrades the connection and registers it with the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := relay.NewClient(h.hub, conn)
	h.hub.Register(client)
	client.Start()
}

// checkWebSocketOrigin validates the Origin header against the
// configured CORS origins. Browser WebSockets always carry Origin;
// requests without one are rejected so CORS cannot be bypassed.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket connection rejected: missing Origin header")
		return false
	}

	if h.config == nil {
		return true
	}
	for _, allowed := range h.config.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket connection rejected from unauthorized origin")
	return false
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeBody unmarshals and schema-validates a request body.
func decodeBody(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validation.ValidateStruct(v)
}

// sanitizeLogValue strips control characters that could forge log lines.
func sanitizeLogValue(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
