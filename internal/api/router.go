// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/baytrack/internal/config"
)

// NewRouter assembles the full HTTP surface.
func NewRouter(cfg *config.Config, handler *Handler) http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(cfg.Security.CORSOrigins)) // global so OPTIONS preflight works

	// ========================
	// Health & Metrics
	// ========================
	r.Get("/health", handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// ========================
	// WebSocket
	// ========================
	// No rate limit: one long-lived connection per client, origin
	// checked in the upgrader.
	r.Get("/ws", handler.WebSocket)

	// ========================
	// Participant Admin API
	// ========================
	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimiter(cfg.Security.RateLimitReqs, cfg.Security.RateLimitWindow))
		r.Use(securityHeaders)
		r.Use(prometheusMetrics)

		r.Route("/participants", func(r chi.Router) {
			r.Get("/", handler.ListParticipants)
			r.Post("/", handler.CreateParticipant)
			r.Get("/{id}", handler.GetParticipant)
			r.Put("/{id}", handler.UpdateParticipant)
			r.Delete("/{id}", handler.DeleteParticipant)
		})

		r.Get("/results", handler.Results)
	})

	return r
}
