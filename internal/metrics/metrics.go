// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package metrics defines the Prometheus instrumentation for the relay:
// connection counts, per-type message throughput, drops, SOS events,
// liveness evictions, persistence, and HTTP API latency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocket connection metrics
	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "baytrack_ws_connections",
			Help: "Current number of WebSocket connections by role",
		},
		[]string{"role"}, // "anonymous", "participant", "organizer"
	)

	WSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baytrack_ws_messages_received_total",
			Help: "Total inbound WebSocket frames by message type",
		},
		[]string{"type"},
	)

	WSMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baytrack_ws_messages_dropped_total",
			Help: "Total dropped WebSocket frames by reason",
		},
		[]string{"reason"}, // "malformed", "unknown_type", "invalid_payload", "unauthorized", "slow_client"
	)

	WSBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baytrack_ws_broadcasts_total",
			Help: "Total broadcast fan-outs by message type",
		},
		[]string{"type"},
	)

	// Safety metrics
	SOSReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baytrack_sos_received_total",
			Help: "Total SOS alerts received from participants",
		},
	)

	LivenessEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baytrack_liveness_evictions_total",
			Help: "Total connections evicted by the liveness sweeper",
		},
	)

	// Persistence metrics
	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "baytrack_persist_duration_seconds",
			Help:    "Duration of state persistence to disk in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	PersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baytrack_persist_errors_total",
			Help: "Total failed state persistence attempts",
		},
	)

	PersistLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "baytrack_persist_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful state persistence",
		},
	)

	// HTTP API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baytrack_api_requests_total",
			Help: "Total HTTP API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "baytrack_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPersist records one persistence attempt.
func RecordPersist(duration time.Duration, err error) {
	PersistDuration.Observe(duration.Seconds())
	if err != nil {
		PersistErrors.Inc()
		return
	}
	PersistLastSuccess.SetToCurrentTime()
}
