// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package liveness detects and evicts dead WebSocket connections.
//
// Every interval the supervisor sweeps the registry: connections still
// marked suspect from the previous cycle are evicted and closed, every
// survivor is marked suspect, and a ping probe is sent. Any inbound
// traffic (including the pong reply) clears the suspect mark, so a
// healthy connection is never evicted and a dead one is gone within
// two intervals, never one, so a transient scheduling delay cannot
// cause a false positive.
package liveness

import (
	"context"
	"time"

	"github.com/tomtom215/baytrack/internal/logging"
	"github.com/tomtom215/baytrack/internal/metrics"
	"github.com/tomtom215/baytrack/internal/models"
	"github.com/tomtom215/baytrack/internal/registry"
)

// Closer force-closes an evicted connection's transport. Implemented
// by the relay hub.
type Closer interface {
	CloseEvicted(s registry.Sender)
}

// Supervisor runs the heartbeat sweep as a supervised service.
type Supervisor struct {
	registry *registry.Registry
	closer   Closer
	interval time.Duration

	// newTicker is injectable so tests drive cycles manually.
	newTicker func(d time.Duration) (<-chan time.Time, func())
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithTicker overrides the cycle ticker, for tests.
func WithTicker(newTicker func(d time.Duration) (<-chan time.Time, func())) Option {
	return func(s *Supervisor) { s.newTicker = newTicker }
}

// New creates a Supervisor sweeping reg every interval.
func New(reg *registry.Registry, closer Closer, interval time.Duration, opts ...Option) *Supervisor {
	s := &Supervisor{
		registry: reg,
		closer:   closer,
		interval: interval,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve implements suture.Service.
func (s *Supervisor) Serve(ctx context.Context) error {
	ticks, stop := s.newTicker(s.interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticks:
			s.sweep()
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Supervisor) String() string {
	return "liveness-supervisor"
}

// sweep runs one heartbeat cycle: evict, mark suspect, probe.
func (s *Supervisor) sweep() {
	evicted := s.registry.Sweep()
	for _, e := range evicted {
		s.closer.CloseEvicted(e.Sender)
		metrics.LivenessEvictions.Inc()
		logging.Warn().
			Str("connection_id", e.ID).
			Str("role", string(e.Role)).
			Str("participant_id", e.ParticipantID).
			Msg("evicting unresponsive connection")
	}

	probe := models.Message{Type: models.MessageTypePing}
	for _, sender := range s.registry.Senders() {
		sender.Send(probe)
	}

	if len(evicted) > 0 {
		logging.Info().
			Int("evicted", len(evicted)).
			Int("remaining", s.registry.Count()).
			Msg("liveness sweep completed")
	}
}
