// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package store

import (
	"context"
	"time"

	"github.com/tomtom215/baytrack/internal/logging"
	"github.com/tomtom215/baytrack/internal/metrics"
)

// Persister flushes the store to disk on a timer and on demand. It runs
// as a supervised service: a persist failure is logged and retried on
// the next cycle rather than crashing the service, because data-loss
// risk on a flaky disk is accepted and surfaced via logs only.
type Persister struct {
	store    *Store
	interval time.Duration
	kick     chan struct{}
}

// NewPersister creates a Persister flushing every interval.
func NewPersister(s *Store, interval time.Duration) *Persister {
	return &Persister{
		store:    s,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate persist without blocking the caller. Used
// for the forced SOS flush: a slow disk must never delay message
// processing, so an already pending kick is simply coalesced.
func (p *Persister) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Serve implements suture.Service. Periodic ticks persist only when the
// store is dirty; kicks persist unconditionally. A final best-effort
// flush runs on shutdown.
func (p *Persister) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(true)
			return ctx.Err()

		case <-p.kick:
			p.flush(true)

		case <-ticker.C:
			p.flush(false)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (p *Persister) String() string {
	return "store-persister"
}

func (p *Persister) flush(force bool) {
	if !force && !p.store.Dirty() {
		return
	}
	start := time.Now()
	err := p.store.Persist()
	metrics.RecordPersist(time.Since(start), err)
	if err != nil {
		logging.Error().Err(err).Str("component", "store-persister").Msg("state persist failed")
		return
	}
	logging.Debug().Str("component", "store-persister").Msg("state persisted")
}
