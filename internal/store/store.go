// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package store holds the authoritative in-memory race state: the latest
// tracking snapshot per participant, the registered participant profiles,
// and the in-memory race results.
//
// The store is the relay's single mutation boundary. Persistence is
// asynchronous: mutations mark the store dirty and the supervised
// Persister flushes it to disk periodically, plus immediately (via a
// non-blocking kick) after an SOS so the safety-critical state survives
// a crash. Race results are in-memory only.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/baytrack/internal/models"
)

// Store is the mutex-guarded state container. All methods are safe for
// concurrent use; methods never block on I/O.
type Store struct {
	mu       sync.RWMutex
	tracking map[string]models.TrackingState
	profiles map[string]models.ParticipantProfile
	results  models.RaceResultSet
	dirty    bool

	dataDir string
	now     func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source, for timestamp-sensitive tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store persisting into dataDir.
func New(dataDir string, opts ...Option) *Store {
	s := &Store{
		tracking: make(map[string]models.TrackingState),
		profiles: make(map[string]models.ParticipantProfile),
		results:  make(models.RaceResultSet),
		dataDir:  dataDir,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TrackingUpdate carries the fields of one position update. Nil or
// zero-valued fields are left untouched on merge, so a sparse update
// never erases previously reported state.
type TrackingUpdate struct {
	Name       string
	SailNumber string
	Color      string
	Position   *models.Position
	Speed      *float64
	Distance   *float64
	Status     models.Status
}

// UpsertTracking merges upd into the participant's tracking entry,
// creating it if absent. Unknown participant ids are accepted and
// tracked; the schema is deliberately permissive. The last-update
// timestamp is always refreshed. Returns the resulting snapshot.
func (s *Store) UpsertTracking(participantID string, upd TrackingUpdate) models.TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.tracking[participantID]
	state.ID = participantID

	if upd.Name != "" {
		state.Name = upd.Name
	}
	if upd.SailNumber != "" {
		state.SailNumber = upd.SailNumber
	}
	if upd.Color != "" {
		state.Color = upd.Color
	}
	if upd.Position != nil {
		pos := *upd.Position
		state.Position = &pos
	}
	if upd.Speed != nil {
		state.Speed = *upd.Speed
	}
	if upd.Distance != nil {
		state.Distance = *upd.Distance
	}
	if upd.Status != "" {
		state.Status = upd.Status
		// An explicit status overrides a standing SOS.
		if upd.Status != models.StatusSOS {
			state.SOSTimestamp = nil
			state.SOSMessage = ""
		}
	} else if state.Status == "" {
		state.Status = models.StatusActive
	}
	state.LastUpdate = s.now()

	s.tracking[participantID] = state
	s.dirty = true
	return state
}

// MarkSOS raises the SOS flag for a participant, stamping the SOS time
// and forcing the status to sos. The optional position overwrites the
// last known fix. The flag stands until the participant's next explicit
// status-bearing update.
func (s *Store) MarkSOS(participantID string, pos *models.Position, message string) models.TrackingState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.tracking[participantID]
	state.ID = participantID
	if pos != nil {
		p := *pos
		state.Position = &p
	}
	ts := s.now()
	state.Status = models.StatusSOS
	state.SOSTimestamp = &ts
	state.SOSMessage = message
	state.LastUpdate = ts

	s.tracking[participantID] = state
	s.dirty = true
	return state
}

// UpsertProfile creates or replaces a profile by id. A missing id gets a
// server-assigned one. RegistrationDate is set only on first creation;
// LastUpdated on every call.
func (s *Store) UpsertProfile(profile models.ParticipantProfile) models.ParticipantProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile.ID == "" {
		profile.ID = models.NewParticipantID()
	}

	now := s.now()
	if existing, ok := s.profiles[profile.ID]; ok {
		profile.RegistrationDate = existing.RegistrationDate
	} else {
		profile.RegistrationDate = now
	}
	profile.LastUpdated = now

	s.profiles[profile.ID] = profile
	s.dirty = true
	return profile
}

// FindProfile returns the profile for id.
func (s *Store) FindProfile(id string) (models.ParticipantProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	return p, ok
}

// DeleteProfile removes a participant's profile and tracking entry.
// Used only by the admin HTTP API; liveness eviction never deletes state.
func (s *Store) DeleteProfile(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.profiles[id]
	if !ok {
		return false
	}
	delete(s.profiles, id)
	delete(s.tracking, id)
	s.dirty = true
	return true
}

// AllProfiles returns every profile ordered by registration date, with
// id as the tiebreak so the ordering is stable.
func (s *Store) AllProfiles() []models.ParticipantProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profiles := make([]models.ParticipantProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool {
		if !profiles[i].RegistrationDate.Equal(profiles[j].RegistrationDate) {
			return profiles[i].RegistrationDate.Before(profiles[j].RegistrationDate)
		}
		return profiles[i].ID < profiles[j].ID
	})
	return profiles
}

// SnapshotAll returns a copy of the full tracking map, as sent to newly
// connected clients in the init frame.
func (s *Store) SnapshotAll() map[string]models.TrackingState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]models.TrackingState, len(s.tracking))
	for id, state := range s.tracking {
		out[id] = state
	}
	return out
}

// FindTracking returns the tracking entry for id.
func (s *Store) FindTracking(id string) (models.TrackingState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.tracking[id]
	return state, ok
}

// SetRaceResults replaces the in-memory result sheets.
func (s *Store) SetRaceResults(results models.RaceResultSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = make(models.RaceResultSet, len(results))
	for race, entries := range results {
		s.results[race] = append([]models.RaceResult(nil), entries...)
	}
}

// RaceResults returns a copy of the in-memory result sheets.
func (s *Store) RaceResults() models.RaceResultSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(models.RaceResultSet, len(s.results))
	for race, entries := range s.results {
		out[race] = append([]models.RaceResult(nil), entries...)
	}
	return out
}

// Stats returns the number of active participants (active or sos) and
// the total number of tracked participants, for /health and the
// periodic stats log.
func (s *Store) Stats() (active, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.tracking {
		if state.Status == models.StatusActive || state.Status == models.StatusSOS {
			active++
		}
	}
	return active, len(s.tracking)
}

// Dirty reports whether the store has unsaved mutations.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}
