// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"

	"github.com/tomtom215/baytrack/internal/models"
)

// Persisted file names inside the data dir. Two independent documents,
// each rewritten wholesale on every save.
const (
	trackingFile     = "tracking.json"
	participantsFile = "participants.json"
)

// Load reads the persisted tracking map and participant list from the
// data dir, replacing the in-memory state. Missing files are not an
// error: a fresh deployment starts empty.
func (s *Store) Load() error {
	tracking := make(map[string]models.TrackingState)
	if err := readJSONFile(filepath.Join(s.dataDir, trackingFile), &tracking); err != nil {
		return fmt.Errorf("load tracking state: %w", err)
	}

	var profiles []models.ParticipantProfile
	if err := readJSONFile(filepath.Join(s.dataDir, participantsFile), &profiles); err != nil {
		return fmt.Errorf("load participant profiles: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tracking = tracking
	s.profiles = make(map[string]models.ParticipantProfile, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			continue
		}
		s.profiles[p.ID] = p
	}
	s.dirty = false
	return nil
}

// Persist writes the current tracking map and participant list to disk.
// Each document is written to a temp file in the data dir and renamed
// into place, so readers never observe a torn write. Clears the dirty
// flag on success.
func (s *Store) Persist() error {
	s.mu.RLock()
	tracking := make(map[string]models.TrackingState, len(s.tracking))
	for id, state := range s.tracking {
		tracking[id] = state
	}
	profiles := make([]models.ParticipantProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	s.mu.RUnlock()

	sort.Slice(profiles, func(i, j int) bool {
		if !profiles[i].RegistrationDate.Equal(profiles[j].RegistrationDate) {
			return profiles[i].RegistrationDate.Before(profiles[j].RegistrationDate)
		}
		return profiles[i].ID < profiles[j].ID
	})

	if err := os.MkdirAll(s.dataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := writeJSONFile(filepath.Join(s.dataDir, trackingFile), tracking); err != nil {
		return fmt.Errorf("persist tracking state: %w", err)
	}
	if err := writeJSONFile(filepath.Join(s.dataDir, participantsFile), profiles); err != nil {
		return fmt.Errorf("persist participant profiles: %w", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path) // #nosec G304 - path is built from the configured data dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
