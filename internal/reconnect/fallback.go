// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package reconnect

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/baytrack/internal/models"
)

// fallbackRecord is one diverted message with its divert time, so the
// local record keeps enough context to reconcile later.
type fallbackRecord struct {
	StoredAt time.Time      `json:"storedAt"`
	Message  models.Message `json:"message"`
}

// FileFallback persists diverted messages as JSON lines appended to a
// local file. It is the degraded-mode sink for clients that lose the
// relay entirely.
type FileFallback struct {
	mu   sync.Mutex
	path string
}

// NewFileFallback creates a sink appending to path.
func NewFileFallback(path string) *FileFallback {
	return &FileFallback{path: path}
}

// Store implements Fallback. Each message becomes one JSON line; the
// file is opened and released per write so a crash never holds it.
func (f *FileFallback) Store(msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line, err := json.Marshal(fallbackRecord{
		StoredAt: time.Now().UTC(),
		Message:  msg,
	})
	if err != nil {
		return fmt.Errorf("encode fallback record: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 - caller-chosen local path
	if err != nil {
		return fmt.Errorf("open fallback file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write fallback record: %w", err)
	}
	return nil
}
