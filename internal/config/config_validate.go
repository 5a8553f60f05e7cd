// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

package config

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Validation errors.
var (
	ErrInvalidPort     = errors.New("server port must be between 1 and 65535")
	ErrInvalidTimeout  = errors.New("server timeout must be positive")
	ErrEmptyDataDir    = errors.New("storage data_dir must not be empty")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Validate checks the configuration for values that cannot work at runtime.
// It is called by Load; call it directly only for hand-built configs.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidTimeout, c.Server.Timeout)
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return ErrEmptyDataDir
	}
	if c.Storage.PersistInterval <= 0 {
		return fmt.Errorf("persist_interval: %w", ErrInvalidInterval)
	}
	if c.Liveness.Interval <= 0 {
		return fmt.Errorf("liveness interval: %w", ErrInvalidInterval)
	}
	if c.Security.RateLimitReqs <= 0 {
		return fmt.Errorf("rate_limit_reqs must be positive, got %d", c.Security.RateLimitReqs)
	}
	if c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window: %w", ErrInvalidInterval)
	}
	return nil
}

// OrganizerAuthEnabled reports whether an organizer password is configured.
// With no password set, organizer auth always fails (closed by default).
func (c *SecurityConfig) OrganizerAuthEnabled() bool {
	return c.OrganizerPassword != ""
}

// CheckOrganizerPassword verifies a candidate organizer password against the
// configured secret. The secret may be a bcrypt hash; plaintext comparison
// is constant-time.
func (c *SecurityConfig) CheckOrganizerPassword(candidate string) bool {
	if !c.OrganizerAuthEnabled() {
		return false
	}

	if isBcryptHash(c.OrganizerPassword) {
		return bcrypt.CompareHashAndPassword([]byte(c.OrganizerPassword), []byte(candidate)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(c.OrganizerPassword), []byte(candidate)) == 1
}

// isBcryptHash detects the standard bcrypt prefixes.
func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") ||
		strings.HasPrefix(s, "$2b$") ||
		strings.HasPrefix(s, "$2y$")
}
