// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package config loads and validates the Baytrack server configuration.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables > config file > built-in defaults.
package config

import (
	"time"
)

// Config is the root configuration for the Baytrack server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Storage  StorageConfig  `koanf:"storage"`
	Liveness LivenessConfig `koanf:"liveness"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// SecurityConfig holds the organizer shared secret and HTTP hardening knobs.
type SecurityConfig struct {
	// OrganizerPassword authenticates organizer connections. It may be a
	// plaintext secret or a bcrypt hash ($2a$/$2b$/$2y$ prefix).
	OrganizerPassword string `koanf:"organizer_password"`

	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// StorageConfig controls the JSON snapshot persistence.
type StorageConfig struct {
	// DataDir is where tracking.json and participants.json are written.
	DataDir string `koanf:"data_dir"`

	// PersistInterval is the periodic snapshot cadence. SOS always forces
	// an immediate snapshot regardless of this value.
	PersistInterval time.Duration `koanf:"persist_interval"`
}

// LivenessConfig controls the connection heartbeat supervisor.
type LivenessConfig struct {
	// Interval is the probe cadence. An unresponsive connection survives at
	// most two intervals before eviction.
	Interval time.Duration `koanf:"interval"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3000,
			Timeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			OrganizerPassword: "",
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir:         "/data/baytrack",
			PersistInterval: 30 * time.Second,
		},
		Liveness: LivenessConfig{
			Interval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
