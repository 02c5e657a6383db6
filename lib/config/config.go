// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the client configuration file.
//
// Configuration comes from a single YAML file specified by:
//   - the MATRIX_DM_CONFIG environment variable, or
//   - the --config flag passed to the command.
//
// There are no fallbacks or automatic discovery. Credentials are not
// stored here: the access token arrives via MATRIX_DM_TOKEN or an
// interactive login, and durable credential storage belongs to the
// protocol client, not this layer.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath is the environment variable naming the config file.
const EnvConfigPath = "MATRIX_DM_CONFIG"

// EnvAccessToken is the environment variable carrying a pre-existing
// access token. When unset, the command performs a password login.
const EnvAccessToken = "MATRIX_DM_TOKEN"

// Config is the client configuration.
type Config struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.com").
	HomeserverURL string `yaml:"homeserver_url"`

	// Username is the account localpart (without '@' or ':server').
	Username string `yaml:"username"`

	// ServerName is the Matrix server name used to build the local
	// user ID. Defaults to the host of HomeserverURL when empty.
	ServerName string `yaml:"server_name,omitempty"`

	// LogLevel is one of "debug", "info", "warn", "error".
	// Defaults to "info".
	LogLevel string `yaml:"log_level,omitempty"`

	// Timeline tunes the conversation orchestration layer.
	Timeline TimelineConfig `yaml:"timeline,omitempty"`

	// Call tunes voice/video signaling.
	Call CallConfig `yaml:"call,omitempty"`
}

// TimelineConfig tunes the conversation orchestration layer.
type TimelineConfig struct {
	// EchoExpiry is how long a locally sent event ID stays registered
	// for echo suppression. A late echo past this window renders as a
	// duplicate. Defaults to 10s.
	EchoExpiry time.Duration `yaml:"echo_expiry,omitempty"`

	// PageSize is the number of events requested per backward
	// pagination call. Defaults to 30.
	PageSize int `yaml:"page_size,omitempty"`

	// ThumbnailWidth and ThumbnailHeight bound thumbnail requests.
	// Defaults: 640x480.
	ThumbnailWidth  int `yaml:"thumbnail_width,omitempty"`
	ThumbnailHeight int `yaml:"thumbnail_height,omitempty"`
}

// CallConfig tunes voice/video call signaling.
type CallConfig struct {
	// STUNServers are additional STUN URIs merged with the TURN
	// credentials fetched from the homeserver.
	STUNServers []string `yaml:"stun_servers,omitempty"`

	// RingTimeout is how long an outgoing invite waits for an answer
	// before hanging up. Defaults to 60s.
	RingTimeout time.Duration `yaml:"ring_timeout,omitempty"`
}

// Load reads and validates the configuration file at path. When path
// is empty, the MATRIX_DM_CONFIG environment variable is consulted.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file (set %s or pass --config)", EnvConfigPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Timeline.EchoExpiry == 0 {
		c.Timeline.EchoExpiry = 10 * time.Second
	}
	if c.Timeline.PageSize == 0 {
		c.Timeline.PageSize = 30
	}
	if c.Timeline.ThumbnailWidth == 0 {
		c.Timeline.ThumbnailWidth = 640
	}
	if c.Timeline.ThumbnailHeight == 0 {
		c.Timeline.ThumbnailHeight = 480
	}
	if c.Call.RingTimeout == 0 {
		c.Call.RingTimeout = 60 * time.Second
	}
}

func (c *Config) validate() error {
	if c.HomeserverURL == "" {
		return fmt.Errorf("homeserver_url is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.Timeline.PageSize < 0 {
		return fmt.Errorf("timeline.page_size must be positive")
	}
	return nil
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
