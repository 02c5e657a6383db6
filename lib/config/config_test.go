// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
homeserver_url: https://matrix.example.com
username: alice
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.Timeline.EchoExpiry != 10*time.Second {
		t.Errorf("EchoExpiry = %v", cfg.Timeline.EchoExpiry)
	}
	if cfg.Timeline.PageSize != 30 {
		t.Errorf("PageSize = %d", cfg.Timeline.PageSize)
	}
	if cfg.Timeline.ThumbnailWidth != 640 || cfg.Timeline.ThumbnailHeight != 480 {
		t.Errorf("thumbnail bounds = %dx%d", cfg.Timeline.ThumbnailWidth, cfg.Timeline.ThumbnailHeight)
	}
	if cfg.Call.RingTimeout != 60*time.Second {
		t.Errorf("RingTimeout = %v", cfg.Call.RingTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
homeserver_url: https://matrix.example.com
username: alice
log_level: debug
timeline:
  echo_expiry: 5s
  page_size: 50
call:
  ring_timeout: 30s
  stun_servers:
    - stun:stun.example.com:3478
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timeline.EchoExpiry != 5*time.Second {
		t.Errorf("EchoExpiry = %v", cfg.Timeline.EchoExpiry)
	}
	if cfg.Timeline.PageSize != 50 {
		t.Errorf("PageSize = %d", cfg.Timeline.PageSize)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
	if len(cfg.Call.STUNServers) != 1 {
		t.Errorf("STUNServers = %v", cfg.Call.STUNServers)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing homeserver": "username: alice\n",
		"missing username":   "homeserver_url: https://matrix.example.com\n",
		"bad log level":      "homeserver_url: https://matrix.example.com\nusername: alice\nlog_level: loud\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if _, err := Load(""); err == nil {
		t.Error("Load with no path succeeded, want error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load with absent file succeeded, want error")
	}
}
