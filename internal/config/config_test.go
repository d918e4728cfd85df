package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins:
    - "https://board.example.com"
  max_connections: 500
live:
  heartbeat_interval: 5s
  max_session_ttl: 0s
auth:
  jwt_secret: "s3cret"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://board.example.com" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.MaxConnections != 500 {
		t.Errorf("Server.MaxConnections = %d, want 500", cfg.Server.MaxConnections)
	}
	if cfg.Live.HeartbeatInterval != 5*time.Second {
		t.Errorf("Live.HeartbeatInterval = %v, want 5s", cfg.Live.HeartbeatInterval)
	}
	if cfg.Live.MaxSessionTTL != 0 {
		t.Errorf("Live.MaxSessionTTL = %v, want 0", cfg.Live.MaxSessionTTL)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Live.WriteTimeout != 10*time.Second {
		t.Errorf("Live.WriteTimeout = %v, want default 10s", cfg.Live.WriteTimeout)
	}
	if cfg.Auth.Issuer != "planboard" {
		t.Errorf("Auth.Issuer = %q, want default planboard", cfg.Auth.Issuer)
	}
	if cfg.Database.Path != "planboard.db" {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want default %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Live.HeartbeatInterval != 15*time.Second {
		t.Errorf("Live.HeartbeatInterval = %v, want default 15s", cfg.Live.HeartbeatInterval)
	}
	if cfg.Live.MaxSessionTTL != 10*time.Minute {
		t.Errorf("Live.MaxSessionTTL = %v, want default 10m", cfg.Live.MaxSessionTTL)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /metrics", cfg.Metrics)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, ":::not valid yaml"))
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestLoadOrDefaultSurfacesInvalidFile(t *testing.T) {
	_, err := LoadOrDefault(writeConfig(t, "live:\n  heartbeat_interval: 0s\n"))
	if !errors.Is(err, errors.NotValid) {
		t.Fatalf("LoadOrDefault() err = %v, want NotValid", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"negative max connections", func(c *Config) { c.Server.MaxConnections = -1 }},
		{"zero heartbeat", func(c *Config) { c.Live.HeartbeatInterval = 0 }},
		{"negative ttl", func(c *Config) { c.Live.MaxSessionTTL = -time.Second }},
		{"zero write timeout", func(c *Config) { c.Live.WriteTimeout = 0 }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"metrics without path", func(c *Config) { c.Metrics.Path = "" }},
		{"zero mock interval", func(c *Config) { c.Mock.Interval = 0 }},
	}

	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, errors.NotValid) {
				t.Errorf("Validate() = %v, want NotValid", err)
			}
		})
	}
}
