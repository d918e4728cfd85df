package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Live     LiveConfig     `yaml:"live"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Mock     MockConfig     `yaml:"mock"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// MaxConnections caps concurrent live sessions; 0 means unlimited.
	MaxConnections int `yaml:"max_connections"`
}

type LiveConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// MaxSessionTTL bounds how long one subscription may stay open before
	// the client has to resubscribe; 0 disables the bound.
	MaxSessionTTL time.Duration `yaml:"max_session_ttl"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig configures bearer token checks. An empty JWTSecret disables
// them.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MockConfig struct {
	Interval time.Duration `yaml:"interval"`
	Projects int           `yaml:"projects"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Live: LiveConfig{
			HeartbeatInterval: 15 * time.Second,
			MaxSessionTTL:     10 * time.Minute,
			WriteTimeout:      10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "planboard.db",
		},
		Auth: AuthConfig{
			Issuer: "planboard",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mock: MockConfig{
			Interval: 2 * time.Second,
			Projects: 2,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Annotatef(err, "parsing %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Annotatef(err, "config %s", path)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.NotValidf("server.port %d", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return errors.NotValidf("server.max_connections %d", c.Server.MaxConnections)
	}
	if c.Live.HeartbeatInterval <= 0 {
		return errors.NotValidf("live.heartbeat_interval %v", c.Live.HeartbeatInterval)
	}
	if c.Live.MaxSessionTTL < 0 {
		return errors.NotValidf("live.max_session_ttl %v", c.Live.MaxSessionTTL)
	}
	if c.Live.WriteTimeout <= 0 {
		return errors.NotValidf("live.write_timeout %v", c.Live.WriteTimeout)
	}
	if c.Database.Path == "" {
		return errors.NotValidf("empty database.path")
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return errors.NotValidf("empty metrics.path")
	}
	if c.Mock.Interval <= 0 {
		return errors.NotValidf("mock.interval %v", c.Mock.Interval)
	}
	return nil
}
