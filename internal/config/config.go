package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Session   SessionConfig   `yaml:"session"`
	Companion CompanionConfig `yaml:"companion"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the history store. Driver is "postgres" (default)
// or "sqlite"; sqlite only uses Path.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type SessionConfig struct {
	TickMS int `yaml:"tick_ms"`
	UserID int `yaml:"user_id"`
}

// CompanionConfig points at the paired companion. An empty URL runs the
// service phone-only.
type CompanionConfig struct {
	URL                string `yaml:"url"`
	APIKey             string `yaml:"api_key"`
	ProbeIntervalSec   int    `yaml:"probe_interval_sec"`
	ProgressIntervalMS int    `yaml:"progress_interval_ms"`
	OutboxSize         int    `yaml:"outbox_size"`
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// SQLite reports whether the local SQLite store is selected.
func (d DatabaseConfig) SQLite() bool {
	return strings.EqualFold(d.Driver, "sqlite")
}

// Tick is the timer sampling interval.
func (s SessionConfig) Tick() time.Duration {
	return time.Duration(s.TickMS) * time.Millisecond
}

func (c CompanionConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

func (c CompanionConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

// Load reads config from a YAML file, then applies defaults and environment
// variable overrides. Env vars use the prefix SPRINTCOACH_ and
// underscore-separated paths:
//
//	SPRINTCOACH_SERVER_HOST, SPRINTCOACH_SERVER_PORT,
//	SPRINTCOACH_DB_DRIVER, SPRINTCOACH_DB_HOST, SPRINTCOACH_DB_PORT,
//	SPRINTCOACH_DB_NAME, SPRINTCOACH_DB_USER, SPRINTCOACH_DB_PASSWORD,
//	SPRINTCOACH_DB_SSLMODE, SPRINTCOACH_DB_PATH,
//	SPRINTCOACH_AUTH_API_KEY,
//	SPRINTCOACH_TAILSCALE_ENABLED, SPRINTCOACH_TAILSCALE_HOSTNAME,
//	SPRINTCOACH_COMPANION_URL, SPRINTCOACH_COMPANION_API_KEY
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "sprintcoach"
	}
	if cfg.Session.TickMS == 0 {
		cfg.Session.TickMS = 16
	}
	if cfg.Session.UserID == 0 {
		cfg.Session.UserID = 1
	}
	if cfg.Companion.ProbeIntervalSec == 0 {
		cfg.Companion.ProbeIntervalSec = 5
	}
	if cfg.Companion.ProgressIntervalMS == 0 {
		cfg.Companion.ProgressIntervalMS = 500
	}
	if cfg.Companion.OutboxSize == 0 {
		cfg.Companion.OutboxSize = 64
	}
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("SPRINTCOACH_SERVER_HOST", &cfg.Server.Host)
	num("SPRINTCOACH_SERVER_PORT", &cfg.Server.Port)
	str("SPRINTCOACH_DB_DRIVER", &cfg.Database.Driver)
	str("SPRINTCOACH_DB_HOST", &cfg.Database.Host)
	num("SPRINTCOACH_DB_PORT", &cfg.Database.Port)
	str("SPRINTCOACH_DB_NAME", &cfg.Database.Name)
	str("SPRINTCOACH_DB_USER", &cfg.Database.User)
	str("SPRINTCOACH_DB_PASSWORD", &cfg.Database.Password)
	str("SPRINTCOACH_DB_SSLMODE", &cfg.Database.SSLMode)
	str("SPRINTCOACH_DB_PATH", &cfg.Database.Path)
	str("SPRINTCOACH_AUTH_API_KEY", &cfg.Auth.APIKey)
	if v := os.Getenv("SPRINTCOACH_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	str("SPRINTCOACH_TAILSCALE_HOSTNAME", &cfg.Tailscale.Hostname)
	str("SPRINTCOACH_COMPANION_URL", &cfg.Companion.URL)
	str("SPRINTCOACH_COMPANION_API_KEY", &cfg.Companion.APIKey)
}

func (c *Config) validate() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if c.Database.Port == 0 {
			return fmt.Errorf("database.port is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if c.Session.TickMS < 10 || c.Session.TickMS > 16 {
		return fmt.Errorf("session.tick_ms must be between 10 and 16, got %d", c.Session.TickMS)
	}
	if c.Companion.OutboxSize < 1 {
		return fmt.Errorf("companion.outbox_size must be positive")
	}
	return nil
}
