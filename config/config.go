package config

import (
	"fmt"
	"strings"
	"time"
)

// Store driver constants
const (
	StoreDriverMemory = "memory" // In-memory only, lost on restart
	StoreDriverSQLite = "sqlite" // SQLite file, recommended for production
)

// Config represents the complete gateway configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Gateway GatewayConfig `yaml:"gateway"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig defines the HTTP front-end settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// BaseURL is the externally reachable address, used to build OAuth2
	// callback URLs.
	BaseURL         string        `yaml:"base_url"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address in host:port form
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MetricsConfig defines the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// StoreConfig defines where gateway state is persisted
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// Path is the SQLite database file, ignored for the memory driver
	Path string `yaml:"path"`
}

// AuthConfig defines session and authorization flow settings
type AuthConfig struct {
	// JWTSecret signs gateway session tokens. Required when the server is
	// enabled.
	JWTSecret     string `yaml:"jwt_secret"`
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
}

// GatewayConfig defines call execution settings
type GatewayConfig struct {
	// CallTimeout is the default per-call timeout when a request does not
	// carry its own.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// ResolveDepth caps reference resolution nesting
	ResolveDepth int `yaml:"resolve_depth"`
}

// LoggingConfig defines structured logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a config with sensible development defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Store: StoreConfig{
			Driver: StoreDriverSQLite,
			Path:   "specgate.db",
		},
		Auth: AuthConfig{
			AdminUsername: "admin",
		},
		Gateway: GatewayConfig{
			CallTimeout:  30 * time.Second,
			ResolveDepth: 32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks if the config is valid and normalizes enum fields
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be in 1-65535, got %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics.port %d collides with server.port", c.Metrics.Port)
		}
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q",
			StoreDriverMemory, StoreDriverSQLite, c.Store.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Gateway.CallTimeout <= 0 {
		return fmt.Errorf("gateway.call_timeout must be positive")
	}
	if c.Gateway.ResolveDepth <= 0 {
		return fmt.Errorf("gateway.resolve_depth must be positive")
	}

	c.Logging.Level = strings.ToLower(c.Logging.Level)
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}
