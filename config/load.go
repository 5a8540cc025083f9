package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, layers it over the defaults, applies
// SPECGATE_* environment overrides and validates the result. An empty path
// skips the file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config. Environment wins
// over the file so deployments can override without editing it.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "SPECGATE_SERVER_HOST")
	setInt(&cfg.Server.Port, "SPECGATE_SERVER_PORT")
	setString(&cfg.Server.BaseURL, "SPECGATE_SERVER_BASE_URL")
	setBool(&cfg.Metrics.Enabled, "SPECGATE_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "SPECGATE_METRICS_PORT")
	setString(&cfg.Store.Driver, "SPECGATE_STORE_DRIVER")
	setString(&cfg.Store.Path, "SPECGATE_STORE_PATH")
	setString(&cfg.Auth.JWTSecret, "SPECGATE_JWT_SECRET")
	setString(&cfg.Auth.AdminUsername, "SPECGATE_ADMIN_USERNAME")
	setString(&cfg.Auth.AdminPassword, "SPECGATE_ADMIN_PASSWORD")
	setDuration(&cfg.Gateway.CallTimeout, "SPECGATE_CALL_TIMEOUT")
	setString(&cfg.Logging.Level, "SPECGATE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "SPECGATE_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
