// Package config resolves runtime settings from, in order of precedence,
// command-line flags, environment variables and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variables consumed here.
const (
	EnvConfigFile = "SILEXIUM_CONFIG"
	EnvServerKey  = "SILEXIUM_SERVER_KEY"
	EnvDBPath     = "SILEXIUM_DB"
	EnvLogLevel   = "SILEXIUM_LOG_LEVEL"
)

// Config holds the service configuration.
type Config struct {
	Host          string  `yaml:"host"`
	Port          int     `yaml:"port"`
	DBPath        string  `yaml:"db_path"`
	ServerKeyPath string  `yaml:"server_key"`
	LogLevel      string  `yaml:"log_level"`
	RateLimit     float64 `yaml:"rate_limit"`
	RateBurst     int     `yaml:"rate_burst"`
}

// Load builds the configuration: defaults, then the YAML file named by
// SILEXIUM_CONFIG (if any), then environment variables. Flag overrides are
// applied by the caller on the returned value.
func Load() (*Config, error) {
	cfg := &Config{
		Host:     "0.0.0.0",
		Port:     8080,
		LogLevel: "info",
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvServerKey); v != "" {
		cfg.ServerKeyPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PORT %q is not a number: %w", v, err)
		}
		cfg.Port = port
	}

	if cfg.DBPath == "" {
		path, err := defaultDBPath()
		if err != nil {
			return nil, err
		}
		cfg.DBPath = path
	}
	return cfg, nil
}

// Addr returns the host:port the server binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// defaultDBPath follows the XDG base directory convention.
func defaultDBPath() (string, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "silexium", "silexium.db"), nil
}
