// Package config loads process configuration from a JSON file overlaid with
// environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for mcphub.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Registry RegistryConfig `json:"registry"`
	Auth     AuthConfig     `json:"auth"`
}

// ServerConfig holds the HTTP API server settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	PostgresURL string `json:"postgres_url"`
}

// RegistryConfig points at the server catalog document.
type RegistryConfig struct {
	Path string `json:"path"`
}

// AuthConfig holds credential storage and session sweep settings.
type AuthConfig struct {
	// EncryptionKey is the hex-encoded 32-byte key tokens are sealed with.
	EncryptionKey string `json:"encryption_key"`
	SweepInterval string `json:"sweep_interval"` // Go duration, e.g. "1m"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8420,
		},
		Database: DatabaseConfig{
			PostgresURL: "",
		},
		Registry: RegistryConfig{
			Path: filepath.Join(homeDir, ".mcphub", "servers.yaml"),
		},
		Auth: AuthConfig{
			EncryptionKey: "",
			SweepInterval: "1m",
		},
	}
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func getConfigPath() string {
	if p := os.Getenv("MCPHUB_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".mcphub", "config.json")
}

// Load loads configuration from the config file and environment variables.
// Environment always wins over the file.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPath()
	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to parse config file %s: %v\n", configPath, err)
		}
	}

	envString("MCPHUB_SERVER_HOST", &cfg.Server.Host)
	envInt("MCPHUB_SERVER_PORT", &cfg.Server.Port)
	envString("MCPHUB_POSTGRES_URL", &cfg.Database.PostgresURL)
	envString("MCPHUB_REGISTRY_PATH", &cfg.Registry.Path)
	envString("MCPHUB_ENCRYPTION_KEY", &cfg.Auth.EncryptionKey)
	envString("MCPHUB_SWEEP_INTERVAL", &cfg.Auth.SweepInterval)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SweepInterval parses the configured sweep interval. Validate has already
// established it is well-formed.
func (c *Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Auth.SweepInterval)
	return d
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	if c.Database.PostgresURL == "" {
		errs = append(errs, "PostgreSQL URL is required")
	} else if !isValidURL(c.Database.PostgresURL) {
		errs = append(errs, "PostgreSQL URL must be a valid URL")
	}

	if c.Registry.Path == "" {
		errs = append(errs, "registry path is required")
	}

	if c.Auth.EncryptionKey == "" {
		errs = append(errs, "encryption key is required")
	}

	if c.Auth.SweepInterval != "" {
		if d, err := time.ParseDuration(c.Auth.SweepInterval); err != nil {
			errs = append(errs, "sweep interval must be a valid duration")
		} else if d < time.Second {
			errs = append(errs, "sweep interval must be at least 1s")
		}
	} else {
		errs = append(errs, "sweep interval is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
