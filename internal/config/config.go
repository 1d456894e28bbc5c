// Package config loads application configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration.
type Config struct {
	// ProjectURL is the Supabase project URL.
	ProjectURL string `yaml:"project_url" env:"SNACKAPP_PROJECT_URL"`
	// AnonKey is the project's anon key.
	AnonKey string `yaml:"anon_key" env:"SNACKAPP_ANON_KEY"`
	// RefreshToken restores the previous session on startup when set.
	RefreshToken string `yaml:"refresh_token" env:"SNACKAPP_REFRESH_TOKEN"`
	// Timeout bounds individual backend requests. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout" env:"SNACKAPP_TIMEOUT"`
	// LogLevel sets the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level" env:"SNACKAPP_LOG_LEVEL"`
}

// Load reads configuration from the YAML file at path (skipped when path
// is empty or the file does not exist), then applies environment
// overrides. A .env file in the working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Timeout:  30 * time.Second,
		LogLevel: "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.ProjectURL == "" {
		return errors.New("project_url is required")
	}
	if c.AnonKey == "" {
		return errors.New("anon_key is required")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}
