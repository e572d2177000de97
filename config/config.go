// Package config handles persistent CLI defaults.
//
// Config is stored at $XDG_CONFIG_HOME/stackup/config.yaml (defaults to
// ~/.config/stackup/config.yaml). Everything in it can be overridden per
// invocation with flags; a missing file means built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds orchestrator defaults applied to every run.
type Config struct {
	// StartMode is "strict" or "degraded"; see stackup up --help.
	StartMode string `yaml:"start-mode,omitempty"`
	// GracePeriod before a stopping container is killed.
	GracePeriod time.Duration `yaml:"grace-period,omitempty"`
	// MaxRestarts bounds per-service restart attempts.
	MaxRestarts int `yaml:"max-restarts,omitempty"`
	// DockerHost overrides DOCKER_HOST for the runtime client.
	DockerHost string `yaml:"docker-host,omitempty"`
}

// Path returns the config file location. It respects XDG_CONFIG_HOME,
// falling back to ~/.config/stackup/config.yaml.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "stackup", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "stackup", "config.yaml")
}

// Load reads the config file. If the file does not exist, a zero Config
// is returned (not an error).
func Load() (*Config, error) {
	data, err := os.ReadFile(Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to disk, creating directories as needed.
func (c *Config) Save() error {
	p := Path()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
