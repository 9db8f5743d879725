package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the dropbin CLI.
type Config struct {
	// ServerURL is the control plane base URL.
	ServerURL string
	// PublicBaseURL prefixes the slug in share links.
	PublicBaseURL string
	// AccessToken is an optional bearer token that raises the caller tier.
	AccessToken string
	// Retention is the default retention code for uploads.
	Retention string
	// PowDifficulty must match the server's anti-abuse difficulty.
	PowDifficulty       int
	DownloadParallelism int
	RequestTimeout      time.Duration
	Stagger             time.Duration
	Verbose             bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.PublicBaseURL = "http://127.0.0.1:8080"
	c.Retention = "24h"
	c.PowDifficulty = 16
	c.DownloadParallelism = 4
	c.RequestTimeout = 30 * time.Second
	c.Stagger = 50 * time.Millisecond
}

// DefaultPath is the config file used when --config is not given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dropbin", "config.yaml")
}

// Load applies defaults and overlays the YAML file at path. An empty path
// falls back to DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path == "" {
		return cfg, nil
	}
	if err := parseYaml(cfg, path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}
