package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/dropbin/internal/timex"
)

// YamlConfig is a DTO used exclusively for YAML unmarshalling. Only keys
// present in the file override the defaults.
type YamlConfig struct {
	ServerURL           string          `yaml:"server_url"`
	PublicBaseURL       string          `yaml:"public_base_url"`
	AccessToken         string          `yaml:"access_token"`
	Retention           string          `yaml:"retention"`
	PowDifficulty       *int            `yaml:"pow_difficulty"`
	DownloadParallelism int             `yaml:"download_parallelism"`
	RequestTimeout      *timex.Duration `yaml:"request_timeout"`
	Stagger             *timex.Duration `yaml:"stagger"`
	Verbose             bool            `yaml:"verbose"`
}

func parseYaml(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var yc YamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if yc.ServerURL != "" {
		cfg.ServerURL = yc.ServerURL
	}
	if yc.PublicBaseURL != "" {
		cfg.PublicBaseURL = yc.PublicBaseURL
	}
	if yc.AccessToken != "" {
		cfg.AccessToken = yc.AccessToken
	}
	if yc.Retention != "" {
		cfg.Retention = yc.Retention
	}
	if yc.PowDifficulty != nil {
		cfg.PowDifficulty = *yc.PowDifficulty
	}
	if yc.DownloadParallelism > 0 {
		cfg.DownloadParallelism = yc.DownloadParallelism
	}
	if yc.RequestTimeout != nil {
		cfg.RequestTimeout = yc.RequestTimeout.Duration
	}
	if yc.Stagger != nil {
		cfg.Stagger = yc.Stagger.Duration
	}
	cfg.Verbose = cfg.Verbose || yc.Verbose
	return nil
}
