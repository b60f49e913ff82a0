// Package config loads sync core configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the sync core.
type Config struct {
	// DataDir is where the on-device SQLite database lives.
	DataDir string `yaml:"data_dir"`

	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
}

// RemoteConfig configures the remote store client.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SyncConfig configures the drainer and reachability probe.
type SyncConfig struct {
	DrainIntervalSeconds int `yaml:"drain_interval_seconds"`
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds"`
	BatchSize            int `yaml:"batch_size"`
	MaxAttempts          int `yaml:"max_attempts"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Remote: RemoteConfig{
			BaseURL:        "https://api.pomadehq.com",
			TimeoutSeconds: 15,
		},
		Sync: SyncConfig{
			DrainIntervalSeconds: 30,
			ProbeIntervalSeconds: 10,
			BatchSize:            50,
			MaxAttempts:          5,
		},
	}
}

// Load reads configuration from path, falling back to defaults for missing
// values. A missing file is not an error; env overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays POMADE_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("POMADE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("POMADE_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("POMADE_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url must not be empty")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}
	return nil
}

// RemoteTimeout returns the remote call timeout as a duration.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// DrainInterval returns the periodic drain interval as a duration.
func (c *Config) DrainInterval() time.Duration {
	return time.Duration(c.Sync.DrainIntervalSeconds) * time.Second
}

// ProbeInterval returns the reachability probe interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeIntervalSeconds) * time.Second
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pomade"
	}
	return home + "/.pomade"
}
