// Package config loads the optional settings file shared by the binaries.
// YAML and TOML are both accepted, chosen by file extension.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "DIRECTORIO_CONFIG"

type Config struct {
	Timer struct {
		DefaultColor    string `yaml:"default_color" toml:"default_color"`
		AdjustStepSec   int    `yaml:"adjust_step_sec" toml:"adjust_step_sec"`
		LongPressMillis int    `yaml:"long_press_ms" toml:"long_press_ms"`
	} `yaml:"timer" toml:"timer"`

	Sync struct {
		HeartbeatSec   int    `yaml:"heartbeat_sec" toml:"heartbeat_sec"`
		MaxMissedPongs *int   `yaml:"max_missed_pongs" toml:"max_missed_pongs"`
		EventLogSize   int    `yaml:"event_log_size" toml:"event_log_size"`
		StateDir       string `yaml:"state_dir" toml:"state_dir"`
	} `yaml:"sync" toml:"sync"`

	Relay struct {
		URL     string `yaml:"url" toml:"url"`
		NATSURL string `yaml:"nats_url" toml:"nats_url"`
	} `yaml:"relay" toml:"relay"`
}

// Load reads path. An empty path returns the zero Config.
func Load(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return &cfg, nil
}

// LoadFromEnv loads the file named by DIRECTORIO_CONFIG, if any.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvPath))
}

// HeartbeatInterval returns the configured interval or def.
func (c *Config) HeartbeatInterval(def time.Duration) time.Duration {
	if c.Sync.HeartbeatSec > 0 {
		return time.Duration(c.Sync.HeartbeatSec) * time.Second
	}
	return def
}

// LongPress returns the configured long-press threshold or def.
func (c *Config) LongPress(def time.Duration) time.Duration {
	if c.Timer.LongPressMillis > 0 {
		return time.Duration(c.Timer.LongPressMillis) * time.Millisecond
	}
	return def
}

// MaxMissedPongs returns the configured limit or def. Zero disables it.
func (c *Config) MaxMissedPongs(def int) int {
	if c.Sync.MaxMissedPongs != nil {
		return *c.Sync.MaxMissedPongs
	}
	return def
}
