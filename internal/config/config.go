// Package config provides configuration for the linkwatch server.
//
// Precedence: built-in defaults, then an optional YAML file, then
// environment variables. The environment surface is the one agents and
// deployments actually set:
//
//	DISCOVERY_MODE        sysfs | hubble | none
//	HUBBLE_RELAY_ADDR     flow relay endpoint (hubble mode)
//	IDLE_TIMEOUT_SECONDS  silence before active links go idle (default 5)
//	POLL_INTERVAL_MS      counter polling interval (default 100, sysfs mode)
//	DEMO_MODE             seed the fixed demo topology
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DiscoveryMode selects the observation backend
type DiscoveryMode string

const (
	// ModeSysfs - local interface counter polling plus netlink signals
	ModeSysfs DiscoveryMode = "sysfs"
	// ModeHubble - remote flow-aggregation relay stream
	ModeHubble DiscoveryMode = "hubble"
	// ModeNone - no discovery source; state arrives via the API and agents
	ModeNone DiscoveryMode = "none"
)

// Config holds all server settings
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	DiscoveryMode   DiscoveryMode `yaml:"discovery_mode"`
	HubbleRelayAddr string        `yaml:"hubble_relay_addr"`
	EndpointMapPath string        `yaml:"endpoint_map_path"`
	InterfaceFilter []string      `yaml:"interface_filter,omitempty"`

	IdleTimeoutSeconds float64 `yaml:"idle_timeout_seconds"`
	PollIntervalMs     int     `yaml:"poll_interval_ms"`
	SweepIntervalMs    int     `yaml:"sweep_interval_ms"`

	EventHistorySize int    `yaml:"event_history_size"`
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
	EventJournalPath string `yaml:"event_journal_path"`

	DemoMode bool `yaml:"demo_mode"`
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		ListenAddr:         ":8000",
		DiscoveryMode:      ModeNone,
		HubbleRelayAddr:    "hubble-relay:4245",
		EndpointMapPath:    "./endpoints.yaml",
		IdleTimeoutSeconds: 5,
		PollIntervalMs:     100,
		SweepIntervalMs:    1000,
		EventHistorySize:   100,
		SubscriberBuffer:   64,
	}
}

// Load reads the optional config file at path, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("DISCOVERY_MODE"); v != "" {
		c.DiscoveryMode = DiscoveryMode(strings.ToLower(v))
	}
	if v := os.Getenv("HUBBLE_RELAY_ADDR"); v != "" {
		c.HubbleRelayAddr = v
	}
	if v := os.Getenv("ENDPOINT_MAP_PATH"); v != "" {
		c.EndpointMapPath = v
	}
	if v := os.Getenv("IDLE_TIMEOUT_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.IdleTimeoutSeconds = f
		}
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollIntervalMs = n
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SweepIntervalMs = n
		}
	}
	if v := os.Getenv("EVENT_HISTORY_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EventHistorySize = n
		}
	}
	if v := os.Getenv("EVENT_JOURNAL_PATH"); v != "" {
		c.EventJournalPath = v
	}
	if v := os.Getenv("INTERFACE_FILTER"); v != "" {
		c.InterfaceFilter = strings.Split(v, ",")
	}
	if v := os.Getenv("DEMO_MODE"); v != "" {
		c.DemoMode = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate checks settings for consistency
func (c *Config) Validate() error {
	switch c.DiscoveryMode {
	case ModeSysfs, ModeHubble, ModeNone:
	default:
		return fmt.Errorf("invalid discovery mode %q (want sysfs, hubble or none)", c.DiscoveryMode)
	}
	if c.DiscoveryMode == ModeHubble && c.HubbleRelayAddr == "" {
		return fmt.Errorf("hubble mode requires HUBBLE_RELAY_ADDR")
	}
	if c.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("idle_timeout_seconds must be positive")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive")
	}
	if c.SweepIntervalMs <= 0 {
		return fmt.Errorf("sweep_interval_ms must be positive")
	}
	return nil
}

// IdleTimeout returns the idle timeout as a duration
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds * float64(time.Second))
}

// PollInterval returns the counter polling interval
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// SweepInterval returns the idle sweep interval
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}
