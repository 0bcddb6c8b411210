// Package config loads bridge configuration from YAML with environment
// overrides for the settings that matter in ad-hoc dev setups.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full bridge configuration.
type Config struct {
	Bridge      BridgeConfig      `yaml:"bridge"`
	Pager       PagerConfig       `yaml:"pager"`
	Display     DisplayConfig     `yaml:"display"`
	Permissions PermissionsConfig `yaml:"permissions"`
	EventLog    EventLogConfig    `yaml:"event_log"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// BridgeConfig controls the HTTP control surface.
type BridgeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PagerConfig controls the device link.
type PagerConfig struct {
	// Address is the pager's link address (host:port). Empty means
	// discover via mDNS.
	Address string `yaml:"address"`
	// DiscoverService is the mDNS service type used for discovery.
	DiscoverService string `yaml:"discover_service"`
	// DiscoverTimeoutSeconds bounds the mDNS browse.
	DiscoverTimeoutSeconds int `yaml:"discover_timeout_seconds"`
}

// DisplayConfig holds the tunable display behavior. These fields are
// hot-reloadable.
type DisplayConfig struct {
	// IdleDelaySeconds is how long after the last tool ends before the
	// display reverts to idle.
	IdleDelaySeconds float64 `yaml:"idle_delay_seconds"`
	IdleText         string  `yaml:"idle_text"`
}

// PermissionsConfig controls the approval state machine.
type PermissionsConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	RetentionMinutes      int `yaml:"retention_minutes"`
	SweepIntervalSeconds  int `yaml:"sweep_interval_seconds"`
}

// EventLogConfig locates the SQLite event log.
type EventLogConfig struct {
	Path string `yaml:"path"`
}

// SessionsConfig locates the session recording store.
type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

// RateLimitConfig throttles hook-client ingestion per remote address.
// RPM <= 0 disables the limiter.
type RateLimitConfig struct {
	RPM   int `yaml:"rpm"`
	Burst int `yaml:"burst"`
}

// IdleDelay returns the idle revert delay as a duration.
func (d DisplayConfig) IdleDelay() time.Duration {
	return time.Duration(d.IdleDelaySeconds * float64(time.Second))
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".clawd")
	return &Config{
		Bridge: BridgeConfig{Host: "0.0.0.0", Port: 8081},
		Pager: PagerConfig{
			DiscoverService:        "_clawd-pager._tcp",
			DiscoverTimeoutSeconds: 5,
		},
		Display: DisplayConfig{
			IdleDelaySeconds: 3,
			IdleText:         "CLAWDBOT READY",
		},
		Permissions: PermissionsConfig{
			DefaultTimeoutSeconds: 90,
			RetentionMinutes:      5,
			SweepIntervalSeconds:  30,
		},
		EventLog:  EventLogConfig{Path: filepath.Join(dataDir, "pager_events.db")},
		Sessions:  SessionsConfig{Dir: filepath.Join(dataDir, "sessions")},
		RateLimit: RateLimitConfig{RPM: 0, Burst: 20},
	}
}

// Load reads the config file at path, applies env overrides, and fills in
// defaults. A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	normalize(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PAGER_ADDR"); v != "" {
		cfg.Pager.Address = v
	}
	if v := os.Getenv("BRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.Port = port
		}
	}
	if v := os.Getenv("PERMISSION_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Permissions.DefaultTimeoutSeconds = secs
		}
	}
}

func normalize(cfg *Config) {
	if cfg.Bridge.Port <= 0 {
		cfg.Bridge.Port = 8081
	}
	if cfg.Display.IdleDelaySeconds <= 0 {
		cfg.Display.IdleDelaySeconds = 3
	}
	if cfg.Display.IdleText == "" {
		cfg.Display.IdleText = "CLAWDBOT READY"
	}
	if cfg.Permissions.DefaultTimeoutSeconds <= 0 {
		cfg.Permissions.DefaultTimeoutSeconds = 90
	}
	if cfg.Permissions.RetentionMinutes <= 0 {
		cfg.Permissions.RetentionMinutes = 5
	}
	if cfg.Permissions.SweepIntervalSeconds <= 0 {
		cfg.Permissions.SweepIntervalSeconds = 30
	}
	if cfg.Pager.DiscoverTimeoutSeconds <= 0 {
		cfg.Pager.DiscoverTimeoutSeconds = 5
	}
}

// BridgeURL returns the base URL hook clients use to reach this bridge.
// Honors BRIDGE_URL for clients pointed at a remote bridge.
func BridgeURL(cfg *Config) string {
	if v := os.Getenv("BRIDGE_URL"); v != "" {
		return v
	}
	host := cfg.Bridge.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Bridge.Port)
}
