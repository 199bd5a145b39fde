// Package config loads the TOML configuration with a three-layer override
// chain: built-in defaults, the config file, then ENVELOPPE_* environment
// variables. A Holder gives concurrent readers a consistent snapshot and a
// watcher hot-reloads the file into it.
package config

import (
	"fmt"
	"time"
)

// Default values, layer 0 of the override chain.
const (
	defaultDBFile         = "enveloppe.db"
	defaultPollInterval   = "30s"
	defaultSettleDelay    = "2s"
	defaultResyncInterval = "5m"
	defaultLogLevel       = "info"
)

// Config is the full configuration surface. Remote base URL resolution and
// credential supply are external collaborators; the file only carries their
// results.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `toml:"db_path"`

	// RemoteBaseURL is the collection API root, no trailing slash.
	RemoteBaseURL string `toml:"remote_base_url"`

	// PushURL optionally enables the websocket reachability channel.
	PushURL string `toml:"push_url"`

	// Token is the bearer credential supplied by the auth collaborator.
	Token string `toml:"token"`

	// UserID owns every record this device writes.
	UserID string `toml:"user_id"`

	PollInterval   string `toml:"poll_interval"`
	SettleDelay    string `toml:"settle_delay"`
	ResyncInterval string `toml:"resync_interval"`
	LogLevel       string `toml:"log_level"`
}

// DefaultConfig returns a Config populated with all defaults. Used as the
// starting point for TOML decoding so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath:         defaultDBFile,
		PollInterval:   defaultPollInterval,
		SettleDelay:    defaultSettleDelay,
		ResyncInterval: defaultResyncInterval,
		LogLevel:       defaultLogLevel,
	}
}

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("config: remote_base_url is required")
	}

	if c.UserID == "" {
		return fmt.Errorf("config: user_id is required")
	}

	for _, field := range []struct {
		name, value string
	}{
		{"poll_interval", c.PollInterval},
		{"settle_delay", c.SettleDelay},
		{"resync_interval", c.ResyncInterval},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("config: invalid %s %q: %w", field.name, field.value, err)
		}
	}

	return nil
}

// Durations returns the parsed interval settings. Call Validate first;
// unparseable values fall back to defaults here rather than erroring twice.
func (c *Config) Durations() (poll, settle, resync time.Duration) {
	poll = parseOr(c.PollInterval, defaultPollInterval)
	settle = parseOr(c.SettleDelay, defaultSettleDelay)
	resync = parseOr(c.ResyncInterval, defaultResyncInterval)

	return poll, settle, resync
}

func parseOr(value, fallback string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
