package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// envPrefix namespaces the environment override layer.
const envPrefix = "ENVELOPPE_"

// DefaultPath returns the conventional config file location
// (~/.config/enveloppe-go/config.toml), or a relative fallback when the
// home directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}

	return filepath.Join(home, ".config", "enveloppe-go", "config.toml")
}

// Load resolves the effective configuration: defaults, then the TOML file
// at path (a missing file is not an error — defaults plus env still apply),
// then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

// applyEnv overlays ENVELOPPE_* environment variables. Env always wins over
// the file because deployment tooling sets it last.
func applyEnv(cfg *Config) {
	overlay := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	overlay("DB_PATH", &cfg.DBPath)
	overlay("REMOTE_BASE_URL", &cfg.RemoteBaseURL)
	overlay("PUSH_URL", &cfg.PushURL)
	overlay("TOKEN", &cfg.Token)
	overlay("USER_ID", &cfg.UserID)
	overlay("POLL_INTERVAL", &cfg.PollInterval)
	overlay("SETTLE_DELAY", &cfg.SettleDelay)
	overlay("RESYNC_INTERVAL", &cfg.ResyncInterval)
	overlay("LOG_LEVEL", &cfg.LogLevel)
}
