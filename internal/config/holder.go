package config

import "sync"

// Holder gives concurrent readers a consistent snapshot of the effective
// configuration while the file watcher swaps it underneath them. Update
// validates before publishing, so a reader can never observe a config the
// engine cannot run with.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
// Validating the initial config is the caller's job (the CLI does it in
// PersistentPreRunE before anything else runs).
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Update validates and publishes a new snapshot. An invalid config is
// rejected and the previous snapshot stays in effect.
func (h *Holder) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg

	return nil
}
