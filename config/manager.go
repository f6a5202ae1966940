package config

import (
	"sync/atomic"

	"github.com/saiset-co/sai-filecache/types"
)

type Manager struct {
	config atomic.Pointer[types.Config]
	loader *Loader
}

func NewManager(configPath string) (*Manager, error) {
	loader := NewLoader()

	cfg, err := loader.LoadFromFile(configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to load config")
	}

	m := &Manager{loader: loader}
	m.config.Store(cfg)

	return m, nil
}

// NewManagerWithConfig wraps an already built config, filling unset sections
// with defaults and validating the result.
func NewManagerWithConfig(cfg *types.Config) (*Manager, error) {
	if cfg == nil {
		return nil, types.ErrConfigIsNil
	}

	loader := NewLoader()
	applyDefaults(cfg, loader.Defaults())

	if err := loader.Validate(cfg); err != nil {
		return nil, err
	}

	m := &Manager{loader: loader}
	m.config.Store(cfg)

	return m, nil
}

func (m *Manager) GetConfig() *types.Config {
	return m.config.Load()
}

func applyDefaults(cfg, defaults *types.Config) {
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}
	if cfg.Store == nil {
		cfg.Store = defaults.Store
	}
	if cfg.Signature == nil {
		cfg.Signature = defaults.Signature
	}
	if cfg.Interval == nil {
		cfg.Interval = defaults.Interval
	}
	if cfg.Events == nil {
		cfg.Events = defaults.Events
	}
	if cfg.Metrics == nil {
		cfg.Metrics = defaults.Metrics
	}
	if cfg.Health == nil {
		cfg.Health = defaults.Health
	}
	if cfg.Server == nil {
		cfg.Server = defaults.Server
	}
}
