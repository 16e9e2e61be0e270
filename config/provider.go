package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Provider supplies the current sandbox settings. Implementations may fail,
// in which case the error wraps ErrConfigurationUnavailable.
type Provider interface {
	SandboxSettings() (SandboxConfig, error)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func() (SandboxConfig, error)

// SandboxSettings calls f
func (f ProviderFunc) SandboxSettings() (SandboxConfig, error) {
	return f()
}

// SandboxSettings returns the sandbox section of a loaded configuration
func (c *Config) SandboxSettings() (SandboxConfig, error) {
	if c == nil {
		return SandboxConfig{}, fmt.Errorf("%w: no configuration loaded", ErrConfigurationUnavailable)
	}
	return c.Sandbox, nil
}

// Watcher is a Provider that follows changes to the configuration file.
// When the file becomes unreadable or invalid, SandboxSettings fails until
// the next successful reload.
type Watcher struct {
	logger *zap.Logger
	path   string

	mu       sync.RWMutex
	settings SandboxConfig
	err      error
}

// NewWatcher creates a Watcher seeded with the sandbox settings of cfg
func NewWatcher(cfg *Config, logger *zap.Logger) *Watcher {
	w := &Watcher{
		logger: logger,
	}
	if cfg != nil {
		w.settings = cfg.Sandbox
		w.path = cfg.Source()
	} else {
		w.err = fmt.Errorf("%w: no configuration loaded", ErrConfigurationUnavailable)
	}
	return w
}

// Start begins watching the configuration file. It is a no-op when the
// configuration was not read from a file.
func (w *Watcher) Start() error {
	if w.path == "" {
		w.logger.Debug("no config file in use, sandbox settings will not be reloaded")
		return nil
	}

	v := viper.New()
	v.SetConfigFile(w.path)
	v.OnConfigChange(func(e fsnotify.Event) {
		w.logger.Debug("config file changed", zap.String("path", e.Name), zap.String("op", e.Op.String()))
		w.Reload()
	})
	v.WatchConfig()

	w.logger.Info("watching config file", zap.String("path", w.path))
	return nil
}

// Reload re-reads the configuration file and replaces the current settings
func (w *Watcher) Reload() {
	if w.path == "" {
		return
	}

	cfg, err := Load(w.path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		w.logger.Warn("failed to reload config, sandbox settings unavailable", zap.String("path", w.path), zap.Error(err))
		w.err = fmt.Errorf("%w: %w", ErrConfigurationUnavailable, err)
		return
	}

	w.settings = cfg.Sandbox
	w.err = nil
	w.logger.Info("sandbox settings reloaded",
		zap.String("path", w.path),
		zap.Bool("sandbox.use_sandbox", cfg.Sandbox.Enabled(false)),
		zap.String("sandbox.backend", cfg.Sandbox.Backend))
}

// SandboxSettings returns the most recently loaded sandbox settings
func (w *Watcher) SandboxSettings() (SandboxConfig, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.err != nil {
		return SandboxConfig{}, w.err
	}
	return w.settings, nil
}
