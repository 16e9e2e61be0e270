package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/isdmx/agentbox/config"
)

// CreateOptions overrides the global sandbox configuration for one Create call
type CreateOptions struct {
	// Settings replaces the provider's sandbox settings when non-nil. Its
	// UseSandbox flag, when set, takes precedence over the global flag.
	Settings *config.SandboxConfig
	// VolumeBindings maps host paths to container paths, on top of those in
	// the settings.
	VolumeBindings map[string]string
}

// Client owns the single sandbox session of a process.
//
// Create and Cleanup are serialized by one lifecycle lock, so concurrent
// Create calls construct exactly one Driver. The remaining operations forward
// to the current Driver without further serialization.
type Client struct {
	logger   *zap.Logger
	provider config.Provider
	factory  DriverFactory

	lifecycle *semaphore.Weighted

	mu     sync.RWMutex
	driver Driver
}

// NewClient creates a Client without a session
func NewClient(logger *zap.Logger, provider config.Provider, factory DriverFactory) *Client {
	return &Client{
		logger:    logger,
		provider:  provider,
		factory:   factory,
		lifecycle: semaphore.NewWeighted(1),
	}
}

// Create ensures a session exists. It is a no-op when a session already
// exists or when the sandbox is disabled. Errors from the Driver are
// returned unchanged.
func (c *Client) Create(ctx context.Context, opts CreateOptions) error {
	if err := c.lifecycle.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for sandbox lifecycle lock: %w", err)
	}
	defer c.lifecycle.Release(1)

	if c.current() != nil {
		return nil
	}

	settings, enabled := c.resolve(opts)
	if !enabled {
		c.logger.Info("sandbox disabled by configuration, skipping creation")
		return nil
	}

	if c.factory == nil {
		return fmt.Errorf("no sandbox driver factory configured")
	}

	driver, err := c.factory(settings, opts.VolumeBindings)
	if err != nil {
		return fmt.Errorf("failed to construct sandbox driver: %w", err)
	}

	c.logger.Info("creating sandbox",
		zap.String("backend", settings.Backend),
		zap.String("image", settings.Image),
		zap.Int("volume_bindings", len(opts.VolumeBindings)))

	start := time.Now()
	if err := driver.Create(ctx); err != nil {
		if cleanupErr := driver.Cleanup(context.WithoutCancel(ctx)); cleanupErr != nil {
			c.logger.Warn("failed to clean up sandbox after create error", zap.Error(cleanupErr))
		}
		return err
	}

	c.mu.Lock()
	c.driver = driver
	c.mu.Unlock()

	c.logger.Info("sandbox created", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// resolve picks the effective settings and enablement. An explicit override
// wins over the provider; an unreadable provider means enabled.
func (c *Client) resolve(opts CreateOptions) (config.SandboxConfig, bool) {
	var (
		global config.SandboxConfig
		err    error
	)
	if c.provider == nil {
		err = fmt.Errorf("%w: no provider", config.ErrConfigurationUnavailable)
	} else {
		global, err = c.provider.SandboxSettings()
	}

	settings := global
	if opts.Settings != nil {
		settings = *opts.Settings
		if opts.Settings.UseSandbox != nil {
			return settings, *opts.Settings.UseSandbox
		}
	}

	if err != nil {
		c.logger.Warn("failed to read sandbox configuration, defaulting to enabled", zap.Error(err))
		return settings, true
	}

	return settings, global.Enabled(true)
}

// Active reports whether a session exists
func (c *Client) Active() bool {
	return c.current() != nil
}

func (c *Client) current() Driver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.driver
}

func (c *Client) session() (Driver, error) {
	driver := c.current()
	if driver == nil {
		return nil, ErrUninitialized
	}
	return driver, nil
}

// RunCommand runs command in the session. A zero timeout selects the
// driver default.
func (c *Client) RunCommand(ctx context.Context, command string, timeout time.Duration) (string, error) {
	driver, err := c.session()
	if err != nil {
		return "", err
	}
	return driver.RunCommand(ctx, command, timeout)
}

// CopyFrom copies a file out of the session
func (c *Client) CopyFrom(ctx context.Context, containerPath, localPath string) error {
	driver, err := c.session()
	if err != nil {
		return err
	}
	return driver.CopyFrom(ctx, containerPath, localPath)
}

// CopyTo copies a local file into the session
func (c *Client) CopyTo(ctx context.Context, localPath, containerPath string) error {
	driver, err := c.session()
	if err != nil {
		return err
	}
	return driver.CopyTo(ctx, localPath, containerPath)
}

// ReadFile reads a file in the session
func (c *Client) ReadFile(ctx context.Context, path string) (string, error) {
	driver, err := c.session()
	if err != nil {
		return "", err
	}
	return driver.ReadFile(ctx, path)
}

// WriteFile writes a file in the session
func (c *Client) WriteFile(ctx context.Context, path, content string) error {
	driver, err := c.session()
	if err != nil {
		return err
	}
	return driver.WriteFile(ctx, path, content)
}

// Cleanup tears down the session, if any. The session reference is dropped
// even when the Driver fails, so a later Create starts fresh.
func (c *Client) Cleanup(ctx context.Context) error {
	if err := c.lifecycle.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for sandbox lifecycle lock: %w", err)
	}
	defer c.lifecycle.Release(1)

	c.mu.Lock()
	driver := c.driver
	c.driver = nil
	c.mu.Unlock()

	if driver == nil {
		return nil
	}

	c.logger.Info("cleaning up sandbox")
	return driver.Cleanup(ctx)
}
