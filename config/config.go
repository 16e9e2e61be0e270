package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfigurationUnavailable is returned by a Provider that cannot currently
// produce sandbox settings.
var ErrConfigurationUnavailable = errors.New("configuration unavailable")

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "AGENTBOX"

// Sandbox backends
const (
	BackendDocker = "docker"
	BackendPodman = "podman"
)

// Sandbox defaults
const (
	DefaultBackend           = BackendDocker
	DefaultImage             = "python:3.12-slim"
	DefaultWorkDir           = "/workspace"
	DefaultMemoryMB          = 512
	DefaultCPUs              = 1.0
	DefaultSandboxTimeoutSec = 300
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Local   LocalConfig   `mapstructure:"local"`
	Tool    ToolConfig    `mapstructure:"tool"`

	source string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode       string `mapstructure:"mode"`
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SandboxConfig holds container sandbox configuration.
//
// UseSandbox is nil when the setting is absent. Consumers decide what an
// absent flag means through Enabled.
type SandboxConfig struct {
	UseSandbox     *bool             `mapstructure:"use_sandbox"`
	Backend        string            `mapstructure:"backend"`
	Image          string            `mapstructure:"image"`
	WorkDir        string            `mapstructure:"work_dir"`
	MemoryMB       int               `mapstructure:"memory_mb"`
	CPUs           float64           `mapstructure:"cpus"`
	NetworkEnabled bool              `mapstructure:"network_enabled"`
	TimeoutSec     int               `mapstructure:"timeout_sec"`
	VolumeBindings map[string]string `mapstructure:"volume_bindings"`
}

// LocalConfig holds configuration for the local process execution path
type LocalConfig struct {
	Interpreter     string `mapstructure:"interpreter"`
	GracePeriodMS   int    `mapstructure:"grace_period_ms"`
	TerminateSignal string `mapstructure:"terminate_signal"`
}

// ToolConfig holds code execution tool configuration
type ToolConfig struct {
	DefaultTimeoutSec int `mapstructure:"default_timeout_sec"`
}

// Enabled reports the sandbox flag, or def when the flag is not set.
func (s SandboxConfig) Enabled(def bool) bool {
	if s.UseSandbox == nil {
		return def
	}
	return *s.UseSandbox
}

// WithDefaults returns a copy of s where every unset field holds its default
func (s SandboxConfig) WithDefaults() SandboxConfig {
	if s.Backend == "" {
		s.Backend = DefaultBackend
	}
	if s.Image == "" {
		s.Image = DefaultImage
	}
	if s.WorkDir == "" {
		s.WorkDir = DefaultWorkDir
	}
	if s.MemoryMB <= 0 {
		s.MemoryMB = DefaultMemoryMB
	}
	if s.CPUs <= 0 {
		s.CPUs = DefaultCPUs
	}
	if s.TimeoutSec <= 0 {
		s.TimeoutSec = DefaultSandboxTimeoutSec
	}
	return s
}

// GetTimeout returns the container command timeout as a duration
func (s SandboxConfig) GetTimeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// GetGracePeriod returns the time a terminated child gets before it is killed
func (l LocalConfig) GetGracePeriod() time.Duration {
	return time.Duration(l.GracePeriodMS) * time.Millisecond
}

// Bool returns a pointer to b, for populating optional flags.
func Bool(b bool) *bool {
	return &b
}

// New loads and validates the application configuration
func New() (*Config, error) {
	v := newViper()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	return decode(v)
}

// Load reads the configuration from the given file path
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	return decode(v)
}

// Source returns the path of the file the configuration was read from, or an
// empty string when only defaults and environment were used.
func (c *Config) Source() string {
	return c.source
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about
	_ = v.BindEnv("sandbox.use_sandbox")

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.compress", true)

	// no default for sandbox.use_sandbox: absent and false mean different things
	v.SetDefault("sandbox.backend", DefaultBackend)
	v.SetDefault("sandbox.image", DefaultImage)
	v.SetDefault("sandbox.work_dir", DefaultWorkDir)
	v.SetDefault("sandbox.memory_mb", DefaultMemoryMB)
	v.SetDefault("sandbox.cpus", DefaultCPUs)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.timeout_sec", DefaultSandboxTimeoutSec)

	v.SetDefault("local.interpreter", "python3")
	v.SetDefault("local.grace_period_ms", 1000)
	v.SetDefault("local.terminate_signal", "SIGTERM")

	v.SetDefault("tool.default_timeout_sec", 5)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	config.source = v.ConfigFileUsed()
	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if err := c.Sandbox.validate(); err != nil {
		return err
	}

	if c.Local.Interpreter == "" {
		return fmt.Errorf("local.interpreter must not be empty")
	}

	if c.Local.GracePeriodMS <= 0 {
		return fmt.Errorf("local.grace_period_ms must be positive, got: %d", c.Local.GracePeriodMS)
	}

	switch c.Local.TerminateSignal {
	case "SIGTERM", "SIGINT", "SIGKILL":
	default:
		return fmt.Errorf("invalid local.terminate_signal: %s, must be one of 'SIGTERM', 'SIGINT', 'SIGKILL'", c.Local.TerminateSignal)
	}

	if c.Tool.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("tool.default_timeout_sec must be positive, got: %d", c.Tool.DefaultTimeoutSec)
	}

	return nil
}

func (s *SandboxConfig) validate() error {
	if s.Backend != BackendDocker && s.Backend != BackendPodman {
		return fmt.Errorf("unsupported sandbox.backend: %s", s.Backend)
	}

	if s.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}

	if !strings.HasPrefix(s.WorkDir, "/") {
		return fmt.Errorf("sandbox.work_dir must be an absolute path, got: %q", s.WorkDir)
	}

	if s.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", s.MemoryMB)
	}

	if s.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be positive, got: %v", s.CPUs)
	}

	if s.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", s.TimeoutSec)
	}

	return nil
}
