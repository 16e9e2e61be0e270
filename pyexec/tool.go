package pyexec

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/sandbox"
)

// Name is the tool name exposed to agents
const Name = "python_execute"

// Description is the tool description exposed to agents
const Description = "Executes Python code string. Note: Only print outputs are visible, function return values are not captured. Use print statements to see results."

// DefaultTimeoutSec applies when neither the caller nor the configuration
// gives a timeout
const DefaultTimeoutSec = 5

// MaxTimeoutSec caps caller supplied timeouts
const MaxTimeoutSec = 24 * 60 * 60

// Result is the outcome of one execution
type Result struct {
	Observation string `json:"observation"`
	Success     bool   `json:"success"`
}

// SandboxClient is the part of sandbox.Client the tool needs
type SandboxClient interface {
	Create(ctx context.Context, opts sandbox.CreateOptions) error
	CopyTo(ctx context.Context, localPath, containerPath string) error
	RunCommand(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// Tool executes Python code either in a local child process or in the
// container sandbox, depending on the sandbox flag at call time.
type Tool struct {
	logger         *zap.Logger
	provider       config.Provider
	client         SandboxClient
	local          *LocalRunner
	defaultTimeout int
	tempDir        string
}

// Option defines a functional option for Tool
type Option func(*Tool)

// WithTempDir sets the directory for the scripts staged for the sandbox
func WithTempDir(dir string) Option {
	return func(t *Tool) {
		t.tempDir = dir
	}
}

// WithLocalRunner replaces the local execution runner
func WithLocalRunner(runner *LocalRunner) Option {
	return func(t *Tool) {
		t.local = runner
	}
}

// New creates a Tool
func New(logger *zap.Logger, cfg *config.Config, provider config.Provider, client SandboxClient, opts ...Option) *Tool {
	tool := &Tool{
		logger:         logger,
		provider:       provider,
		client:         client,
		defaultTimeout: DefaultTimeoutSec,
	}

	var localCfg config.LocalConfig
	if cfg != nil {
		localCfg = cfg.Local
		if cfg.Tool.DefaultTimeoutSec > 0 {
			tool.defaultTimeout = cfg.Tool.DefaultTimeoutSec
		}
	}
	tool.local = NewLocalRunner(logger, localCfg)

	// Apply options
	for _, opt := range opts {
		opt(tool)
	}

	return tool
}

// DefaultTimeout returns the timeout in seconds used when Execute gets none
func (t *Tool) DefaultTimeout() int {
	return t.defaultTimeout
}

// Execute runs code with a timeout in seconds. It never fails: every error
// is reported through an unsuccessful Result.
func (t *Tool) Execute(ctx context.Context, code string, timeoutSec int) (result Result) {
	if timeoutSec <= 0 {
		timeoutSec = t.defaultTimeout
	}
	if timeoutSec > MaxTimeoutSec {
		t.logger.Warn("timeout too large, capping", zap.Int("timeout_sec", timeoutSec), zap.Int("max_timeout_sec", MaxTimeoutSec))
		timeoutSec = MaxTimeoutSec
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("code execution panicked", zap.Any("panic", r))
			result = Result{Observation: fmt.Sprintf("Execution error: %v", r)}
		}
	}()

	settings, useSandbox := t.sandboxSettings()
	if useSandbox {
		t.logger.Debug("executing python code in sandbox environment", zap.Int("timeout_sec", timeoutSec))
		return t.executeRemote(ctx, code, timeoutSec, settings.WithDefaults().WorkDir)
	}

	t.logger.Debug("executing python code in current environment", zap.Int("timeout_sec", timeoutSec))
	return t.executeLocal(ctx, code, timeoutSec)
}

// sandboxSettings reads the sandbox flag for this call. Unreadable
// configuration selects local execution.
func (t *Tool) sandboxSettings() (config.SandboxConfig, bool) {
	if t.provider == nil {
		t.logger.Warn("no sandbox configuration, defaulting to local execution")
		return config.SandboxConfig{}, false
	}

	settings, err := t.provider.SandboxSettings()
	if err != nil {
		t.logger.Warn("failed to read sandbox config, defaulting to local execution", zap.Error(err))
		return config.SandboxConfig{}, false
	}

	return settings, settings.Enabled(false)
}

func (t *Tool) executeLocal(ctx context.Context, code string, timeoutSec int) Result {
	return t.local.Run(ctx, code, time.Duration(timeoutSec)*time.Second)
}
