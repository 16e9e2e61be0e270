package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
)

// NewDriverFactory returns a DriverFactory that builds container drivers for
// the backend named in the sandbox settings.
func NewDriverFactory(logger *zap.Logger, cmdRunner CommandRunner) DriverFactory {
	if cmdRunner == nil {
		cmdRunner = &RealCommandRunner{}
	}

	return func(settings config.SandboxConfig, volumeBindings map[string]string) (Driver, error) {
		settings = settings.WithDefaults()

		switch settings.Backend {
		case config.BackendDocker:
			return NewContainerDriver(logger, RuntimeDocker, settings, volumeBindings, WithContainerCommandRunner(cmdRunner)), nil
		case config.BackendPodman:
			return NewContainerDriver(logger, RuntimePodman, settings, volumeBindings, WithContainerCommandRunner(cmdRunner)), nil
		default:
			return nil, fmt.Errorf("unsupported backend: %s", settings.Backend)
		}
	}
}
