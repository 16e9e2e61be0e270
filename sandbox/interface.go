package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/isdmx/agentbox/config"
)

// ErrUninitialized is returned when an operation needs a sandbox session and
// none has been created.
var ErrUninitialized = errors.New("sandbox not initialized")

// ErrCommandTimeout is returned when a command in the sandbox exceeds its
// timeout.
var ErrCommandTimeout = errors.New("sandbox command timed out")

// CommandError reports a command that ran in the sandbox and exited non-zero
type CommandError struct {
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.ExitCode)
}

// FileOperations is the file transfer capability of a sandbox
type FileOperations interface {
	// CopyFrom copies a file out of the sandbox to the local filesystem.
	CopyFrom(ctx context.Context, containerPath, localPath string) error
	// CopyTo copies a local file into the sandbox.
	CopyTo(ctx context.Context, localPath, containerPath string) error
	// ReadFile returns the content of a file in the sandbox.
	ReadFile(ctx context.Context, path string) (string, error)
	// WriteFile creates or replaces a file in the sandbox.
	WriteFile(ctx context.Context, path, content string) error
}

// Driver creates, operates and destroys one isolated environment.
//
// A Driver is not required to serialize concurrent calls against the same
// environment beyond what the underlying runtime does.
type Driver interface {
	FileOperations

	// Create brings the environment up.
	Create(ctx context.Context) error
	// RunCommand runs a shell command in the environment and returns its
	// combined output. A zero timeout selects the driver default.
	RunCommand(ctx context.Context, command string, timeout time.Duration) (string, error)
	// Cleanup tears the environment down.
	Cleanup(ctx context.Context) error
}

// DriverFactory constructs a Driver for the given settings. volumeBindings
// are merged over settings.VolumeBindings.
type DriverFactory func(settings config.SandboxConfig, volumeBindings map[string]string) (Driver, error)

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string, stdin io.Reader) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string, stdin io.Reader) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	cmd.Stdin = stdin

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return stdoutBuf.String(), stderrBuf.String(), 0, err
		}
		exitCode = exitError.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0644
)

// Container runtime names
const (
	RuntimeDocker = "docker"
	RuntimePodman = "podman"
)
