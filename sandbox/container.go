package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
)

// ContainerNamePrefix prefixes the names of containers created by ContainerDriver
const ContainerNamePrefix = "agentbox-"

// ContainerDriver implements Driver on top of a long-running Docker or Podman
// container, driven through the runtime's command line.
type ContainerDriver struct {
	logger         *zap.Logger
	runtime        string
	settings       config.SandboxConfig
	volumeBindings map[string]string
	cmdRunner      CommandRunner
	nameFunc       func() string

	mu   sync.RWMutex
	name string
}

// ContainerDriverOption defines a functional option for ContainerDriver
type ContainerDriverOption func(*ContainerDriver)

// WithContainerCommandRunner sets the CommandRunner for ContainerDriver
func WithContainerCommandRunner(cmdRunner CommandRunner) ContainerDriverOption {
	return func(d *ContainerDriver) {
		d.cmdRunner = cmdRunner
	}
}

// WithContainerName sets the function that names new containers
func WithContainerName(nameFunc func() string) ContainerDriverOption {
	return func(d *ContainerDriver) {
		d.nameFunc = nameFunc
	}
}

// NewContainerDriver creates a new ContainerDriver for the given runtime binary
func NewContainerDriver(logger *zap.Logger, runtime string, settings config.SandboxConfig, volumeBindings map[string]string, opts ...ContainerDriverOption) *ContainerDriver {
	bindings := make(map[string]string, len(settings.VolumeBindings)+len(volumeBindings))
	for host, container := range settings.VolumeBindings {
		bindings[host] = container
	}
	for host, container := range volumeBindings {
		bindings[host] = container
	}

	driver := &ContainerDriver{
		logger:         logger,
		runtime:        runtime,
		settings:       settings.WithDefaults(),
		volumeBindings: bindings,
		cmdRunner:      &RealCommandRunner{}, // Default implementation
		nameFunc: func() string {
			return ContainerNamePrefix + uuid.NewString()
		},
	}

	// Apply options
	for _, opt := range opts {
		opt(driver)
	}

	return driver
}

// Name returns the name of the running container, or an empty string
func (d *ContainerDriver) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *ContainerDriver) container() (string, error) {
	name := d.Name()
	if name == "" {
		return "", ErrUninitialized
	}
	return name, nil
}

// Create starts a detached container that idles until commands are executed in it
func (d *ContainerDriver) Create(ctx context.Context) error {
	if d.Name() != "" {
		return nil
	}

	name := d.nameFunc()
	cmdArgs := d.runArgs(name)

	d.logger.Info("starting sandbox container",
		zap.String("runtime", d.runtime),
		zap.String("container", name),
		zap.String("image", d.settings.Image))

	_, stderr, exitCode, err := d.cmdRunner.RunCommand(ctx, cmdArgs, nil)
	if err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("failed to start container: %s", strings.TrimSpace(stderr))
	}

	d.mu.Lock()
	d.name = name
	d.mu.Unlock()

	if err := d.mkdir(ctx, name, d.settings.WorkDir); err != nil {
		if rmErr := d.remove(context.WithoutCancel(ctx), name); rmErr != nil {
			d.logger.Warn("failed to remove container after setup error", zap.String("container", name), zap.Error(rmErr))
		}
		d.mu.Lock()
		d.name = ""
		d.mu.Unlock()
		return fmt.Errorf("failed to prepare work dir: %w", err)
	}

	return nil
}

// runArgs builds the run command with the sandbox's security restrictions
func (d *ContainerDriver) runArgs(name string) []string {
	cmdArgs := []string{
		d.runtime, "run",
		"-d",
		"--name", name,
		"--workdir", d.settings.WorkDir,
		"--memory", fmt.Sprintf("%dm", d.settings.MemoryMB),
		"--cpus", strconv.FormatFloat(d.settings.CPUs, 'f', -1, 64),
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
	}

	if d.settings.NetworkEnabled {
		cmdArgs = append(cmdArgs, "--network", "bridge")
	} else {
		cmdArgs = append(cmdArgs, "--network", "none")
	}

	hosts := make([]string, 0, len(d.volumeBindings))
	for host := range d.volumeBindings {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		cmdArgs = append(cmdArgs, "-v", fmt.Sprintf("%s:%s", host, d.volumeBindings[host]))
	}

	return append(cmdArgs, d.settings.Image, "tail", "-f", "/dev/null")
}

// RunCommand executes command through sh in the container's work dir
func (d *ContainerDriver) RunCommand(ctx context.Context, command string, timeout time.Duration) (string, error) {
	name, err := d.container()
	if err != nil {
		return "", err
	}

	if timeout <= 0 {
		timeout = d.settings.GetTimeout()
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdArgs := []string{d.runtime, "exec", "--workdir", d.settings.WorkDir, name, "sh", "-c", command}

	stdout, stderr, exitCode, err := d.cmdRunner.RunCommand(ctxWithTimeout, cmdArgs, nil)

	// If the context timed out, handle it explicitly
	if errors.Is(ctxWithTimeout.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return stdout + stderr, fmt.Errorf("%w after %s", ErrCommandTimeout, timeout)
	}

	if err != nil {
		return "", fmt.Errorf("failed to exec in container: %w", err)
	}

	output := stdout + stderr
	if exitCode != 0 {
		return output, &CommandError{ExitCode: exitCode, Output: output}
	}

	return output, nil
}

// CopyTo copies a local file into the container, creating parent directories
func (d *ContainerDriver) CopyTo(ctx context.Context, localPath, containerPath string) error {
	name, err := d.container()
	if err != nil {
		return err
	}

	containerPath = d.resolve(containerPath)
	if err := d.mkdir(ctx, name, path.Dir(containerPath)); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	cmdArgs := []string{d.runtime, "cp", localPath, name + ":" + containerPath}
	return d.runChecked(ctx, cmdArgs, nil, "copy to container")
}

// CopyFrom copies a file out of the container, creating local parent directories
func (d *ContainerDriver) CopyFrom(ctx context.Context, containerPath, localPath string) error {
	name, err := d.container()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), DirPermission); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	cmdArgs := []string{d.runtime, "cp", name + ":" + d.resolve(containerPath), localPath}
	return d.runChecked(ctx, cmdArgs, nil, "copy from container")
}

// ReadFile streams a file out of the container as a tar archive
func (d *ContainerDriver) ReadFile(ctx context.Context, filePath string) (string, error) {
	name, err := d.container()
	if err != nil {
		return "", err
	}

	cmdArgs := []string{d.runtime, "cp", name + ":" + d.resolve(filePath), "-"}
	stdout, stderr, exitCode, err := d.cmdRunner.RunCommand(ctx, cmdArgs, nil)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("failed to read %s: %s", filePath, strings.TrimSpace(stderr))
	}

	_, content, err := ReadFileTar([]byte(stdout))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	return string(content), nil
}

// WriteFile streams a single-file tar archive into the container
func (d *ContainerDriver) WriteFile(ctx context.Context, filePath, content string) error {
	name, err := d.container()
	if err != nil {
		return err
	}

	resolved := d.resolve(filePath)
	dir, base := path.Dir(resolved), path.Base(resolved)

	archive, err := CreateFileTar(base, []byte(content))
	if err != nil {
		return err
	}

	if err := d.mkdir(ctx, name, dir); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	cmdArgs := []string{d.runtime, "cp", "-", name + ":" + dir}
	return d.runChecked(ctx, cmdArgs, bytes.NewReader(archive), "write file")
}

// Cleanup force-removes the container. It is a no-op before Create.
func (d *ContainerDriver) Cleanup(ctx context.Context) error {
	d.mu.Lock()
	name := d.name
	d.name = ""
	d.mu.Unlock()

	if name == "" {
		return nil
	}

	d.logger.Info("removing sandbox container", zap.String("container", name))
	return d.remove(ctx, name)
}

// resolve makes a container path absolute, relative to the work dir
func (d *ContainerDriver) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(d.settings.WorkDir, p)
}

func (d *ContainerDriver) remove(ctx context.Context, name string) error {
	return d.runChecked(ctx, []string{d.runtime, "rm", "-f", name}, nil, "remove container")
}

func (d *ContainerDriver) mkdir(ctx context.Context, name, dir string) error {
	cmdArgs := []string{d.runtime, "exec", name, "mkdir", "-p", dir}
	return d.runChecked(ctx, cmdArgs, nil, "mkdir")
}

func (d *ContainerDriver) runChecked(ctx context.Context, cmdArgs []string, stdin io.Reader, action string) error {
	_, stderr, exitCode, err := d.cmdRunner.RunCommand(ctx, cmdArgs, stdin)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("failed to %s: %s", action, strings.TrimSpace(stderr))
	}
	return nil
}
