package pyexec

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/agentbox/sandbox"
)

func (t *Tool) executeRemote(ctx context.Context, code string, timeoutSec int, workDir string) Result {
	output, err := t.runInSandbox(ctx, code, timeoutSec, workDir)
	if err == nil {
		return Result{Observation: output, Success: true}
	}

	// the code ran and failed: report its output like a local failure
	var cmdErr *sandbox.CommandError
	if errors.As(err, &cmdErr) {
		return Result{Observation: cmdErr.Output}
	}

	t.logger.Error("error executing code in sandbox", zap.Error(err))
	return Result{Observation: fmt.Sprintf("Sandbox execution error: %v", err)}
}

// runInSandbox stages code as a script in the sandbox work dir and runs it.
// The local script is removed on every path.
func (t *Tool) runInSandbox(ctx context.Context, code string, timeoutSec int, workDir string) (string, error) {
	if t.client == nil {
		return "", sandbox.ErrUninitialized
	}

	if err := t.client.Create(ctx, sandbox.CreateOptions{}); err != nil {
		return "", err
	}

	script, err := os.CreateTemp(t.tempDir, "agentbox-*.py")
	if err != nil {
		return "", fmt.Errorf("failed to create script file: %w", err)
	}
	scriptPath := script.Name()
	defer func() {
		if rmErr := os.Remove(scriptPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			t.logger.Warn("failed to remove script file", zap.String("path", scriptPath), zap.Error(rmErr))
		}
	}()

	if _, err := script.WriteString(code); err != nil {
		script.Close()
		return "", fmt.Errorf("failed to write script file: %w", err)
	}
	if err := script.Close(); err != nil {
		return "", fmt.Errorf("failed to write script file: %w", err)
	}

	containerPath := path.Join(workDir, filepath.Base(scriptPath))
	if err := t.client.CopyTo(ctx, scriptPath, containerPath); err != nil {
		return "", err
	}

	return t.client.RunCommand(ctx, "python "+containerPath, time.Duration(timeoutSec)*time.Second)
}
