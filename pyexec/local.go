package pyexec

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
)

//go:embed harness.py
var harnessSource string

// maxResultBytes bounds the result message read from the child
const maxResultBytes = 16 << 20

const signalKill = "SIGKILL"

var errNoResult = errors.New("process exited without reporting a result")

// LocalRunner executes Python code in a child interpreter process.
//
// The child runs the code against a copy of the builtins with stdout
// redirected to an in-memory buffer, and reports a single JSON Result on an
// inherited pipe. On timeout the child's process group receives the
// configured terminate signal, then SIGKILL once the grace period expires.
type LocalRunner struct {
	logger          *zap.Logger
	interpreter     string
	gracePeriod     time.Duration
	terminateSignal string
}

// NewLocalRunner creates a LocalRunner from the local execution settings
func NewLocalRunner(logger *zap.Logger, cfg config.LocalConfig) *LocalRunner {
	runner := &LocalRunner{
		logger:          logger,
		interpreter:     cfg.Interpreter,
		gracePeriod:     cfg.GetGracePeriod(),
		terminateSignal: cfg.TerminateSignal,
	}
	if runner.interpreter == "" {
		runner.interpreter = "python3"
	}
	if runner.gracePeriod <= 0 {
		runner.gracePeriod = time.Second
	}
	if runner.terminateSignal == "" {
		runner.terminateSignal = "SIGTERM"
	}
	return runner
}

type readOutcome struct {
	result *Result
	err    error
}

// Run executes code and waits at most timeout for its result
func (r *LocalRunner) Run(ctx context.Context, code string, timeout time.Duration) Result {
	workDir, err := os.MkdirTemp("", "agentbox-local-*")
	if err != nil {
		return Result{Observation: fmt.Sprintf("Failed to prepare execution directory: %v", err)}
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			r.logger.Warn("failed to remove execution directory", zap.String("path", workDir), zap.Error(rmErr))
		}
	}()

	resultReader, resultWriter, err := os.Pipe()
	if err != nil {
		return Result{Observation: fmt.Sprintf("Failed to create result channel: %v", err)}
	}
	// unblocks the reader when processes forked by the code keep the pipe open
	defer resultReader.Close()

	var stderrBuf bytes.Buffer
	cmd := exec.Command(r.interpreter, "-I", "-c", harnessSource) //nolint:gosec // interpreter comes from configuration
	cmd.Dir = workDir
	cmd.Env = childEnv(workDir)
	cmd.Stdin = strings.NewReader(code)
	cmd.Stderr = &stderrBuf
	cmd.ExtraFiles = []*os.File{resultWriter}
	cmd.WaitDelay = r.gracePeriod
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		resultWriter.Close()
		return Result{Observation: fmt.Sprintf("Failed to start interpreter %s: %v", r.interpreter, err)}
	}
	// the child holds its own copy
	resultWriter.Close()

	results := make(chan readOutcome, 1)
	go func() {
		result, readErr := readResult(resultReader)
		results <- readOutcome{result: result, err: readErr}
	}()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var readErr error
	for {
		select {
		case o := <-results:
			if o.result != nil {
				// the message is complete; the process is reaped in the background
				return *o.result
			}
			readErr = o.err
			results = nil
		case waitErr := <-exited:
			return r.afterExit(results, readErr, waitErr, stderrBuf.String())
		case <-timer.C:
			r.logger.Warn("local execution timed out, terminating",
				zap.Int("pid", cmd.Process.Pid),
				zap.Duration("timeout", timeout))
			r.terminate(cmd, exited)
			return Result{Observation: fmt.Sprintf("Execution timeout after %s seconds", strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64))}
		case <-ctx.Done():
			r.terminate(cmd, exited)
			return Result{Observation: fmt.Sprintf("Execution cancelled: %v", ctx.Err())}
		}
	}
}

// afterExit builds the result once the child has exited. A message already
// in the pipe still wins; otherwise stderr explains the failure.
func (r *LocalRunner) afterExit(results <-chan readOutcome, readErr, waitErr error, stderr string) Result {
	if results != nil {
		select {
		case o := <-results:
			if o.result != nil {
				return *o.result
			}
			readErr = o.err
		case <-time.After(r.gracePeriod):
			readErr = errNoResult
		}
	}

	r.logger.Debug("child exited without a result",
		zap.NamedError("read_error", readErr),
		zap.NamedError("wait_error", waitErr))

	if msg := strings.TrimSpace(stderr); msg != "" {
		return Result{Observation: msg}
	}
	if waitErr != nil {
		return Result{Observation: fmt.Sprintf("%v: %v", errNoResult, waitErr)}
	}
	return Result{Observation: errNoResult.Error()}
}

// terminate signals the child's process group, escalating to SIGKILL after
// the grace period, and waits for the child to be reaped.
func (r *LocalRunner) terminate(cmd *exec.Cmd, exited <-chan error) {
	if err := signalProcess(cmd.Process, r.terminateSignal); err != nil {
		r.logger.Debug("failed to signal child", zap.String("signal", r.terminateSignal), zap.Error(err))
	}

	if r.terminateSignal != signalKill {
		select {
		case <-exited:
			return
		case <-time.After(r.gracePeriod):
		}

		r.logger.Warn("child ignored termination, killing", zap.Int("pid", cmd.Process.Pid))
		if err := signalProcess(cmd.Process, signalKill); err != nil {
			r.logger.Debug("failed to kill child", zap.Error(err))
		}
	}

	select {
	case <-exited:
	case <-time.After(r.gracePeriod):
		r.logger.Error("child did not exit after kill", zap.Int("pid", cmd.Process.Pid))
	}
}

// readResult decodes the single message the child writes. It does not wait
// for the pipe to be closed.
func readResult(reader io.Reader) (*Result, error) {
	var result Result
	if err := json.NewDecoder(io.LimitReader(reader, maxResultBytes)).Decode(&result); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errNoResult
		}
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &result, nil
}

// childEnv is the environment of the interpreter: enough to run, nothing
// inherited beyond PATH.
func childEnv(workDir string) []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"LANG=C.UTF-8",
		"PYTHONIOENCODING=utf-8",
		"PYTHONDONTWRITEBYTECODE=1",
	}
}
