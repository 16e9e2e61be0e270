package pyexec

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/agentbox/config"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func newTestRunner(t *testing.T, cfg config.LocalConfig) *LocalRunner {
	t.Helper()
	return NewLocalRunner(zaptest.NewLogger(t), cfg)
}

func TestNewLocalRunnerDefaults(t *testing.T) {
	runner := newTestRunner(t, config.LocalConfig{})

	assert.Equal(t, "python3", runner.interpreter)
	assert.Equal(t, time.Second, runner.gracePeriod)
	assert.Equal(t, "SIGTERM", runner.terminateSignal)
}

func TestLocalRunnerRun(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t, config.LocalConfig{})

	t.Run("captures printed output", func(t *testing.T) {
		result := runner.Run(context.Background(), "print(1+1)", 5*time.Second)
		assert.True(t, result.Success)
		assert.Equal(t, "2\n", result.Observation)
	})

	t.Run("return values are not captured", func(t *testing.T) {
		result := runner.Run(context.Background(), "x = 40 + 2\nx", 5*time.Second)
		assert.True(t, result.Success)
		assert.Empty(t, result.Observation)
	})

	t.Run("reports exception message", func(t *testing.T) {
		result := runner.Run(context.Background(), "raise ValueError('boom')", 5*time.Second)
		assert.False(t, result.Success)
		assert.Contains(t, result.Observation, "boom")
	})

	t.Run("reports syntax errors", func(t *testing.T) {
		result := runner.Run(context.Background(), "def broken(:", 5*time.Second)
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Observation)
	})

	t.Run("exit is reported as failure", func(t *testing.T) {
		result := runner.Run(context.Background(), "import sys\nsys.exit(3)", 5*time.Second)
		assert.False(t, result.Success)
	})

	t.Run("executions do not share state", func(t *testing.T) {
		first := runner.Run(context.Background(), "shared = 1\nprint(shared)", 5*time.Second)
		require.True(t, first.Success)

		second := runner.Run(context.Background(), "print(shared)", 5*time.Second)
		assert.False(t, second.Success)
		assert.Contains(t, second.Observation, "shared")
	})

	t.Run("unicode round trips", func(t *testing.T) {
		result := runner.Run(context.Background(), "print('héllo ✓')", 5*time.Second)
		assert.True(t, result.Success)
		assert.Equal(t, "héllo ✓\n", result.Observation)
	})
}

func TestLocalRunnerTimeout(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t, config.LocalConfig{GracePeriodMS: 200})

	start := time.Now()
	result := runner.Run(context.Background(), "import time\ntime.sleep(10)", time.Second)
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Equal(t, "Execution timeout after 1 seconds", result.Observation)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestLocalRunnerEscalatesToKill(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t, config.LocalConfig{GracePeriodMS: 200})

	code := "import signal, time\nsignal.signal(signal.SIGTERM, signal.SIG_IGN)\ntime.sleep(10)"

	start := time.Now()
	result := runner.Run(context.Background(), code, 500*time.Millisecond)

	assert.False(t, result.Success)
	assert.True(t, strings.HasPrefix(result.Observation, "Execution timeout after"))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLocalRunnerReturnsWhileForkedChildRuns(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t, config.LocalConfig{GracePeriodMS: 200})

	code := "import os, time\nif os.fork() == 0:\n    time.sleep(3)\n    os._exit(0)\nprint('done')"

	start := time.Now()
	result := runner.Run(context.Background(), code, 2*time.Second)

	assert.Equal(t, Result{Observation: "done\n", Success: true}, result)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReadResult(t *testing.T) {
	t.Run("first message wins", func(t *testing.T) {
		result, err := readResult(strings.NewReader(`{"observation":"ok\n","success":true}{"observation":"late"}`))
		require.NoError(t, err)
		assert.Equal(t, &Result{Observation: "ok\n", Success: true}, result)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := readResult(strings.NewReader(""))
		assert.ErrorIs(t, err, errNoResult)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := readResult(strings.NewReader("{not json"))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, errNoResult)
	})
}

func TestLocalRunnerKillSignal(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t, config.LocalConfig{GracePeriodMS: 200, TerminateSignal: "SIGKILL"})

	start := time.Now()
	result := runner.Run(context.Background(), "while True:\n    pass", 500*time.Millisecond)

	assert.False(t, result.Success)
	assert.Contains(t, result.Observation, "timeout")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLocalRunnerCancelled(t *testing.T) {
	requirePython(t)
	runner := newTestRunner(t, config.LocalConfig{GracePeriodMS: 200})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	result := runner.Run(ctx, "import time\ntime.sleep(10)", 10*time.Second)
	assert.False(t, result.Success)
	assert.Contains(t, result.Observation, "cancelled")
}

func TestLocalRunnerMissingInterpreter(t *testing.T) {
	runner := newTestRunner(t, config.LocalConfig{Interpreter: "agentbox-no-such-python"})

	result := runner.Run(context.Background(), "print(1)", time.Second)
	assert.False(t, result.Success)
	assert.Contains(t, result.Observation, "Failed to start interpreter")
}
