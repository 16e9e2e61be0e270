package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealCommandRunner(t *testing.T) {
	runner := RealCommandRunner{}
	ctx := context.Background()

	t.Run("CapturesStdoutAndStderr", func(t *testing.T) {
		stdout, stderr, exitCode, err := runner.RunCommand(ctx, []string{"sh", "-c", "echo out; echo err >&2"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "out\n", stdout)
		assert.Equal(t, "err\n", stderr)
		assert.Equal(t, 0, exitCode)
	})

	t.Run("NonZeroExitIsNotAnError", func(t *testing.T) {
		_, _, exitCode, err := runner.RunCommand(ctx, []string{"sh", "-c", "exit 3"}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, exitCode)
	})

	t.Run("Stdin", func(t *testing.T) {
		stdout, _, _, err := runner.RunCommand(ctx, []string{"cat"}, strings.NewReader("piped"))
		require.NoError(t, err)
		assert.Equal(t, "piped", stdout)
	})

	t.Run("NoCommand", func(t *testing.T) {
		_, _, _, err := runner.RunCommand(ctx, nil, nil)
		assert.Error(t, err)
	})

	t.Run("MissingBinary", func(t *testing.T) {
		_, _, _, err := runner.RunCommand(ctx, []string{"agentbox-no-such-binary"}, nil)
		assert.Error(t, err)
	})
}

func TestCommandError(t *testing.T) {
	var err error = &CommandError{ExitCode: 2, Output: "boom"}
	assert.Equal(t, "command exited with code 2", err.Error())

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "boom", cmdErr.Output)
}

func TestConstants(t *testing.T) {
	assert.Equal(t, 0755, int(DirPermission))
	assert.Equal(t, 0644, int(FilePermission))
	assert.Equal(t, "docker", RuntimeDocker)
	assert.Equal(t, "podman", RuntimePodman)
}
