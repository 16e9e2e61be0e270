package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/pyexec"
	"github.com/isdmx/agentbox/sandbox"
)

// MockExecutor implements CodeExecutor for testing
type MockExecutor struct {
	result      pyexec.Result
	lastCode    string
	lastTimeout int
}

func (m *MockExecutor) Execute(_ context.Context, code string, timeoutSec int) pyexec.Result {
	m.lastCode = code
	m.lastTimeout = timeoutSec
	return m.result
}

func (m *MockExecutor) DefaultTimeout() int {
	return 5
}

// MockSession implements SandboxSession for testing
type MockSession struct {
	createErr error
	runOutput string
	runErr    error
	files     map[string]string

	creates     int
	lastCommand string
	lastTimeout time.Duration
}

func (m *MockSession) Create(context.Context, sandbox.CreateOptions) error {
	m.creates++
	return m.createErr
}

func (m *MockSession) RunCommand(_ context.Context, command string, timeout time.Duration) (string, error) {
	m.lastCommand = command
	m.lastTimeout = timeout
	return m.runOutput, m.runErr
}

func (m *MockSession) ReadFile(_ context.Context, path string) (string, error) {
	content, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (m *MockSession) WriteFile(_ context.Context, path, content string) error {
	if m.files == nil {
		m.files = make(map[string]string)
	}
	m.files[path] = content
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Transport: "stdio", HTTPPort: 8080},
		Logging: config.LoggingConfig{Mode: "production", Level: "info"},
		Sandbox: config.SandboxConfig{Backend: "docker", MemoryMB: 512},
		Tool:    config.ToolConfig{DefaultTimeoutSec: 5},
	}
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	executor := &MockExecutor{}
	session := &MockSession{}

	server, err := New(cfg, logger, executor, session)
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, logger, server.logger)
	assert.Equal(t, executor, server.executor)
	assert.NotNil(t, server.GetMCPServer())

	_, err = New(nil, logger, executor, session)
	assert.Error(t, err)
}

func TestHandlePythonExecute(t *testing.T) {
	tests := []struct {
		name        string
		args        map[string]any
		result      pyexec.Result
		wantTimeout int
		wantIsError bool
	}{
		{
			name:        "success",
			args:        map[string]any{"code": "print(2)"},
			result:      pyexec.Result{Observation: "2\n", Success: true},
			wantTimeout: 5,
		},
		{
			name:        "explicit timeout",
			args:        map[string]any{"code": "print(2)", "timeout": float64(12)},
			result:      pyexec.Result{Observation: "2\n", Success: true},
			wantTimeout: 12,
		},
		{
			name:        "oversized timeout",
			args:        map[string]any{"code": "print(2)", "timeout": float64(math.MaxInt64)},
			result:      pyexec.Result{Observation: "2\n", Success: true},
			wantTimeout: pyexec.MaxTimeoutSec,
		},
		{
			name:        "negative timeout",
			args:        map[string]any{"code": "print(2)", "timeout": float64(-3)},
			result:      pyexec.Result{Observation: "2\n", Success: true},
			wantTimeout: 0,
		},
		{
			name:        "failure",
			args:        map[string]any{"code": "raise ValueError('boom')"},
			result:      pyexec.Result{Observation: "boom"},
			wantTimeout: 5,
			wantIsError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := &MockExecutor{result: tt.result}
			server, err := New(testConfig(), zaptest.NewLogger(t), executor, &MockSession{})
			require.NoError(t, err)

			result, err := server.handlePythonExecute(context.Background(), callRequest(pyexec.Name, tt.args))
			require.NoError(t, err)

			assert.Equal(t, tt.result.Observation, resultText(t, result))
			assert.Equal(t, tt.wantIsError, result.IsError)
			assert.Equal(t, tt.args["code"], executor.lastCode)
			assert.Equal(t, tt.wantTimeout, executor.lastTimeout)
		})
	}

	t.Run("missing code", func(t *testing.T) {
		server, err := New(testConfig(), zaptest.NewLogger(t), &MockExecutor{}, &MockSession{})
		require.NoError(t, err)

		_, err = server.handlePythonExecute(context.Background(), callRequest(pyexec.Name, map[string]any{}))
		assert.Error(t, err)
	})
}

func TestHandleRunCommand(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		session := &MockSession{runOutput: "hello\n"}
		server, err := New(testConfig(), zaptest.NewLogger(t), &MockExecutor{}, session)
		require.NoError(t, err)

		result, err := server.handleRunCommand(context.Background(),
			callRequest(ToolRunCommand, map[string]any{"command": "echo hello", "timeout": float64(3)}))
		require.NoError(t, err)

		assert.False(t, result.IsError)
		assert.Equal(t, "hello\n", resultText(t, result))
		assert.Equal(t, 1, session.creates)
		assert.Equal(t, "echo hello", session.lastCommand)
		assert.Equal(t, 3*time.Second, session.lastTimeout)
	})

	t.Run("non-zero exit keeps output", func(t *testing.T) {
		session := &MockSession{
			runOutput: "oops\n",
			runErr:    &sandbox.CommandError{ExitCode: 2, Output: "oops\n"},
		}
		server, err := New(testConfig(), zaptest.NewLogger(t), &MockExecutor{}, session)
		require.NoError(t, err)

		result, err := server.handleRunCommand(context.Background(),
			callRequest(ToolRunCommand, map[string]any{"command": "false"}))
		require.NoError(t, err)

		assert.True(t, result.IsError)
		text := resultText(t, result)
		assert.Contains(t, text, "oops")
		assert.Contains(t, text, "code 2")
		assert.Equal(t, time.Duration(0), session.lastTimeout)
	})

	t.Run("create failure", func(t *testing.T) {
		session := &MockSession{createErr: errors.New("runtime missing")}
		server, err := New(testConfig(), zaptest.NewLogger(t), &MockExecutor{}, session)
		require.NoError(t, err)

		result, err := server.handleRunCommand(context.Background(),
			callRequest(ToolRunCommand, map[string]any{"command": "ls"}))
		require.NoError(t, err)

		assert.True(t, result.IsError)
		assert.Equal(t, "runtime missing", resultText(t, result))
		assert.Empty(t, session.lastCommand)
	})

	t.Run("no session", func(t *testing.T) {
		server, err := New(testConfig(), zaptest.NewLogger(t), &MockExecutor{}, nil)
		require.NoError(t, err)

		result, err := server.handleRunCommand(context.Background(),
			callRequest(ToolRunCommand, map[string]any{"command": "ls"}))
		require.NoError(t, err)

		assert.True(t, result.IsError)
		assert.Equal(t, sandbox.ErrUninitialized.Error(), resultText(t, result))
	})
}

func TestHandleFiles(t *testing.T) {
	session := &MockSession{}
	server, err := New(testConfig(), zaptest.NewLogger(t), &MockExecutor{}, session)
	require.NoError(t, err)
	ctx := context.Background()

	result, err := server.handleReadFile(ctx, callRequest(ToolReadFile, map[string]any{"path": "notes.txt"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = server.handleWriteFile(ctx, callRequest(ToolWriteFile,
		map[string]any{"path": "notes.txt", "content": "hello"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "wrote 5 bytes to notes.txt", resultText(t, result))

	result, err = server.handleReadFile(ctx, callRequest(ToolReadFile, map[string]any{"path": "notes.txt"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello", resultText(t, result))

	_, err = server.handleWriteFile(ctx, callRequest(ToolWriteFile, map[string]any{"path": "notes.txt"}))
	assert.Error(t, err)

	assert.Equal(t, 3, session.creates)
}

func TestShutdownWithoutHTTP(t *testing.T) {
	server, err := New(testConfig(), zaptest.NewLogger(t), &MockExecutor{}, &MockSession{})
	require.NoError(t, err)

	assert.NoError(t, server.Shutdown(context.Background()))
}
