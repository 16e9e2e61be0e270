package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/pyexec"
	"github.com/isdmx/agentbox/sandbox"
)

// Tool names besides pyexec.Name
const (
	ToolRunCommand = "sandbox_run_command"
	ToolReadFile   = "sandbox_read_file"
	ToolWriteFile  = "sandbox_write_file"
)

// CodeExecutor runs Python code and reports the outcome
type CodeExecutor interface {
	Execute(ctx context.Context, code string, timeoutSec int) pyexec.Result
	DefaultTimeout() int
}

// SandboxSession is the sandbox surface exposed as tools
type SandboxSession interface {
	Create(ctx context.Context, opts sandbox.CreateOptions) error
	RunCommand(ctx context.Context, command string, timeout time.Duration) (string, error)
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  CodeExecutor
	session   SandboxSession
	mcpServer *server.MCPServer

	mu         sync.Mutex
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor CodeExecutor, session SandboxSession) (*MCPServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
		session:  session,
	}

	logger.Info("configuration loaded",
		zap.String("source", cfg.Source()),
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Bool("sandbox.use_sandbox", cfg.Sandbox.Enabled(false)),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.String("sandbox.image", cfg.Sandbox.Image),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.String("local.interpreter", cfg.Local.Interpreter),
		zap.Int("tool.default_timeout_sec", cfg.Tool.DefaultTimeoutSec),
	)

	s.mcpServer = server.NewMCPServer("agentbox", "0.1.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.registerPythonExecuteTool()
	s.registerSandboxTools()

	return s, nil
}

func (s *MCPServer) registerPythonExecuteTool() {
	tool := mcp.NewTool(pyexec.Name,
		mcp.WithDescription(pyexec.Description),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("The Python code to execute."),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Execution timeout in seconds."),
		),
	)

	s.mcpServer.AddTool(tool, s.handlePythonExecute)
}

func (s *MCPServer) registerSandboxTools() {
	s.mcpServer.AddTool(mcp.NewTool(ToolRunCommand,
		mcp.WithDescription("Run a shell command inside the sandbox container"),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command passed to sh -c")),
		mcp.WithNumber("timeout", mcp.Description("Command timeout in seconds.")),
	), s.handleRunCommand)

	s.mcpServer.AddTool(mcp.NewTool(ToolReadFile,
		mcp.WithDescription("Read a text file from the sandbox container"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path inside the sandbox, relative to the work dir or absolute")),
	), s.handleReadFile)

	s.mcpServer.AddTool(mcp.NewTool(ToolWriteFile,
		mcp.WithDescription("Write a text file into the sandbox container"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path inside the sandbox, relative to the work dir or absolute")),
		mcp.WithString("content", mcp.Required(), mcp.Description("File content")),
	), s.handleWriteFile)
}

func (s *MCPServer) handlePythonExecute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	timeout := timeoutArg(request, s.executor.DefaultTimeout())

	s.logger.Info("code execution requested", zap.Int("timeout_sec", timeout), zap.Int("code_len", len(code)))

	result := s.executor.Execute(ctx, code, timeout)

	s.logger.Info("code execution completed",
		zap.Bool("success", result.Success),
		zap.Int("observation_len", len(result.Observation)))

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(result.Observation)},
		IsError: !result.Success,
	}, nil
}

func (s *MCPServer) handleRunCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil {
		return nil, fmt.Errorf("command parameter is required: %w", err)
	}
	timeout := time.Duration(timeoutArg(request, 0)) * time.Second

	if err := s.ensureSession(ctx); err != nil {
		return s.toolError(ToolRunCommand, err), nil
	}

	output, err := s.session.RunCommand(ctx, command, timeout)
	var cmdErr *sandbox.CommandError
	if errors.As(err, &cmdErr) {
		return mcp.NewToolResultError(fmt.Sprintf("%s\n%v", cmdErr.Output, cmdErr)), nil
	}
	if err != nil {
		return s.toolError(ToolRunCommand, err), nil
	}
	return mcp.NewToolResultText(output), nil
}

func (s *MCPServer) handleReadFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return nil, fmt.Errorf("path parameter is required: %w", err)
	}

	if err := s.ensureSession(ctx); err != nil {
		return s.toolError(ToolReadFile, err), nil
	}

	content, err := s.session.ReadFile(ctx, path)
	if err != nil {
		return s.toolError(ToolReadFile, err), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *MCPServer) handleWriteFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return nil, fmt.Errorf("path parameter is required: %w", err)
	}
	content, err := request.RequireString("content")
	if err != nil {
		return nil, fmt.Errorf("content parameter is required: %w", err)
	}

	if err := s.ensureSession(ctx); err != nil {
		return s.toolError(ToolWriteFile, err), nil
	}

	if err := s.session.WriteFile(ctx, path, content); err != nil {
		return s.toolError(ToolWriteFile, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// timeoutArg reads the optional timeout in seconds, bounded to
// [0, pyexec.MaxTimeoutSec]
func timeoutArg(request mcp.CallToolRequest, def int) int {
	timeout := request.GetFloat("timeout", float64(def))
	switch {
	case timeout <= 0:
		return 0
	case timeout >= pyexec.MaxTimeoutSec:
		return pyexec.MaxTimeoutSec
	default:
		return int(timeout)
	}
}

func (s *MCPServer) ensureSession(ctx context.Context) error {
	if s.session == nil {
		return sandbox.ErrUninitialized
	}
	return s.session.Create(ctx, sandbox.CreateOptions{})
}

func (s *MCPServer) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("sandbox tool failed", zap.String("tool", tool), zap.Error(err))
	return mcp.NewToolResultError(err.Error())
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it is running
func (s *MCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
