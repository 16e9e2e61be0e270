// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The server exposes the python_execute tool, backed by pyexec.Tool, and a
// small set of sandbox tools (sandbox_run_command, sandbox_read_file,
// sandbox_write_file) that forward to the shared sandbox.Client. It uses the
// mark3labs/mcp-go library to handle the protocol details and supports both
// stdio and streamable HTTP transports.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, tool, client)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
