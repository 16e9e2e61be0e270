// Command server runs the agentbox MCP server.
//
// agentbox lets an agent execute Python code either in a local child
// interpreter process or in a container sandbox (Docker or Podman) shared by
// all tool calls. Which path runs is decided per call by the
// sandbox.use_sandbox configuration flag, which is re-read whenever the
// configuration file changes.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration. On shutdown the sandbox container is removed.
package main
