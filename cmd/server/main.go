package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/logger"
	"github.com/isdmx/agentbox/mcpserver"
	"github.com/isdmx/agentbox/pyexec"
	"github.com/isdmx/agentbox/sandbox"
)

func main() {
	app := fx.New(
		fx.Provide(
			// Config, reloaded when the file changes
			config.New,
			config.NewWatcher,
			func(w *config.Watcher) config.Provider { return w },

			// Logger with configuration
			logger.NewFromConfig,

			// Sandbox session shared by every tool
			func() sandbox.CommandRunner { return sandbox.RealCommandRunner{} },
			sandbox.NewDriverFactory,
			sandbox.NewClient,

			// Python execution tool
			func(log *zap.Logger, cfg *config.Config, provider config.Provider, client *sandbox.Client) *pyexec.Tool {
				return pyexec.New(log, cfg, provider, client)
			},

			// MCP Server
			func(cfg *config.Config, log *zap.Logger, tool *pyexec.Tool, client *sandbox.Client) (*mcpserver.MCPServer, error) {
				return mcpserver.New(cfg, log, tool, client)
			},
		),

		fx.Invoke(run),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

// run starts the configured transport and tears the sandbox down on stop
func run(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	log *zap.Logger,
	watcher *config.Watcher,
	client *sandbox.Client,
	server *mcpserver.MCPServer,
) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := watcher.Start(); err != nil {
				log.Warn("config watching disabled", zap.Error(err))
			}

			var serve func() error
			switch cfg.Server.Transport {
			case "stdio":
				serve = server.ServeStdio
			case "http":
				serve = server.ServeHTTP
			default:
				return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
			}

			go func() {
				err := serve()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("transport stopped", zap.Error(err))
				}
				if err := shutdowner.Shutdown(); err != nil {
					log.Debug("shutdown already in progress", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := server.Shutdown(ctx); err != nil {
				log.Warn("failed to stop HTTP transport", zap.Error(err))
			}
			if err := client.Cleanup(ctx); err != nil {
				log.Error("failed to clean up sandbox", zap.Error(err))
				return err
			}
			return nil
		},
	})
}
