// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and AGENTBOX_* environment variables. It
// supports configuration for server settings, logging, the container
// sandbox and the local execution path.
//
// The sandbox enablement flag is optional: an absent sandbox.use_sandbox is
// reported as nil so that each consumer can apply its own default.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Sandbox enabled: %v\n", cfg.Sandbox.Enabled(false))
package config
