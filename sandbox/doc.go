// Package sandbox provides the container-backed execution environment.
//
// The package defines the Driver interface, the capability set of one
// isolated environment, and ContainerDriver, which implements it on a
// long-running Docker or Podman container. Client owns the one session of a
// process: it creates the Driver lazily under a lifecycle lock, forwards
// command and file operations to it, and fails with ErrUninitialized when
// no session exists.
//
// Usage:
//
//	client := sandbox.NewClient(logger, cfg, sandbox.NewDriverFactory(logger, nil))
//	if err := client.Create(ctx, sandbox.CreateOptions{}); err != nil {
//	    return err
//	}
//	defer client.Cleanup(context.Background())
//	out, err := client.RunCommand(ctx, "python -V", 10*time.Second)
package sandbox
