// Package pyexec implements the python_execute tool.
//
// Each call reads the sandbox flag from a config.Provider. When the flag is
// set the code is copied into the container sandbox and run there through a
// sandbox.Client; otherwise it runs in a separate local interpreter process
// with a hard timeout. Execute never returns an error: every failure is
// folded into a Result with Success set to false.
//
// Success reports whether the code ran to completion, not whether it
// produced output. In the sandbox a script that exits non-zero yields its
// combined output with Success false, the same as an exception on the local
// path.
//
// Usage:
//
//	tool := pyexec.New(logger, cfg, provider, client)
//	result := tool.Execute(ctx, "print(1+1)", 5)
//	fmt.Print(result.Observation) // 2
package pyexec
