//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package pyexec

import (
	"os"
	"os/exec"
)

func configureProcess(*exec.Cmd) {}

// signalProcess can only kill outright on this platform
func signalProcess(p *os.Process, _ string) error {
	return p.Kill()
}
