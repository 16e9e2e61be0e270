//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package pyexec

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcess puts the child in its own process group so that a signal
// reaches everything it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalProcess(p *os.Process, name string) error {
	sig := unix.SignalNum(name)
	if sig == 0 {
		sig = unix.SIGKILL
	}

	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
