//go:build !windows

package engine

import (
	"os/exec"
	"syscall"

	"github.com/codefionn/buildwire/internal/logger"
)

// configureProcessGroup runs the command in its own process group so that
// cancellation reaches the whole tree.
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil || pgid <= 0 {
		return cmd.Process.Kill()
	}
	logger.Warn("engine: sending SIGKILL to process group %d", pgid)
	return syscall.Kill(-pgid, syscall.SIGKILL)
}
