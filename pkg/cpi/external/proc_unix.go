//go:build unix

package external

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in its own process group and kills
// the whole group on timeout, so helpers it spawned die with it.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
