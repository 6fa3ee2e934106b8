//go:build !windows

package watchdog

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup detaches cmd into its own process group so the
// supervisor process can exit without orphaning a restarted daemon.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
