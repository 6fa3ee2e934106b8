//go:build windows

package watchdog

import "os/exec"

// setupProcessGroup is a no-op on Windows; CREATE_NEW_PROCESS_GROUP and
// job-object semantics are not wired up here, so a restarted daemon on
// Windows simply lacks the detach guarantee.
func setupProcessGroup(cmd *exec.Cmd) {}
