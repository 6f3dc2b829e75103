//go:build windows

package connector

import "os/exec"

// setProcessGroup is a no-op on Windows; killProcessGroup falls back to
// killing the process directly.
func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
