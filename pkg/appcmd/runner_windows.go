//go:build windows

package appcmd

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes keeps the tool from flashing a console window
// when the monitor runs as a service or from a GUI session.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow: true,
	}
}
