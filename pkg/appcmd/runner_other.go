//go:build !windows

package appcmd

import "os/exec"

func setupProcessAttributes(cmd *exec.Cmd) {}
