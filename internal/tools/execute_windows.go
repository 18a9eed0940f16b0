//go:build windows

package tools

import "os/exec"

func setupProcessGroup(cmd *exec.Cmd) {}
