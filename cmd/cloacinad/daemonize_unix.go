//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// detachProcess configures cmd to run in its own session, surviving the
// parent's exit once server start's foreground re-exec has forked.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
