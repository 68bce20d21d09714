//go:build windows

package main

import (
	"os/exec"
	"syscall"
)

// detachProcess starts cmd in its own process group, the closest Windows
// analogue to a detached Unix session.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000200} // CREATE_NEW_PROCESS_GROUP
}
