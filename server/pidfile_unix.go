//go:build !windows

package server

import (
	"os"
	"syscall"
)

// processAlive probes liveness with signal 0, which the kernel delivers to
// no one but still reports ESRCH if pid does not exist.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
