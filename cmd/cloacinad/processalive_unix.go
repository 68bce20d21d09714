//go:build !windows

package main

import (
	"os"
	"syscall"
)

// processAlive probes liveness with signal 0, used by `server stop` to poll
// for exit after sending the real termination signal.
func processAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}
