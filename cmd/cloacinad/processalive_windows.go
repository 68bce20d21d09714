//go:build windows

package main

import "os"

// processAlive on Windows relies on re-finding the process, since Signal(0)
// is not meaningful there.
func processAlive(proc *os.Process) bool {
	p, err := os.FindProcess(proc.Pid)
	return err == nil && p != nil
}
