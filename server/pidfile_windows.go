//go:build windows

package server

import "os"

// processAlive on Windows relies on FindProcess failing for a pid that no
// longer exists, since Signal(0) is not meaningful there.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
