package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrPIDFileExists is returned by WritePIDFile when path already names a
// PID file pointing at a still-running process.
var ErrPIDFileExists = errors.New("pid file exists and its process is running")

// WritePIDFile writes os.Getpid() to path as plain decimal text. If path
// already exists, it is read first: a stale PID (process no longer alive)
// is overwritten, but a live one returns ErrPIDFileExists so callers refuse
// to start a second instance.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if existing, err := readPID(path); err == nil && processAlive(existing) {
		return errors.Wrapf(ErrPIDFileExists, "pid file %s already contains running pid %d", path, existing)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePIDFile deletes path, ignoring a not-exist error, for clean
// shutdown.
func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove pid file %s", path)
	}
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s does not contain a decimal pid: %w", path, err)
	}
	return pid, nil
}

// ReadPID reads and parses the PID stored at path.
func ReadPID(path string) (int, error) {
	return readPID(path)
}

