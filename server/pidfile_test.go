package server

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePIDFileAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloacinad.pid")
	require.NoError(t, WritePIDFile(path))

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, RemovePIDFile(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWritePIDFileRefusesWhenProcessAlive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloacinad.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	err := WritePIDFile(path)
	assert.ErrorIs(t, err, ErrPIDFileExists)
}

func TestWritePIDFileOverwritesStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloacinad.pid")
	// PID 0 is never a real running process we'd find alive here; use a
	// value outside any plausible live range instead of guessing one.
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o644))

	err := WritePIDFile(path)
	require.NoError(t, err)

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestRemovePIDFileIgnoresMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.pid")
	assert.NoError(t, RemovePIDFile(path))
}
