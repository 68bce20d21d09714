package loader

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// archiveEntry is one file to place into a test tar.gz fixture.
type archiveEntry struct {
	name string
	data []byte
}

func buildTestArchive(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		hdr := &tar.Header{
			Name:    e.name,
			Mode:    0o644,
			Size:    int64(len(e.data)),
			ModTime: time.Unix(0, 0),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write(e.data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func nativeManifestJSON() []byte {
	return []byte(`{
		"format_version": "2",
		"package": {"name": "pkg-a", "version": "1.0.0", "fingerprint": "sha256:aaa", "targets": ["linux-amd64"]},
		"language": "native",
		"native": {"library_path": "lib/pkg.so"},
		"tasks": [{"id": "process", "function": "cloacina_execute_task"}],
		"created_at": "2026-01-01T00:00:00Z"
	}`)
}

func scriptedManifestJSON() []byte {
	return []byte(`{
		"format_version": "2",
		"package": {"name": "pkg-b", "version": "1.0.0", "fingerprint": "sha256:bbb", "targets": ["linux-amd64"]},
		"language": "scripted",
		"scripted": {"entry_script": "workflow/tasks.lua"},
		"tasks": [{"id": "extract", "function": "tasks:extract"}],
		"created_at": "2026-01-01T00:00:00Z"
	}`)
}

func TestPeekManifestFindsManifestWithoutExtractingRest(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: nativeManifestJSON()},
		{name: "lib/pkg.so", data: []byte("not a real plugin")},
	})

	m, err := PeekManifest(archive)
	require.NoError(t, err)
	assert.Equal(t, "pkg-a", m.Package.Name)
	assert.NoError(t, m.Validate())
}

func TestPeekManifestMissing(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "lib/pkg.so", data: []byte("not a real plugin")},
	})

	_, err := PeekManifest(archive)
	assert.ErrorIs(t, err, ErrMissingManifest)
}

func TestExtractPackageNative(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: nativeManifestJSON()},
		{name: "lib/pkg.so", data: []byte("plugin-bytes")},
	})

	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "pkg-a", extracted.Manifest.Package.Name)
	require.NoError(t, extracted.Manifest.Validate())
}

func TestExtractPackageScripted(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: scriptedManifestJSON()},
		{name: "workflow/tasks.lua", data: []byte("return {}")},
	})

	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "pkg-b", extracted.Manifest.Package.Name)
	require.NoError(t, extracted.Manifest.Validate())
}

func TestExtractPackageMissingManifest(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "workflow/tasks.lua", data: []byte("return {}")},
	})

	_, err := ExtractPackage(archive, t.TempDir())
	assert.Error(t, err)
}

func TestExtractPackageCreatesIsolatedDirectories(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: nativeManifestJSON()},
	})
	staging := t.TempDir()

	first, err := ExtractPackage(archive, staging)
	require.NoError(t, err)
	second, err := ExtractPackage(archive, staging)
	require.NoError(t, err)

	assert.NotEqual(t, first.RootDir, second.RootDir)
}
