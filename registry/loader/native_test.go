package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/cloacina-go/registry/manifest"
	"github.com/colliery-io/cloacina-go/workflow"
)

func TestLoadNativeWrongLanguage(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: scriptedManifestJSON()},
		{name: "workflow/tasks.lua", data: []byte("return {}")},
	})
	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)

	registry := workflow.NewConstructorRegistry()
	err = LoadNative(extracted, "acme", "etl", registry)
	var wrongLang *WrongLanguageError
	require.ErrorAs(t, err, &wrongLang)
	assert.Equal(t, "native", wrongLang.Expected)
	assert.Equal(t, "scripted", wrongLang.Actual)
}

func TestLoadNativeMissingRuntimeBlock(t *testing.T) {
	extracted := &ExtractedPackage{
		RootDir: t.TempDir(),
		Manifest: &manifest.Manifest{
			FormatVersion: manifest.FormatVersion,
			Language:      manifest.LanguageNative,
			Native:        nil,
			Package:       manifest.PackageInfo{Name: "pkg-a"},
			Tasks:         []manifest.TaskDefinition{{ID: "process", Function: "cloacina_execute_task"}},
		},
	}

	registry := workflow.NewConstructorRegistry()
	err := LoadNative(extracted, "acme", "etl", registry)
	assert.ErrorIs(t, err, ErrMissingLibrary)
}

func TestLoadNativeFailsOnUnopenablePlugin(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: nativeManifestJSON()},
		{name: "lib/pkg.so", data: []byte("not a real compiled plugin")},
	})
	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)

	registry := workflow.NewConstructorRegistry()
	err = LoadNative(extracted, "acme", "etl", registry)
	require.Error(t, err)
	assert.Empty(t, registry.Namespaces())
}

func TestLoadNativeMissingLibraryFile(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: nativeManifestJSON()},
	})
	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)

	registry := workflow.NewConstructorRegistry()
	err = LoadNative(extracted, "acme", "etl", registry)
	require.Error(t, err)
}
