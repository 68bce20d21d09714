package manifest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalForTest(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

func scriptedManifest() *Manifest {
	return &Manifest{
		FormatVersion: "2",
		Package: PackageInfo{
			Name:        "my-workflow",
			Version:     "1.0.0",
			Description: "Test workflow",
			Fingerprint: "sha256:abc123",
			Targets:     []string{"linux-amd64", "darwin-arm64"},
		},
		Language: LanguageScripted,
		Scripted: &ScriptedRuntime{EntryScript: "workflow/tasks.lua"},
		Tasks: []TaskDefinition{
			{ID: "extract", Function: "workflow.tasks:extract_data", Retries: 3},
			{ID: "transform", Function: "workflow.tasks:transform_data", Dependencies: []string{"extract"}},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func nativeManifest() *Manifest {
	return &Manifest{
		FormatVersion: "2",
		Package: PackageInfo{
			Name:        "native-workflow",
			Version:     "0.1.0",
			Fingerprint: "sha256:def456",
			Targets:     []string{"linux-amd64"},
		},
		Language: LanguageNative,
		Native:   &NativeRuntime{LibraryPath: "lib/libworkflow.so"},
		Tasks:    []TaskDefinition{{ID: "process", Function: "cloacina_execute_task"}},
		CreatedAt: time.Now().UTC(),
	}
}

func TestScriptedManifestValidates(t *testing.T) {
	assert.NoError(t, scriptedManifest().Validate())
}

func TestNativeManifestValidates(t *testing.T) {
	assert.NoError(t, nativeManifest().Validate())
}

func TestMissingScriptedRuntime(t *testing.T) {
	m := scriptedManifest()
	m.Scripted = nil
	var verr *ValidationError
	require.ErrorAs(t, m.Validate(), &verr)
	assert.Equal(t, "missing_runtime", verr.Rule)
}

func TestMissingNativeRuntime(t *testing.T) {
	m := nativeManifest()
	m.Native = nil
	var verr *ValidationError
	require.ErrorAs(t, m.Validate(), &verr)
	assert.Equal(t, "missing_runtime", verr.Rule)
}

func TestUnsupportedTarget(t *testing.T) {
	m := scriptedManifest()
	m.Package.Targets = append(m.Package.Targets, "windows-amd64")
	var verr *ValidationError
	require.ErrorAs(t, m.Validate(), &verr)
	assert.Equal(t, "unsupported_target", verr.Rule)
}

func TestNoTasks(t *testing.T) {
	m := scriptedManifest()
	m.Tasks = nil
	var verr *ValidationError
	require.ErrorAs(t, m.Validate(), &verr)
	assert.Equal(t, "no_tasks", verr.Rule)
}

func TestDuplicateTaskID(t *testing.T) {
	m := scriptedManifest()
	m.Tasks[1].ID = "extract"
	var verr *ValidationError
	require.ErrorAs(t, m.Validate(), &verr)
	assert.Equal(t, "duplicate_task_id", verr.Rule)
}

func TestInvalidDependency(t *testing.T) {
	m := scriptedManifest()
	m.Tasks[1].Dependencies = []string{"nonexistent"}
	var verr *ValidationError
	require.ErrorAs(t, m.Validate(), &verr)
	assert.Equal(t, "invalid_dependency", verr.Rule)
}

func TestInvalidScriptedFunctionPath(t *testing.T) {
	m := scriptedManifest()
	m.Tasks[0].Function = "no_colon_separator"
	var verr *ValidationError
	require.ErrorAs(t, m.Validate(), &verr)
	assert.Equal(t, "invalid_function_path", verr.Rule)
}

func TestNativeFunctionPathWithoutColonOK(t *testing.T) {
	assert.NoError(t, nativeManifest().Validate())
}

func TestInvalidFormatVersion(t *testing.T) {
	m := scriptedManifest()
	m.FormatVersion = "1"
	var verr *ValidationError
	require.ErrorAs(t, m.Validate(), &verr)
	assert.Equal(t, "format_version", verr.Rule)
}

func TestParseSerializationRoundTrip(t *testing.T) {
	original := scriptedManifest()
	data, err := marshalForTest(original)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "2", parsed.FormatVersion)
	assert.Equal(t, "my-workflow", parsed.Package.Name)
	assert.Equal(t, LanguageScripted, parsed.Language)
	require.NotNil(t, parsed.Scripted)
	assert.Len(t, parsed.Tasks, 2)
	assert.Equal(t, 3, parsed.Tasks[0].Retries)
	assert.Equal(t, []string{"extract"}, parsed.Tasks[1].Dependencies)
}

func TestPlatformCompatibility(t *testing.T) {
	m := scriptedManifest()
	assert.True(t, m.IsCompatibleWithPlatform("linux-amd64"))
	assert.True(t, m.IsCompatibleWithPlatform("darwin-arm64"))
	assert.False(t, m.IsCompatibleWithPlatform("linux-arm64"))
}
