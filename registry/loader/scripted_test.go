package loader

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colliery-io/cloacina-go/pipelinectx"
	"github.com/colliery-io/cloacina-go/registry/manifest"
	"github.com/colliery-io/cloacina-go/workflow"
)

const testLuaScript = `
tasks = {}

function tasks.extract(ctx, cfg)
  ctx.extracted = true
  ctx.source = cfg.source
  return ctx
end

function tasks.failing(ctx, cfg)
  error("deliberate failure")
end
`

func scriptedManifestWithTasks(tasksDef []manifest.TaskDefinition) []byte {
	m := &manifest.Manifest{
		FormatVersion: manifest.FormatVersion,
		Package:       manifest.PackageInfo{Name: "pkg-b", Version: "1.0.0", Fingerprint: "sha256:bbb", Targets: []string{"linux-amd64"}},
		Language:      manifest.LanguageScripted,
		Scripted:      &manifest.ScriptedRuntime{EntryScript: "workflow/tasks.lua"},
		Tasks:         tasksDef,
	}
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return data
}

func TestLoadScriptedRegistersConstructorAndExecutes(t *testing.T) {
	tasksDef := []manifest.TaskDefinition{{ID: "extract", Function: "tasks:extract"}}
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: scriptedManifestWithTasks(tasksDef)},
		{name: "workflow/tasks.lua", data: []byte(testLuaScript)},
	})
	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)

	registry := workflow.NewConstructorRegistry()
	require.NoError(t, LoadScripted(extracted, "acme", "etl", registry))

	ns := workflow.Namespace{Tenant: "acme", Package: "pkg-b", Workflow: "etl", LocalID: "extract"}
	ctor, ok := registry.Resolve(ns)
	require.True(t, ok)

	task, err := ctor(map[string]any{"source": "s3://bucket"})
	require.NoError(t, err)
	assert.Equal(t, "extract", task.ID())

	input := pipelinectx.New()
	require.NoError(t, input.Insert("foo", "bar"))

	output, err := task.Execute(context.Background(), input)
	require.NoError(t, err)

	extractedVal, ok := output.Get("extracted")
	require.True(t, ok)
	assert.Equal(t, true, extractedVal)

	sourceVal, ok := output.Get("source")
	require.True(t, ok)
	assert.Equal(t, "s3://bucket", sourceVal)

	fooVal, ok := output.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", fooVal)
}

func TestLoadScriptedTaskExecuteErrorPropagates(t *testing.T) {
	tasksDef := []manifest.TaskDefinition{{ID: "failing", Function: "tasks:failing"}}
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: scriptedManifestWithTasks(tasksDef)},
		{name: "workflow/tasks.lua", data: []byte(testLuaScript)},
	})
	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)

	registry := workflow.NewConstructorRegistry()
	require.NoError(t, LoadScripted(extracted, "acme", "etl", registry))

	ns := workflow.Namespace{Tenant: "acme", Package: "pkg-b", Workflow: "etl", LocalID: "failing"}
	ctor, ok := registry.Resolve(ns)
	require.True(t, ok)
	task, err := ctor(nil)
	require.NoError(t, err)

	_, err = task.Execute(context.Background(), pipelinectx.New())
	assert.Error(t, err)
}

func TestLoadScriptedWrongLanguage(t *testing.T) {
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: nativeManifestJSON()},
		{name: "lib/pkg.so", data: []byte("plugin-bytes")},
	})
	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)

	registry := workflow.NewConstructorRegistry()
	err = LoadScripted(extracted, "acme", "etl", registry)
	var wrongLang *WrongLanguageError
	require.ErrorAs(t, err, &wrongLang)
	assert.Equal(t, "scripted", wrongLang.Expected)
	assert.Equal(t, "native", wrongLang.Actual)
}

func TestLoadScriptedMissingEntryScript(t *testing.T) {
	tasksDef := []manifest.TaskDefinition{{ID: "extract", Function: "tasks:extract"}}
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: scriptedManifestWithTasks(tasksDef)},
	})
	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)

	registry := workflow.NewConstructorRegistry()
	err = LoadScripted(extracted, "acme", "etl", registry)
	assert.ErrorIs(t, err, ErrMissingSourceDir)
}

func TestRetryPolicyDerivedFromTaskRetries(t *testing.T) {
	tasksDef := []manifest.TaskDefinition{{ID: "extract", Function: "tasks:extract", Retries: 2}}
	archive := buildTestArchive(t, []archiveEntry{
		{name: "manifest.json", data: scriptedManifestWithTasks(tasksDef)},
		{name: "workflow/tasks.lua", data: []byte(testLuaScript)},
	})
	extracted, err := ExtractPackage(archive, t.TempDir())
	require.NoError(t, err)

	registry := workflow.NewConstructorRegistry()
	require.NoError(t, LoadScripted(extracted, "acme", "etl", registry))

	ns := workflow.Namespace{Tenant: "acme", Package: "pkg-b", Workflow: "etl", LocalID: "extract"}
	ctor, _ := registry.Resolve(ns)
	task, err := ctor(nil)
	require.NoError(t, err)

	policy := task.RetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, workflow.BackoffExponential, policy.Strategy)
}
