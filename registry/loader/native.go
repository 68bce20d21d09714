package loader

import (
	"path/filepath"
	"plugin"

	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/registry/manifest"
	"github.com/colliery-io/cloacina-go/workflow"
)

// TaskConstructorSymbolSignature documents the signature every task
// function exported by a native package's compiled plugin must have:
// `func(cfg map[string]any) (workflow.Task, error)`. The manifest's task
// function field names the symbol (its value may differ per task);
// LoadNative enforces the signature with a type assertion, since Go plugin
// symbols are untyped at compile time.
const TaskConstructorSymbolSignature = "func(map[string]any) (workflow.Task, error)"

// LoadNative opens a native package's compiled Go plugin and registers one
// Constructor per manifest task, under namespace{tenant, pkg.Name,
// workflowName, task.ID}, into registry.
func LoadNative(extracted *ExtractedPackage, tenant, workflowName string, registry *workflow.ConstructorRegistry) error {
	m := extracted.Manifest
	if m.Language != manifest.LanguageNative {
		return &WrongLanguageError{Expected: "native", Actual: string(m.Language)}
	}
	if m.Native == nil {
		return ErrMissingLibrary
	}

	libPath := filepath.Join(extracted.RootDir, m.Native.LibraryPath)
	plug, err := plugin.Open(libPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open native plugin %s", libPath)
	}

	for _, task := range m.Tasks {
		sym, err := plug.Lookup(task.Function)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve symbol %q", task.Function)
		}
		ctor, ok := sym.(func(map[string]any) (workflow.Task, error))
		if !ok {
			return errors.Errorf("symbol %q does not satisfy workflow.Constructor's signature", task.Function)
		}
		ns := workflow.Namespace{Tenant: tenant, Package: m.Package.Name, Workflow: workflowName, LocalID: task.ID}
		if err := registry.Register(ns, workflow.Constructor(ctor)); err != nil {
			return errors.Wrapf(err, "failed to register task %q", task.ID)
		}
	}

	return nil
}
