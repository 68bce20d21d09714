// Package manifest parses and validates the v2 workflow package manifest: a
// language-discriminated (native/scripted) task manifest with dependency
// and platform-target validation.
package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// FormatVersion is the only manifest schema version this package accepts.
const FormatVersion = "2"

// Language discriminates how a package's tasks are loaded: a native Go
// plugin (compiled .so) or a scripted Lua entry point.
type Language string

const (
	LanguageNative   Language = "native"
	LanguageScripted Language = "scripted"
)

// SupportedTargets enumerates the GOOS-GOARCH platform strings a package may
// declare itself compatible with.
var SupportedTargets = map[string]bool{
	"linux-amd64":  true,
	"linux-arm64":  true,
	"darwin-amd64": true,
	"darwin-arm64": true,
}

// NativeRuntime configures a compiled Go plugin package.
type NativeRuntime struct {
	LibraryPath string `json:"library_path"`
}

// ScriptedRuntime configures a Lua-scripted package.
type ScriptedRuntime struct {
	EntryScript string `json:"entry_script"`
}

// PackageInfo is the manifest's top-level package metadata block.
type PackageInfo struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	Targets     []string `json:"targets"`
	// MinEngineVersion, if set, is the lowest "vMAJOR.MINOR.PATCH" engine
	// release this package's task bodies were built against. Empty means
	// no floor is declared.
	MinEngineVersion string `json:"min_engine_version,omitempty"`
}

// TaskDefinition describes one task entry point within a package.
type TaskDefinition struct {
	ID              string   `json:"id"`
	Function        string   `json:"function"`
	Dependencies    []string `json:"dependencies,omitempty"`
	Description     string   `json:"description,omitempty"`
	Retries         int      `json:"retries,omitempty"`
	TimeoutSeconds  *int64   `json:"timeout_seconds,omitempty"`
}

// Manifest is the full v2 package manifest.
type Manifest struct {
	FormatVersion string           `json:"format_version"`
	Package       PackageInfo      `json:"package"`
	Language      Language         `json:"language"`
	Native        *NativeRuntime   `json:"native,omitempty"`
	Scripted      *ScriptedRuntime `json:"scripted,omitempty"`
	Tasks         []TaskDefinition `json:"tasks"`
	CreatedAt     time.Time        `json:"created_at"`
	Signature     string           `json:"signature,omitempty"`
}

// Parse decodes a manifest.json document. It does not validate; call
// Validate separately so callers can distinguish malformed JSON from a
// structurally invalid-but-parseable manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest json")
	}
	return &m, nil
}

// ValidationError reports a specific structural defect in a Manifest.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the seven structural rules the manifest must satisfy
// before a package can be loaded: format version, a runtime block matching
// the declared language, only-supported platform targets, a non-empty task
// list, unique task IDs, dependencies that resolve to a task in the same
// manifest, and (for scripted packages) a "module:function" function path.
func (m *Manifest) Validate() error {
	if m.FormatVersion != FormatVersion {
		return invalid("format_version", "invalid format version: expected %q, got %q", FormatVersion, m.FormatVersion)
	}

	switch m.Language {
	case LanguageNative:
		if m.Native == nil {
			return invalid("missing_runtime", "native package requires a 'native' runtime block")
		}
	case LanguageScripted:
		if m.Scripted == nil {
			return invalid("missing_runtime", "scripted package requires a 'scripted' runtime block")
		}
	default:
		return invalid("unknown_language", "unknown package language %q", m.Language)
	}

	for _, target := range m.Package.Targets {
		if !SupportedTargets[target] {
			return invalid("unsupported_target", "unsupported target platform: %s", target)
		}
	}

	if len(m.Tasks) == 0 {
		return invalid("no_tasks", "package must define at least one task")
	}

	seen := make(map[string]bool, len(m.Tasks))
	for _, task := range m.Tasks {
		if seen[task.ID] {
			return invalid("duplicate_task_id", "duplicate task id: %q", task.ID)
		}
		seen[task.ID] = true
	}

	for _, task := range m.Tasks {
		for _, dep := range task.Dependencies {
			if !seen[dep] {
				return invalid("invalid_dependency", "task %q depends on unknown task %q", task.ID, dep)
			}
		}
	}

	if m.Language == LanguageScripted {
		for _, task := range m.Tasks {
			if !hasColon(task.Function) {
				return invalid("invalid_function_path", "invalid scripted function path %q: expected 'module.path:function_name'", task.Function)
			}
		}
	}

	return nil
}

func hasColon(s string) bool {
	for _, r := range s {
		if r == ':' {
			return true
		}
	}
	return false
}

// IsCompatibleWithPlatform reports whether the manifest declares support for
// platform (a GOOS-GOARCH string such as "linux-amd64").
func (m *Manifest) IsCompatibleWithPlatform(platform string) bool {
	for _, t := range m.Package.Targets {
		if t == platform {
			return true
		}
	}
	return false
}
