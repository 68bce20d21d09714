package loader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"

	"github.com/colliery-io/cloacina-go/pipelinectx"
	"github.com/colliery-io/cloacina-go/registry/manifest"
	"github.com/colliery-io/cloacina-go/workflow"
)

// LoadScripted registers one Constructor per manifest task for a Lua-scripted
// package, under the same namespace convention as LoadNative. Each task's
// function path is "module.path:function_name": module.path names a chain of
// global tables defined by running the entry script once per Execute, and
// function_name is looked up within the innermost table. A fresh *lua.LState
// is created per Execute call since gopher-lua states are not safe for
// concurrent reuse across tasks.
func LoadScripted(extracted *ExtractedPackage, tenant, workflowName string, registry *workflow.ConstructorRegistry) error {
	m := extracted.Manifest
	if m.Language != manifest.LanguageScripted {
		return &WrongLanguageError{Expected: "scripted", Actual: string(m.Language)}
	}
	if m.Scripted == nil {
		return ErrMissingSourceDir
	}

	scriptPath := filepath.Join(extracted.RootDir, m.Scripted.EntryScript)
	if _, err := os.Stat(scriptPath); err != nil {
		return errors.Wrapf(ErrMissingSourceDir, "entry script %s", scriptPath)
	}

	for _, task := range m.Tasks {
		modulePath, funcName, ok := splitFunctionPath(task.Function)
		if !ok {
			return errors.Errorf("invalid scripted function path %q", task.Function)
		}
		ns := workflow.Namespace{Tenant: tenant, Package: m.Package.Name, Workflow: workflowName, LocalID: task.ID}
		ctor := newScriptedConstructor(scriptPath, modulePath, funcName, task, m.Package.Fingerprint)
		if err := registry.Register(ns, ctor); err != nil {
			return errors.Wrapf(err, "failed to register task %q", task.ID)
		}
	}

	return nil
}

// splitFunctionPath divides "module.path:function_name" into its module
// chain and final function name.
func splitFunctionPath(function string) (modulePath, funcName string, ok bool) {
	idx := strings.LastIndex(function, ":")
	if idx < 0 {
		return "", "", false
	}
	return function[:idx], function[idx+1:], true
}

func newScriptedConstructor(scriptPath, modulePath, funcName string, def manifest.TaskDefinition, fingerprint string) workflow.Constructor {
	return func(cfg map[string]any) (workflow.Task, error) {
		return &scriptedTask{
			scriptPath:  scriptPath,
			modulePath:  modulePath,
			funcName:    funcName,
			def:         def,
			fingerprint: fingerprint,
			cfg:         cfg,
		}, nil
	}
}

// scriptedTask is a workflow.Task backed by a Lua function resolved out of a
// scripted package's entry script.
type scriptedTask struct {
	scriptPath  string
	modulePath  string
	funcName    string
	def         manifest.TaskDefinition
	fingerprint string
	cfg         map[string]any
}

func (t *scriptedTask) ID() string              { return t.def.ID }
func (t *scriptedTask) Dependencies() []string   { return t.def.Dependencies }
func (t *scriptedTask) TriggerRules() string     { return "" }
func (t *scriptedTask) CodeFingerprint() string  { return t.fingerprint + ":" + t.def.Function }

func (t *scriptedTask) RetryPolicy() workflow.RetryPolicy {
	if t.def.Retries <= 0 {
		return workflow.DefaultRetryPolicy()
	}
	return workflow.RetryPolicy{
		Strategy:    workflow.BackoffExponential,
		MaxAttempts: t.def.Retries + 1,
		BaseDelayMs: 500,
		Multiplier:  2,
		MaxDelayMs:  30_000,
		Jitter:      true,
	}
}

func (t *scriptedTask) Execute(ctx context.Context, input *pipelinectx.Context) (*pipelinectx.Context, error) {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoFile(t.scriptPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load entry script %s", t.scriptPath)
	}

	fn, err := resolveLuaFunction(L, t.modulePath, t.funcName)
	if err != nil {
		return nil, err
	}

	inputJSON, err := input.ToJSON()
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize input context for lua call")
	}
	var inputValues map[string]any
	if err := json.Unmarshal(inputJSON, &inputValues); err != nil {
		return nil, errors.Wrap(err, "failed to decode input context for lua call")
	}

	ctxTable := toLuaValue(L, inputValues)
	cfgTable := toLuaValue(L, t.cfg)

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, ctxTable, cfgTable); err != nil {
		return nil, errors.Wrapf(err, "lua task %q failed", t.def.ID)
	}

	ret := L.Get(-1)
	L.Pop(1)

	outputValues, ok := fromLuaValue(ret).(map[string]any)
	if !ok {
		return nil, errors.Errorf("lua task %q did not return a table", t.def.ID)
	}
	outputJSON, err := json.Marshal(outputValues)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode lua task output")
	}
	return pipelinectx.FromJSON(outputJSON)
}

// resolveLuaFunction walks a dot-separated chain of global tables (module
// path may be empty, meaning funcName is itself a global) and returns the
// function found at its end.
func resolveLuaFunction(L *lua.LState, modulePath, funcName string) (lua.LValue, error) {
	var table lua.LValue = L.Get(lua.GlobalsIndex)
	if modulePath != "" {
		for _, segment := range strings.Split(modulePath, ".") {
			tbl, ok := table.(*lua.LTable)
			if !ok {
				return nil, errors.Errorf("lua module path segment %q is not a table", segment)
			}
			table = L.GetField(tbl, segment)
			if table == lua.LNil {
				return nil, errors.Errorf("lua module path segment %q not found", segment)
			}
		}
	}
	tbl, ok := table.(*lua.LTable)
	if !ok {
		return nil, errors.Errorf("lua module path %q does not resolve to a table", modulePath)
	}
	fn := L.GetField(tbl, funcName)
	if fn == lua.LNil {
		return nil, errors.Errorf("lua function %q not found in module %q", funcName, modulePath)
	}
	return fn, nil
}

// toLuaValue converts a JSON-decoded Go value (map[string]any, []any,
// string, float64, bool, nil) into the corresponding lua.LValue.
func toLuaValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, toLuaValue(L, item))
		}
		return tbl
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, toLuaValue(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// fromLuaValue converts an lua.LValue returned from a script call back into
// a plain Go value suitable for JSON encoding.
func fromLuaValue(lv lua.LValue) any {
	switch val := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if val.Len() > 0 {
			out := make([]any, 0, val.Len())
			val.ForEach(func(_, item lua.LValue) {
				out = append(out, fromLuaValue(item))
			})
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(key, item lua.LValue) {
			out[key.String()] = fromLuaValue(item)
		})
		return out
	default:
		return nil
	}
}
