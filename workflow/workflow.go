package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// TaskNode is the finalized, immutable description of one task within a
// Workflow's DAG.
type TaskNode struct {
	ID              string
	Dependencies    []string
	RetryPolicy     RetryPolicy
	TriggerRules    string
	CodeFingerprint string
	Constructor     Constructor
}

// Workflow is an immutable named DAG of tasks. Once Finalize
// succeeds the Workflow never changes; reconstructing an equivalent DAG
// produces the same Version.
type Workflow struct {
	Name        string
	Tenant      string
	Package     string
	Description string
	Tags        []string
	Version     string

	tasks    map[string]*TaskNode
	order    []string // registration order, for deterministic iteration
	adjFwd   map[string][]string
	adjBack  map[string][]string
}

// Builder accumulates tasks before Finalize validates and hashes the DAG.
type Builder struct {
	name        string
	tenant      string
	pkg         string
	description string
	tags        []string
	tasks       map[string]*TaskNode
	order       []string
}

// NewBuilder starts constructing a Workflow named name, owned by tenant and
// package pkg.
func NewBuilder(name, tenant, pkg string) *Builder {
	return &Builder{
		name:   name,
		tenant: tenant,
		pkg:    pkg,
		tasks:  make(map[string]*TaskNode),
	}
}

func (b *Builder) WithDescription(d string) *Builder {
	b.description = d
	return b
}

func (b *Builder) WithTags(tags ...string) *Builder {
	b.tags = append(b.tags, tags...)
	return b
}

// AddTask registers a task declaration under the workflow under
// construction. Fails with ErrDuplicateTask if id was already added.
func (b *Builder) AddTask(id string, deps []string, retry RetryPolicy, triggerRules, fingerprint string, ctor Constructor) error {
	if _, ok := b.tasks[id]; ok {
		return errors.Wrapf(ErrDuplicateTask, "task %q", id)
	}
	b.tasks[id] = &TaskNode{
		ID:              id,
		Dependencies:    append([]string(nil), deps...),
		RetryPolicy:     retry,
		TriggerRules:    triggerRules,
		CodeFingerprint: fingerprint,
		Constructor:     ctor,
	}
	b.order = append(b.order, id)
	return nil
}

// Finalize performs presence checking, cycle detection and content-hashing,
// and returns the immutable Workflow.
func (b *Builder) Finalize() (*Workflow, error) {
	adjFwd := make(map[string][]string, len(b.tasks))
	adjBack := make(map[string][]string, len(b.tasks))

	for _, id := range b.order {
		node := b.tasks[id]
		for _, dep := range node.Dependencies {
			if _, ok := b.tasks[dep]; !ok {
				return nil, errors.Wrapf(ErrTaskNotFound, "task %q depends on unknown task %q", id, dep)
			}
			adjBack[id] = append(adjBack[id], dep)
			adjFwd[dep] = append(adjFwd[dep], id)
		}
	}

	wf := &Workflow{
		Name:        b.name,
		Tenant:      b.tenant,
		Package:     b.pkg,
		Description: b.description,
		Tags:        b.tags,
		tasks:       b.tasks,
		order:       append([]string(nil), b.order...),
		adjFwd:      adjFwd,
		adjBack:     adjBack,
	}

	if path := wf.detectCycle(); path != nil {
		return nil, &CycleError{Path: path}
	}

	wf.Version = wf.contentHash()
	return wf, nil
}

// detectCycle runs depth-first search over the dependency edges and returns
// the back-edge path if a cycle exists, or nil.
func (wf *Workflow) detectCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(wf.order))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)
		for _, dep := range wf.adjBack[id] {
			switch color[dep] {
			case gray:
				// Found the back edge; trim path to start at dep.
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				return append(append([]string(nil), path[start:]...), dep)
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range wf.order {
		if color[id] == white {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// contentHash derives Version from task IDs, dependencies and code
// fingerprints so that logically-equivalent reconstructions compare equal.
func (wf *Workflow) contentHash() string {
	ids := append([]string(nil), wf.order...)
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		node := wf.tasks[id]
		deps := append([]string(nil), node.Dependencies...)
		sort.Strings(deps)
		h.Write([]byte(id))
		h.Write([]byte("\x00"))
		h.Write([]byte(strings.Join(deps, ",")))
		h.Write([]byte("\x00"))
		h.Write([]byte(node.CodeFingerprint))
		h.Write([]byte("\x01"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Task returns the finalized node for id.
func (wf *Workflow) Task(id string) (*TaskNode, bool) {
	t, ok := wf.tasks[id]
	return t, ok
}

// TaskIDs returns every task ID in the workflow, in registration order.
func (wf *Workflow) TaskIDs() []string {
	return append([]string(nil), wf.order...)
}

// Dependents returns the tasks whose Dependencies list includes id.
func (wf *Workflow) Dependents(id string) []string {
	return append([]string(nil), wf.adjFwd[id]...)
}

// Namespace returns the fully-qualified namespace for a local task ID.
func (wf *Workflow) Namespace(localID string) Namespace {
	return Namespace{Tenant: wf.Tenant, Package: wf.Package, Workflow: wf.Name, LocalID: localID}
}
