package workflow

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Namespace identifies a task uniquely across the whole engine:
// tenant::package::workflow::local_id.
type Namespace struct {
	Tenant   string
	Package  string
	Workflow string
	LocalID  string
}

func (n Namespace) String() string {
	return fmt.Sprintf("%s::%s::%s::%s", n.Tenant, n.Package, n.Workflow, n.LocalID)
}

// ConstructorRegistry is the process-wide, read-mostly table of task
// constructors. It is populated during
// start-up and package load and is safe for concurrent reads during
// execution; writes are rare (registration, package admission).
type ConstructorRegistry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewConstructorRegistry returns an empty registry. Callers normally hold a
// single process-wide instance and pass it by interface to every
// collaborator that needs to register or resolve tasks, rather than reach
// for an ambient singleton.
func NewConstructorRegistry() *ConstructorRegistry {
	return &ConstructorRegistry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under namespace. It fails if the namespace is
// already registered — namespaces are process-lifetime once bound.
func (r *ConstructorRegistry) Register(ns Namespace, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ns.String()
	if _, ok := r.constructors[key]; ok {
		return errors.Wrapf(ErrDuplicateTask, "namespace %q", key)
	}
	r.constructors[key] = ctor
	return nil
}

// Unregister removes a namespace's constructor, used when a package is
// unloaded by the reconciler.
func (r *ConstructorRegistry) Unregister(ns Namespace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.constructors, ns.String())
}

// Resolve returns the constructor registered under namespace.
func (r *ConstructorRegistry) Resolve(ns Namespace) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.constructors[ns.String()]
	return ctor, ok
}

// Namespaces returns every namespace currently registered, for diagnostics
// and for the package reconciler to compare against the persisted registry.
func (r *ConstructorRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		out = append(out, k)
	}
	return out
}
