// Package pipelinectx implements the JSON-serializable key-value map threaded
// through a pipeline execution.
package pipelinectx

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// ErrKeyExists is returned by Insert when the key is already present.
var ErrKeyExists = errors.New("context: key already exists")

// ErrKeyNotFound is returned by Update and Remove when the key is absent.
var ErrKeyNotFound = errors.New("context: key not found")

// Context is a mapping from string keys to structured JSON values; ToJSON
// writes keys in sorted order, so the serialized form is stable for a given
// mapping. It is single-writer at runtime: one task mutates a Context at a time, but
// concurrent reads of a snapshot (via Clone) are always safe.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// New returns an empty Context.
func New() *Context {
	return &Context{values: make(map[string]any)}
}

// Insert adds a new key. It fails with ErrKeyExists if the key is present.
func (c *Context) Insert(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return errors.Wrapf(ErrKeyExists, "key %q", key)
	}
	c.values[key] = value
	return nil
}

// Update replaces an existing key's value. It fails with ErrKeyNotFound if
// the key is absent.
func (c *Context) Update(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		return errors.Wrapf(ErrKeyNotFound, "key %q", key)
	}
	c.values[key] = value
	return nil
}

// Set is insert-or-update: it never fails on presence.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns the value for key and whether it was present.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Remove deletes key and returns its prior value. It fails with
// ErrKeyNotFound if the key is absent.
func (c *Context) Remove(key string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return nil, errors.Wrapf(ErrKeyNotFound, "key %q", key)
	}
	delete(c.values, key)
	return v, nil
}

// Keys returns the set of keys currently present. Order is not part of the
// contract and callers must not rely on it.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of keys in the Context.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Clone returns a shallow, independent snapshot of the Context suitable for
// handing to a concurrent observer or a task about to run.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make(map[string]any, len(c.values))
	for k, v := range c.values {
		cp[k] = v
	}
	return &Context{values: cp}
}

// ToJSON serializes the whole map to a single JSON object.
func (c *Context) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := json.Marshal(c.values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal context")
	}
	return b, nil
}

// FromJSON parses a single JSON object into a new Context.
func FromJSON(data []byte) (*Context, error) {
	if len(data) == 0 {
		return New(), nil
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal context")
	}
	if values == nil {
		values = make(map[string]any)
	}
	return &Context{values: values}, nil
}

// Equal reports whether two Contexts serialize to the same JSON object,
// independent of key insertion order.
func (c *Context) Equal(other *Context) bool {
	if other == nil {
		return false
	}
	a, err := c.ToJSON()
	if err != nil {
		return false
	}
	b, err := other.ToJSON()
	if err != nil {
		return false
	}
	var am, bm map[string]any
	if err := json.Unmarshal(a, &am); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bm); err != nil {
		return false
	}
	ab, _ := json.Marshal(am)
	bb, _ := json.Marshal(bm)
	return string(ab) == string(bb)
}
