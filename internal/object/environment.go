package object

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var nextID atomic.Uint64

// Environment is a lexically scoped binding table. Every task runs in its
// own enclosed environment so concurrent iterations never share a scope.
type Environment struct {
	ID       uint64
	Bindings map[string]*Binding
	Outer    *Environment

	mu sync.RWMutex
}

type Binding struct {
	Value     Object
	IsMutable bool
}

func nextEnvID() uint64 {
	return nextID.Add(1)
}

func NewEnvironment() *Environment {
	return &Environment{
		ID:       nextEnvID(),
		Bindings: make(map[string]*Binding),
	}
}

// NewEnclosedEnvironment initializes a child scope with the given parent.
func NewEnclosedEnvironment(outer *Environment) *Environment {
	env := NewEnvironment()
	env.Outer = outer
	return env
}

// Define creates a binding in this environment. Redefining a name in the
// same scope is an error; shadowing an outer binding is not.
func (e *Environment) Define(name string, value Object, mutable bool) (Object, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.Bindings[name]; ok {
		return nil, fmt.Errorf("identifier %q already defined in this scope", name)
	}
	e.Bindings[name] = &Binding{Value: value, IsMutable: mutable}
	return value, nil
}

// Assign updates an existing mutable binding, walking outer scopes.
func (e *Environment) Assign(name string, value Object) (Object, error) {
	e.mu.Lock()
	binding, ok := e.Bindings[name]
	if ok {
		if !binding.IsMutable {
			e.mu.Unlock()
			return nil, fmt.Errorf("cannot assign to immutable binding %q", name)
		}
		binding.Value = value
		e.mu.Unlock()
		return value, nil
	}
	e.mu.Unlock()

	if e.Outer != nil {
		return e.Outer.Assign(name, value)
	}
	return nil, fmt.Errorf("identifier not found: %s", name)
}

// Get resolves a name, walking outer scopes.
func (e *Environment) Get(name string) (Object, bool) {
	e.mu.RLock()
	binding, ok := e.Bindings[name]
	e.mu.RUnlock()

	if ok {
		return binding.Value, true
	}
	if e.Outer != nil {
		return e.Outer.Get(name)
	}
	return nil, false
}

// ShallowCopy snapshots the local bindings into a new environment that
// shares the outer chain. Spawned tasks capture their view of the enclosing
// scope this way so later mutation by the parent does not race the task.
func (e *Environment) ShallowCopy() *Environment {
	e.mu.RLock()
	defer e.mu.RUnlock()

	newEnv := &Environment{
		ID:       nextEnvID(),
		Bindings: make(map[string]*Binding, len(e.Bindings)),
		Outer:    e.Outer,
	}
	for k, v := range e.Bindings {
		newEnv.Bindings[k] = v
	}
	return newEnv
}
