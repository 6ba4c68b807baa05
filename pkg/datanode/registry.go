package datanode

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Subsystem names an optional capability some node types depend on.
type Subsystem string

// Optional subsystems.
const (
	SubsystemHDS Subsystem = "hds"
	SubsystemAST Subsystem = "ast"
)

// Constructor builds a node of one type from inputs assignable to one Go type.
// It is the registered counterpart of a one-argument constructor.
type Constructor struct {
	// Input is the Go type this constructor accepts.
	Input reflect.Type
	// New constructs the node. obj is guaranteed assignable to Input.
	New func(ctx context.Context, obj any) (Node, error)
}

// Accepts reports whether objects of runtime type t can be passed to New.
func (c Constructor) Accepts(t reflect.Type) bool {
	if t == nil || c.Input == nil {
		return false
	}
	return t.AssignableTo(c.Input)
}

// Ctor wraps a typed constructor function.
func Ctor[T any](fn func(ctx context.Context, in T) (Node, error)) Constructor {
	return Constructor{
		Input: reflect.TypeFor[T](),
		New: func(ctx context.Context, obj any) (Node, error) {
			in, ok := obj.(T)
			if !ok {
				return nil, fmt.Errorf("constructor for %s given %T", reflect.TypeFor[T](), obj)
			}
			return fn(ctx, in)
		},
	}
}

// TypeInfo describes one node type to the registry.
type TypeInfo struct {
	// Type is the node type identifier.
	Type NodeType
	// Constructors are tried in order.
	Constructors []Constructor
	// ChildShuns lists types that children of this type must never be.
	ChildShuns []NodeType
	// Requires lists subsystems without which the type is unusable.
	Requires []Subsystem
}

// Registry maps node types to their constructors. Registration order is the
// default priority order.
type Registry struct {
	mu    sync.RWMutex
	order []NodeType
	types map[NodeType]TypeInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[NodeType]TypeInfo),
	}
}

// Register adds a node type. It panics if the type is already registered.
func (r *Registry) Register(info TypeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[info.Type]; exists {
		panic(fmt.Sprintf("node type '%s' already registered", info.Type))
	}
	r.types[info.Type] = info
	r.order = append(r.order, info.Type)
}

// Lookup returns the registration of a node type.
func (r *Registry) Lookup(t NodeType) (TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[t]
	return info, ok
}

// Types returns all registered types in registration order.
func (r *Registry) Types() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, len(r.order))
	copy(out, r.order)
	return out
}

// Available returns the registered types whose required subsystems are all
// present according to has, in registration order.
func (r *Registry) Available(has func(Subsystem) bool) []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, 0, len(r.order))
	for _, t := range r.order {
		ok := true
		for _, sub := range r.types[t].Requires {
			if !has(sub) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, t)
		}
	}
	return out
}

// Count returns the number of registered types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
