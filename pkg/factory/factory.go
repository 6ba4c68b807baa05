// Package factory turns arbitrary objects into data nodes.
//
// A Factory holds an ordered list of builders. MakeNode offers the object to
// each suitable builder in turn and returns the first node produced whose type
// the factory has not shunned. Builders report objects they cannot represent
// with errors.NoSuchData; any other error is a fault and is handled according
// to the factory's FaultPolicy.
//
// Factories are safe for concurrent use. Copy gives an independent factory
// whose builder list and shunning rules can be changed without affecting the
// original.
package factory

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// typeSet is replaced rather than modified once shared.
type typeSet map[datanode.NodeType]struct{}

func (s typeSet) with(t datanode.NodeType) typeSet {
	out := maps.Clone(s)
	if out == nil {
		out = typeSet{}
	}
	out[t] = struct{}{}
	return out
}

func (s typeSet) without(t datanode.NodeType) typeSet {
	if _, ok := s[t]; !ok {
		return s
	}
	out := maps.Clone(s)
	delete(out, t)
	return out
}

func (s typeSet) has(t datanode.NodeType) bool {
	_, ok := s[t]
	return ok
}

// Factory makes data nodes using an ordered list of builders.
type Factory struct {
	cfg *settings

	mu         sync.RWMutex
	builders   []datanode.Builder
	shunned    typeSet
	deprecated typeSet
	debug      bool
	derived    map[datanode.NodeType]*Factory
	gen        uint64
}

// New creates a factory with the default builder list: the routing builders,
// then one builder per registered constructor in registry order, leaving out
// types whose subsystems are unavailable.
func New(opts ...Option) *Factory {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(cfg)
	}
	f := &Factory{
		cfg:        cfg,
		shunned:    typeSet{},
		deprecated: typeSet{},
		debug:      cfg.debug,
	}
	f.builders = f.defaultBuilders()
	return f
}

func (f *Factory) defaultBuilders() []datanode.Builder {
	var out []datanode.Builder
	if f.cfg.specials {
		out = append(out, specialBuilders(f.cfg)...)
	}
	for _, t := range f.cfg.registry.Available(f.cfg.caps.Has) {
		bs := constructorBuilders(f.cfg.registry, t)
		if len(bs) == 0 {
			f.cfg.logger.Warn("Node type has no constructors", zap.String("type", string(t)))
			continue
		}
		out = append(out, bs...)
	}
	return out
}

// Copy returns an independent factory with the same builders and rules.
// Builders, registry, logger and metrics are shared.
func (f *Factory) Copy() *Factory {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &Factory{
		cfg:        f.cfg,
		builders:   slices.Clone(f.builders),
		shunned:    f.shunned,
		deprecated: f.deprecated,
		debug:      f.debug,
	}
}

// changed drops the derived child factories. The caller holds f.mu.
func (f *Factory) changed() {
	f.derived = nil
	f.gen++
}

// Shun removes every builder targeting t and makes the factory reject any
// node of type t, whichever builder produced it.
func (f *Factory) Shun(t datanode.NodeType) {
	if t == datanode.AnyType {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders = slices.DeleteFunc(slices.Clone(f.builders), func(b datanode.Builder) bool {
		return b.NodeType() == t
	})
	f.shunned = f.shunned.with(t)
	f.changed()
}

// Prefer moves the constructors of t to the front of the builder list so
// that t gets first refusal on any object it can take. Any shun or
// deprecation of t is lifted.
func (f *Factory) Prefer(t datanode.NodeType) error {
	fresh, err := f.constructorsOf(t)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rest := slices.DeleteFunc(slices.Clone(f.builders), isConstructorOf(t))
	f.builders = append(fresh, rest...)
	f.shunned = f.shunned.without(t)
	f.deprecated = f.deprecated.without(t)
	f.changed()
	return nil
}

// Deprecate moves the constructors of t to the end of the builder list and
// rejects nodes of type t produced by builders not targeting t, so that t is
// chosen only when nothing else can represent the object.
func (f *Factory) Deprecate(t datanode.NodeType) error {
	fresh, err := f.constructorsOf(t)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rest := slices.DeleteFunc(slices.Clone(f.builders), isConstructorOf(t))
	if !f.shunned.has(t) {
		rest = append(rest, fresh...)
	}
	f.builders = rest
	f.deprecated = f.deprecated.with(t)
	f.changed()
	return nil
}

func (f *Factory) constructorsOf(t datanode.NodeType) ([]datanode.Builder, error) {
	info, ok := f.cfg.registry.Lookup(t)
	if !ok {
		return nil, fmt.Errorf("%w: node type %q is not registered", errors.ErrInvalidConfig, t)
	}
	for _, sub := range info.Requires {
		if !f.cfg.caps.Has(sub) {
			return nil, fmt.Errorf("%w: node type %q needs %s", errors.ErrUnavailable, t, sub)
		}
	}
	return constructorBuilders(f.cfg.registry, t), nil
}

func isConstructorOf(t datanode.NodeType) func(datanode.Builder) bool {
	return func(b datanode.Builder) bool {
		cb, ok := b.(*ConstructorBuilder)
		return ok && cb.NodeType() == t
	}
}

// Builders returns a copy of the builder list in priority order.
func (f *Factory) Builders() []datanode.Builder {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.builders)
}

// SetBuilders replaces the builder list.
func (f *Factory) SetBuilders(builders []datanode.Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders = slices.Clone(builders)
	f.changed()
}

// Shunned returns the shunned types in no particular order.
func (f *Factory) Shunned() []datanode.NodeType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Collect(maps.Keys(f.shunned))
}

// Debug reports whether dispatch tracing is on.
func (f *Factory) Debug() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.debug
}

// Metrics returns the dispatch counters shared by this factory and its copies.
func (f *Factory) Metrics() *Metrics {
	return f.cfg.metrics
}

// String lists the builders in priority order.
func (f *Factory) String() string {
	var b strings.Builder
	b.WriteString("Factory with builders:")
	for _, bld := range f.Builders() {
		b.WriteString("\n    ")
		b.WriteString(bld.String())
	}
	return b.String()
}

// state is a consistent view of the mutable parts of a factory.
type state struct {
	builders   []datanode.Builder
	shunned    typeSet
	deprecated typeSet
	debug      bool
}

// rejects reports why a node of type nt made by b may not be used: "shunned"
// or "deprecated". Deprecated types are only accepted from their own builders.
func (s state) rejects(b datanode.Builder, nt datanode.NodeType) string {
	switch {
	case s.shunned.has(nt):
		return "shunned"
	case s.deprecated.has(nt) && b.NodeType() != nt:
		return "deprecated"
	}
	return ""
}

// snapshot returns the current state. Mutations replace the builder slice
// and type sets rather than writing into them, so the snapshot stays valid.
func (f *Factory) snapshot() state {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return state{
		builders:   f.builders,
		shunned:    f.shunned,
		deprecated: f.deprecated,
		debug:      f.debug,
	}
}

// childFactory returns the factory that nodes of type t use for their
// children: this factory with the type's child shuns applied. Derived
// factories are built once per type and dropped when this factory changes.
func (f *Factory) childFactory(t datanode.NodeType) *Factory {
	info, ok := f.cfg.registry.Lookup(t)
	if !ok || len(info.ChildShuns) == 0 {
		return f
	}
	f.mu.RLock()
	child, cached := f.derived[t]
	gen := f.gen
	f.mu.RUnlock()
	if cached {
		return child
	}

	child = f.Copy()
	for _, shun := range info.ChildShuns {
		child.Shun(shun)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.derived[t]; ok {
		return existing
	}
	if f.gen != gen {
		return child
	}
	if f.derived == nil {
		f.derived = make(map[datanode.NodeType]*Factory)
	}
	f.derived[t] = child
	return child
}
