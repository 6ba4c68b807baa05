package factory

import (
	"context"
	"fmt"
	"reflect"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// ConstructorBuilder builds nodes of one type through one registered constructor.
type ConstructorBuilder struct {
	nodeType datanode.NodeType
	ctor     datanode.Constructor
}

// NewConstructorBuilder wraps a registered constructor of node type t.
func NewConstructorBuilder(t datanode.NodeType, ctor datanode.Constructor) *ConstructorBuilder {
	return &ConstructorBuilder{nodeType: t, ctor: ctor}
}

// NodeType returns the type the constructor produces.
func (b *ConstructorBuilder) NodeType() datanode.NodeType { return b.nodeType }

// Suitable reports whether the constructor accepts objects of type t.
func (b *ConstructorBuilder) Suitable(t reflect.Type) bool { return b.ctor.Accepts(t) }

// Build runs the constructor.
func (b *ConstructorBuilder) Build(ctx context.Context, obj any) (datanode.Node, error) {
	if !b.Suitable(reflect.TypeOf(obj)) {
		return nil, errors.NoSuchData("%s cannot take %T", b, obj)
	}
	return b.ctor.New(ctx, obj)
}

// String names the node type and input type.
func (b *ConstructorBuilder) String() string {
	return fmt.Sprintf("%s(%s)", b.nodeType, b.ctor.Input)
}

// constructorBuilders returns one builder per registered constructor of t.
func constructorBuilders(reg *datanode.Registry, t datanode.NodeType) []datanode.Builder {
	info, ok := reg.Lookup(t)
	if !ok {
		return nil
	}
	out := make([]datanode.Builder, 0, len(info.Constructors))
	for _, c := range info.Constructors {
		out = append(out, NewConstructorBuilder(t, c))
	}
	return out
}

// Route directs an object, usually transformed, to constructors of the
// listed node types. No types means any constructor that accepts Target.
type Route struct {
	Target any
	Types  []datanode.NodeType
}

// Router is a builder that does not construct nodes itself but works out
// which constructors should be tried, and on what. The factory resolves
// routes against its own builder list, so shunned types stay shunned.
type Router interface {
	datanode.Builder
	Route(ctx context.Context, obj any) ([]Route, error)
}

// RouteFunc computes the routes for an object. It reports objects it does
// not recognise with errors.NoSuchData.
type RouteFunc func(ctx context.Context, obj any) ([]Route, error)

// RouteBuilder is a Router for objects assignable to one of a set of types.
type RouteBuilder struct {
	name   string
	inputs []reflect.Type
	route  RouteFunc
	reg    *datanode.Registry
}

// NewRouteBuilder creates a router. reg supplies constructors when Build is
// called outside a factory.
func NewRouteBuilder(name string, reg *datanode.Registry, route RouteFunc, inputs ...reflect.Type) *RouteBuilder {
	return &RouteBuilder{name: name, inputs: inputs, route: route, reg: reg}
}

// NodeType returns AnyType; the produced type depends on the object.
func (b *RouteBuilder) NodeType() datanode.NodeType { return datanode.AnyType }

// Suitable reports whether t is assignable to one of the input types.
func (b *RouteBuilder) Suitable(t reflect.Type) bool {
	if t == nil {
		return false
	}
	for _, in := range b.inputs {
		if t.AssignableTo(in) {
			return true
		}
	}
	return false
}

// Route computes the routes for obj.
func (b *RouteBuilder) Route(ctx context.Context, obj any) ([]Route, error) {
	return b.route(ctx, obj)
}

// Build routes obj through every registered constructor.
func (b *RouteBuilder) Build(ctx context.Context, obj any) (datanode.Node, error) {
	return buildStandalone(ctx, b, b.reg, obj)
}

// String names the router.
func (b *RouteBuilder) String() string {
	return "special:" + b.name
}

// buildStandalone follows a router's routes through all constructors of reg.
func buildStandalone(ctx context.Context, r Router, reg *datanode.Registry, obj any) (datanode.Node, error) {
	if !r.Suitable(reflect.TypeOf(obj)) {
		return nil, errors.NoSuchData("%s cannot take %T", r, obj)
	}
	routes, err := r.Route(ctx, obj)
	if err != nil {
		return nil, err
	}
	var all []datanode.Builder
	for _, t := range reg.Types() {
		all = append(all, constructorBuilders(reg, t)...)
	}
	return followRoutes(ctx, r, routes, all)
}

// followRoutes tries, for each route in turn, the constructor builders in
// candidates that the route wants and that accept its target. Wanted types
// are tried in the order the route lists them. The first success wins; a
// fault ends the search.
func followRoutes(ctx context.Context, r Router, routes []Route, candidates []datanode.Builder) (datanode.Node, error) {
	for _, route := range routes {
		for _, cb := range route.builders(candidates) {
			if err := ctx.Err(); err != nil {
				return nil, errors.Cancelled(err)
			}
			node, err := cb.Build(ctx, route.Target)
			if err == nil && node != nil {
				return node, nil
			}
			if err != nil && !errors.IsNoSuchData(err) {
				return nil, fmt.Errorf("%s via %s: %w", r, cb, err)
			}
		}
	}
	return nil, errors.NoSuchData("%s found no constructor for its routes", r)
}

// builders selects the constructor builders for the route from candidates,
// keeping candidate order within each wanted type.
func (r Route) builders(candidates []datanode.Builder) []*ConstructorBuilder {
	t := reflect.TypeOf(r.Target)
	pick := func(want func(datanode.NodeType) bool) []*ConstructorBuilder {
		var out []*ConstructorBuilder
		for _, b := range candidates {
			cb, ok := b.(*ConstructorBuilder)
			if ok && want(cb.NodeType()) && cb.Suitable(t) {
				out = append(out, cb)
			}
		}
		return out
	}
	if len(r.Types) == 0 {
		return pick(func(datanode.NodeType) bool { return true })
	}
	var out []*ConstructorBuilder
	for _, nt := range r.Types {
		out = append(out, pick(func(t datanode.NodeType) bool { return t == nt })...)
	}
	return out
}
