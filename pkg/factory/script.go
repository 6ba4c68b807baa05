package factory

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
	"github.com/wehubfusion/treeview/pkg/nodes"
)

// scriptMagicSize is the number of leading bytes passed to sniffer scripts.
const scriptMagicSize = 64

// DefaultScriptTimeout bounds a single sniffer call.
const DefaultScriptTimeout = 250 * time.Millisecond

// ScriptBuilder routes files and data sources to the node type named by a
// JavaScript sniffer. The script must define
//
//	function sniff(name, magic) { ... }
//
// where magic is an array of up to 64 leading byte values. It returns a node
// type name such as "fits", or null when it does not recognise the data.
type ScriptBuilder struct {
	name    string
	timeout time.Duration
	engine  *scriptEngine
	reg     *datanode.Registry
}

// scriptEngine is a sandboxed runtime. goja runtimes are not safe for
// concurrent use, so calls are serialised.
type scriptEngine struct {
	mu    sync.Mutex
	vm    *goja.Runtime
	sniff goja.Callable
}

// NewScriptBuilder compiles and loads a sniffer script. A timeout of zero
// uses DefaultScriptTimeout.
func NewScriptBuilder(name, source string, timeout time.Duration) (*ScriptBuilder, error) {
	if name == "" {
		return nil, errors.New("script name cannot be empty")
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	program, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("compile sniffer %s: %w", name, err)
	}

	vm := goja.New()
	if err := sandbox(vm); err != nil {
		return nil, fmt.Errorf("sandbox sniffer %s: %w", name, err)
	}
	release := interruptAfter(context.Background(), vm, timeout, "sniffer load timed out")
	_, err = vm.RunProgram(program)
	release()
	if err != nil {
		return nil, fmt.Errorf("load sniffer %s: %w", name, err)
	}

	fn, ok := goja.AssertFunction(vm.Get("sniff"))
	if !ok {
		return nil, fmt.Errorf("sniffer %s does not define a sniff function", name)
	}
	return &ScriptBuilder{
		name:    name,
		timeout: timeout,
		engine:  &scriptEngine{vm: vm, sniff: fn},
		reg:     nodes.DefaultRegistry(),
	}, nil
}

// withRegistry returns a builder sharing the runtime but validating type
// names against reg.
func (b *ScriptBuilder) withRegistry(reg *datanode.Registry) *ScriptBuilder {
	return &ScriptBuilder{name: b.name, timeout: b.timeout, engine: b.engine, reg: reg}
}

// NodeType returns AnyType; the script chooses the type.
func (b *ScriptBuilder) NodeType() datanode.NodeType { return datanode.AnyType }

// Suitable accepts files and data sources.
func (b *ScriptBuilder) Suitable(t reflect.Type) bool {
	if t == nil {
		return false
	}
	return t.AssignableTo(reflect.TypeFor[datasource.File]()) ||
		t.AssignableTo(reflect.TypeFor[datasource.DataSource]())
}

// Route asks the script for a node type.
func (b *ScriptBuilder) Route(ctx context.Context, obj any) ([]Route, error) {
	var src datasource.DataSource
	var file *datasource.File
	switch v := obj.(type) {
	case datasource.File:
		if v.IsDir() {
			return nil, errors.NoSuchData("%s is a directory", v.Path)
		}
		src = v.Source()
		file = &v
	case datasource.DataSource:
		src = v
	default:
		return nil, errors.NoSuchData("%s cannot take %T", b, obj)
	}

	magic, err := src.Magic(ctx, scriptMagicSize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.Location(), err)
	}
	name, err := b.engine.call(ctx, b.timeout, src.Name(), magic)
	if err != nil {
		return nil, fmt.Errorf("sniffer %s: %w", b.name, err)
	}
	if name == "" {
		return nil, errors.NoSuchData("sniffer %s does not recognise %s", b.name, src.Name())
	}
	t := datanode.NodeType(name)
	if _, ok := b.reg.Lookup(t); !ok {
		return nil, fmt.Errorf("sniffer %s returned unknown node type %q", b.name, name)
	}
	routes := []Route{{Target: src, Types: types(t)}}
	if file != nil {
		routes = append([]Route{{Target: *file, Types: types(t)}}, routes...)
	}
	return routes, nil
}

// Build routes obj through every registered constructor.
func (b *ScriptBuilder) Build(ctx context.Context, obj any) (datanode.Node, error) {
	return buildStandalone(ctx, b, b.reg, obj)
}

// String names the script.
func (b *ScriptBuilder) String() string {
	return "script:" + b.name
}

// call runs sniff(name, magic). An empty result means no match.
func (e *scriptEngine) call(ctx context.Context, timeout time.Duration, name string, magic []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Cancelled(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	defer interruptAfter(ctx, e.vm, timeout, "sniffer timed out")()

	values := make([]any, len(magic))
	for i, c := range magic {
		values[i] = int64(c)
	}
	res, err := e.sniff(goja.Undefined(), e.vm.ToValue(name), e.vm.ToValue(values))
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Cancelled(ctx.Err())
		}
		return "", err
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return "", nil
	}
	return res.String(), nil
}

// interruptAfter interrupts vm once timeout elapses or ctx is done. The
// returned release func disarms both triggers and clears any interrupt; once
// it returns no late trigger can reach vm.
func interruptAfter(ctx context.Context, vm *goja.Runtime, timeout time.Duration, reason string) func() {
	var mu sync.Mutex
	released := false
	interrupt := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		if !released {
			vm.Interrupt(v)
		}
	}
	timer := time.AfterFunc(timeout, func() { interrupt(reason) })
	stop := context.AfterFunc(ctx, func() { interrupt(ctx.Err()) })
	return func() {
		timer.Stop()
		stop()
		mu.Lock()
		released = true
		mu.Unlock()
		vm.ClearInterrupt()
	}
}
