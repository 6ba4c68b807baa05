package factory

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
	"github.com/wehubfusion/treeview/pkg/hds"
)

const (
	typeBranch datanode.NodeType = "branch"
	typeLeaf   datanode.NodeType = "leaf"
	typeNested datanode.NodeType = "nested"
)

type testNode struct {
	datanode.BaseNode
}

func newTestNode(name string, t datanode.NodeType) *testNode {
	return &testNode{BaseNode: datanode.NewBaseNode(name, t, datanode.IconDefault, true)}
}

func always(t datanode.NodeType) datanode.Constructor {
	return datanode.Ctor(func(ctx context.Context, s string) (datanode.Node, error) {
		return newTestNode(s, t), nil
	})
}

// testRegistry holds two node types that accept any string, branch first,
// and a nested type whose children may not be nested.
func testRegistry() *datanode.Registry {
	reg := datanode.NewRegistry()
	reg.Register(datanode.TypeInfo{Type: typeBranch, Constructors: []datanode.Constructor{always(typeBranch)}})
	reg.Register(datanode.TypeInfo{Type: typeLeaf, Constructors: []datanode.Constructor{always(typeLeaf)}})
	reg.Register(datanode.TypeInfo{
		Type: typeNested,
		Constructors: []datanode.Constructor{datanode.Ctor(func(ctx context.Context, n int) (datanode.Node, error) {
			return newTestNode(fmt.Sprint(n), typeNested), nil
		})},
		ChildShuns: []datanode.NodeType{typeNested},
	})
	return reg
}

func newTestFactory(opts ...Option) *Factory {
	return New(append([]Option{WithRegistry(testRegistry()), WithoutSpecialBuilders()}, opts...)...)
}

// stubBuilder is a builder for strings with scripted behaviour.
type stubBuilder struct {
	name    string
	target  datanode.NodeType
	produce datanode.NodeType
	err     error
	panics  bool
	block   bool
}

func (b *stubBuilder) NodeType() datanode.NodeType { return b.target }

func (b *stubBuilder) Suitable(t reflect.Type) bool { return t == reflect.TypeFor[string]() }

func (b *stubBuilder) Build(ctx context.Context, obj any) (datanode.Node, error) {
	switch {
	case b.panics:
		panic("corrupt header")
	case b.block:
		<-ctx.Done()
		return nil, ctx.Err()
	case b.err != nil:
		return nil, b.err
	}
	return newTestNode(obj.(string), b.produce), nil
}

func (b *stubBuilder) String() string { return b.name }

func TestFirstMatchWins(t *testing.T) {
	f := newTestFactory()

	node, err := f.MakeNode(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Equal(t, typeBranch, node.Type())
}

func TestShun(t *testing.T) {
	t.Run("falls back to next builder", func(t *testing.T) {
		f := newTestFactory()
		f.Shun(typeBranch)

		node, err := f.MakeNode(context.Background(), nil, "x")
		require.NoError(t, err)
		assert.Equal(t, typeLeaf, node.Type())
		for _, b := range f.Builders() {
			assert.NotEqual(t, typeBranch, b.NodeType())
		}
	})

	t.Run("rejects shunned results from other builders", func(t *testing.T) {
		f := newTestFactory()
		sneaky := &stubBuilder{name: "sneaky", target: datanode.AnyType, produce: typeBranch}
		f.SetBuilders(append([]datanode.Builder{sneaky}, f.Builders()...))
		f.Shun(typeBranch)

		node, err := f.MakeNode(context.Background(), nil, "x")
		require.NoError(t, err)
		assert.Equal(t, typeLeaf, node.Type())
		assert.Equal(t, int64(1), f.Metrics().Snapshot().Rejections)
	})

	t.Run("exhausts when every result is shunned", func(t *testing.T) {
		f := newTestFactory()
		f.Shun(typeBranch)
		f.Shun(typeLeaf)

		_, err := f.MakeNode(context.Background(), nil, "x")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrDispatchExhausted))
	})
}

func TestPrefer(t *testing.T) {
	f := newTestFactory()
	require.NoError(t, f.Prefer(typeLeaf))

	node, err := f.MakeNode(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Equal(t, typeLeaf, node.Type())

	count := 0
	for _, b := range f.Builders() {
		if b.NodeType() == typeLeaf {
			count++
		}
	}
	assert.Equal(t, 1, count, "prefer must not duplicate builders")

	err = f.Prefer("nonesuch")
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestPreferLiftsShun(t *testing.T) {
	f := newTestFactory()
	f.Shun(typeLeaf)
	require.NoError(t, f.Prefer(typeLeaf))

	node, err := f.MakeNode(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Equal(t, typeLeaf, node.Type())
}

func TestPreferUnavailableType(t *testing.T) {
	f := New(WithCapabilities(Capabilities{HDS: true}))

	err := f.Prefer(datanode.TypeWCS)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	for _, b := range f.Builders() {
		assert.NotEqual(t, datanode.TypeWCS, b.NodeType())
	}
}

func TestDeprecate(t *testing.T) {
	f := newTestFactory()
	require.NoError(t, f.Deprecate(typeBranch))

	node, err := f.MakeNode(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Equal(t, typeLeaf, node.Type())

	// The deprecated type is still made by its own builders as a last resort.
	f.Shun(typeLeaf)
	node, err = f.MakeNode(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Equal(t, typeBranch, node.Type())

	// Other builders may not produce it.
	f.SetBuilders([]datanode.Builder{&stubBuilder{name: "sneaky", produce: typeBranch}})
	_, err = f.MakeNode(context.Background(), nil, "x")
	assert.True(t, errors.Is(err, errors.ErrDispatchExhausted))
}

func TestCopyIsolation(t *testing.T) {
	f := newTestFactory()
	c := f.Copy()
	c.Shun(typeBranch)
	require.NoError(t, c.Prefer(typeNested))

	node, err := f.MakeNode(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Equal(t, typeBranch, node.Type())
	assert.Empty(t, f.Shunned())
	assert.Equal(t, typeBranch, f.Builders()[0].NodeType())

	node, err = c.MakeNode(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Equal(t, typeLeaf, node.Type())
}

func TestExhaustedListsOnlyTriedBuilders(t *testing.T) {
	f := New(WithoutSpecialBuilders(), WithDebug(true))
	obs := hds.NewStruct("OBS", "OBSINFO", hds.NewPrimitive("UT", "_DOUBLE", nil, 1.5))

	node, err := f.MakeNode(context.Background(), nil, obs)
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeHDS, node.Type())

	f.Shun(datanode.TypeHDS)
	_, err = f.MakeNode(context.Background(), nil, obs)
	require.Error(t, err)

	var exhausted *DispatchExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, []string{
		"ndf(hds.Object)",
		"wcs(hds.Object)",
		"ary(hds.Object)",
		"history(hds.Object)",
	}, exhausted.Tried)
	assert.Contains(t, exhausted.Trace, "declined")
	assert.Contains(t, err.Error(), "Tried:\n    ndf(hds.Object)")
}

func TestNoSuitableBuilder(t *testing.T) {
	f := newTestFactory()

	_, err := f.MakeNode(context.Background(), nil, 3.5)
	var exhausted *DispatchExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Empty(t, exhausted.Attempts())
	assert.Equal(t, "float64", exhausted.ObjectType)
}

func TestStreamFallbackWithoutSpecialBuilders(t *testing.T) {
	src := datasource.NewBytesSource("archive.zip", []byte("PK\x03\x04 not really a zip"))
	f := New(WithoutSpecialBuilders())

	node, err := f.MakeNode(context.Background(), nil, src)
	require.NoError(t, err)
	assert.Equal(t, datanode.TypeStream, node.Type())
}

type recordingReporter struct {
	mu     sync.Mutex
	faults []*errors.FaultError
}

func (r *recordingReporter) ReportFault(ctx context.Context, fault *errors.FaultError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, fault)
}

func TestFaultPolicy(t *testing.T) {
	broken := &stubBuilder{name: "broken", target: typeBranch, err: fmt.Errorf("truncated body")}

	t.Run("stop", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		reporter := &recordingReporter{}
		f := newTestFactory(WithLogger(zap.New(core)), WithReporter(reporter))
		f.SetBuilders(append([]datanode.Builder{broken}, f.Builders()...))

		_, err := f.MakeNode(context.Background(), nil, "x")
		require.Error(t, err)
		assert.True(t, errors.IsFault(err))
		assert.False(t, errors.Is(err, errors.ErrDispatchExhausted))

		var fault *errors.FaultError
		require.True(t, errors.As(err, &fault))
		assert.Equal(t, "broken", fault.Builder)

		require.Equal(t, 1, logs.FilterMessage("Builder fault").Len())
		assert.Len(t, reporter.faults, 1)
		assert.Equal(t, int64(1), f.Metrics().Snapshot().Faults)
	})

	t.Run("continue", func(t *testing.T) {
		f := newTestFactory(WithFaultPolicy(FaultContinue))
		f.SetBuilders(append([]datanode.Builder{broken}, f.Builders()...))

		node, err := f.MakeNode(context.Background(), nil, "x")
		require.NoError(t, err)
		assert.Equal(t, typeBranch, node.Type())

		f.SetBuilders([]datanode.Builder{broken})
		_, err = f.MakeNode(context.Background(), nil, "x")
		var exhausted *DispatchExhaustedError
		require.True(t, errors.As(err, &exhausted))
		require.Len(t, exhausted.Faults, 1)
		assert.True(t, errors.IsFault(exhausted.Faults[0]))
	})
}

func TestPanicIsFault(t *testing.T) {
	f := newTestFactory()
	f.SetBuilders(append([]datanode.Builder{&stubBuilder{name: "panicky", panics: true}}, f.Builders()...))

	_, err := f.MakeNode(context.Background(), nil, "x")
	require.Error(t, err)
	assert.True(t, errors.IsFault(err))
	assert.Contains(t, err.Error(), "corrupt header")
}

func TestBuildTimeout(t *testing.T) {
	f := newTestFactory(WithBuildTimeout(20*time.Millisecond), WithFaultPolicy(FaultContinue))
	f.SetBuilders(append([]datanode.Builder{&stubBuilder{name: "slow", block: true}}, f.Builders()...))

	node, err := f.MakeNode(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Equal(t, typeBranch, node.Type())
	assert.Equal(t, int64(1), f.Metrics().Snapshot().Faults)
}

func TestCancelledDispatch(t *testing.T) {
	f := newTestFactory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.MakeNode(ctx, nil, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	assert.False(t, errors.Is(err, errors.ErrDispatchExhausted))
	assert.Equal(t, int64(1), f.Metrics().Snapshot().Cancelled)
}

func TestMakeErrorNodeNeverFails(t *testing.T) {
	f := New()
	ctx := context.Background()

	node := f.MakeErrorNode(ctx, nil, nil)
	assert.Equal(t, datanode.TypeError, node.Type())

	_, err := f.MakeNode(ctx, nil, struct{}{})
	require.Error(t, err)
	node = f.MakeErrorNode(ctx, nil, err)
	assert.Equal(t, datanode.TypeError, node.Type())
	assert.NotNil(t, node.Creator())

	f.Shun(datanode.TypeError)
	node = f.MakeErrorNode(ctx, nil, fmt.Errorf("broken"))
	assert.Equal(t, datanode.TypeError, node.Type())
	assert.Equal(t, "broken", node.Label())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	node = f.MakeErrorNode(cancelled, nil, fmt.Errorf("late"))
	assert.Equal(t, datanode.TypeError, node.Type())
}

func TestMakeChildNode(t *testing.T) {
	f := newTestFactory()

	node := f.MakeChildNode(context.Background(), nil, 2.5)
	require.Equal(t, datanode.TypeError, node.Type())
	assert.Equal(t, "NO_SUCH_DATA", node.Description())
}

func TestProvenance(t *testing.T) {
	f := newTestFactory(WithDebug(true))
	parent := newTestNode("parent", typeLeaf)

	node, err := f.MakeNode(context.Background(), parent, "x")
	require.NoError(t, err)

	c := node.Creator()
	require.NotNil(t, c)
	assert.Same(t, f, c.Factory())
	assert.Equal(t, "branch(string)", c.Builder().String())
	assert.Same(t, parent, c.Parent())
	assert.False(t, c.IsRoot())
	assert.Equal(t, "x", c.Object())
	assert.NotEmpty(t, c.ID())
	assert.Contains(t, c.Trace(), "made branch")

	again, err := f.MakeNode(context.Background(), parent, "x")
	require.NoError(t, err)
	assert.NotEqual(t, c.ID(), again.Creator().ID())
}

func TestChildFactoryShunsOwnType(t *testing.T) {
	f := newTestFactory()

	a, err := f.MakeNode(context.Background(), nil, 1)
	require.NoError(t, err)
	b, err := f.MakeNode(context.Background(), nil, 2)
	require.NoError(t, err)

	child, ok := a.ChildMaker().(*Factory)
	require.True(t, ok)
	assert.NotSame(t, f, child)
	assert.Same(t, child, b.ChildMaker(), "derived factory is cached per type")
	assert.Equal(t, []datanode.NodeType{typeNested}, child.Shunned())

	_, err = child.MakeNode(context.Background(), a, 3)
	assert.True(t, errors.Is(err, errors.ErrDispatchExhausted))

	leaf, err := f.MakeNode(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Same(t, f, leaf.ChildMaker(), "types without child shuns use the factory itself")

	f.Shun(typeLeaf)
	c, err := f.MakeNode(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.NotSame(t, child, c.ChildMaker(), "mutation drops derived factories")
}

func TestNestedNDFBecomesStructure(t *testing.T) {
	data := func() *hds.Element {
		return hds.NewStruct("DATA_ARRAY", "ARRAY", hds.NewPrimitive("DATA", "_REAL", []int{2}, []any{1.0, 2.0}))
	}
	inner := hds.NewStruct("INNER", "NDF", data())
	outer := hds.NewStruct("OUTER", "NDF", data(), inner)
	f := New()

	node, err := f.MakeNode(context.Background(), nil, outer)
	require.NoError(t, err)
	require.Equal(t, datanode.TypeNDF, node.Type())

	kids, err := node.Children(context.Background())
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, datanode.TypeARY, kids[0].Type())
	assert.Equal(t, datanode.TypeHDS, kids[1].Type())
	assert.Equal(t, "INNER", kids[1].Label())
	assert.Same(t, node, kids[1].Creator().Parent())
}

func TestConfigureNode(t *testing.T) {
	f := newTestFactory()
	dir := t.TempDir()
	file := datasource.NewFile(dir + "/notes.txt")
	node := newTestNode("whatever", typeLeaf)

	f.ConfigureNode(node, nil, file)
	assert.Equal(t, "notes.txt", node.Label())
	assert.Equal(t, datasource.NewFile(dir), node.ParentObject())
	assert.Same(t, f, node.ChildMaker())
	require.NotNil(t, node.Creator())
	assert.Nil(t, node.Creator().Builder())
	assert.True(t, node.Creator().IsRoot())
}

func TestFactoryString(t *testing.T) {
	f := newTestFactory()
	assert.Equal(t, "Factory with builders:\n    branch(string)\n    leaf(string)\n    nested(int)", f.String())
}

func TestDefaultBuildersPutRoutersFirst(t *testing.T) {
	f := New()
	names := make([]string, 0)
	for _, b := range f.Builders() {
		names = append(names, b.String())
	}
	require.GreaterOrEqual(t, len(names), 6)
	assert.Equal(t, []string{"special:file", "special:string", "special:source", "special:document", "special:xml"}, names[:5])
	assert.True(t, strings.HasPrefix(names[5], "ndf("))
}

func TestConcurrentDispatch(t *testing.T) {
	f := newTestFactory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%4 == 0 {
				c := f.Copy()
				c.Shun(typeBranch)
				return
			}
			node, err := f.MakeNode(context.Background(), nil, fmt.Sprint(i))
			assert.NoError(t, err)
			assert.Equal(t, typeBranch, node.Type())
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(12), f.Metrics().Snapshot().Successes)
}
