package walk

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/treeview/pkg/concurrency"
	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/errors"
	"github.com/wehubfusion/treeview/pkg/factory"
)

// treeNode is a node whose children are fixed, optionally slow to list.
type treeNode struct {
	datanode.BaseNode
	kids  []datanode.Node
	delay time.Duration
}

func branch(name string, kids ...datanode.Node) *treeNode {
	return &treeNode{BaseNode: datanode.NewBaseNode(name, "branch", datanode.IconFolder, true), kids: kids}
}

func leaf(name string) *treeNode {
	return &treeNode{BaseNode: datanode.NewBaseNode(name, "leaf", datanode.IconDefault, false)}
}

func (n *treeNode) Children(ctx context.Context) ([]datanode.Node, error) {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return nil, errors.Cancelled(ctx.Err())
		}
	}
	return n.kids, nil
}

func sampleTree() datanode.Node {
	return branch("root",
		branch("a", leaf("a1"), leaf("a2")),
		leaf("b"),
		branch("c", branch("c1", leaf("deep"))),
	)
}

func TestWalkDepth(t *testing.T) {
	tests := []struct {
		depth int
		nodes int
	}{
		{0, 1},
		{1, 4},
		{2, 7},
		{5, 8},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.depth), func(t *testing.T) {
			snap, err := New().Walk(context.Background(), []datanode.Node{sampleTree()}, tt.depth)
			require.NoError(t, err)
			assert.Equal(t, tt.nodes, snap.Nodes)
		})
	}
}

func TestWalkKeepsChildOrder(t *testing.T) {
	var kids []datanode.Node
	var want []string
	for i := range 20 {
		n := leaf(fmt.Sprintf("n%02d", i))
		n.delay = time.Duration(20-i) * time.Millisecond
		n.BaseNode = datanode.NewBaseNode(n.Name(), "leaf", datanode.IconDefault, true)
		kids = append(kids, n)
		want = append(want, "root/"+n.Name())
	}
	snap, err := New(WithLimiter(concurrency.NewLimiter(8))).Walk(context.Background(), []datanode.Node{branch("root", kids...)}, 2)
	require.NoError(t, err)

	var got []string
	for _, e := range snap.Roots[0].Children {
		got = append(got, e.Path)
	}
	assert.Equal(t, want, got)
}

func TestWalkCancelled(t *testing.T) {
	slow := branch("slow", leaf("x"))
	slow.delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New().Walk(ctx, []datanode.Node{branch("root", slow)}, 3)
	require.Error(t, err)
	assert.True(t, errors.IsCancelled(err))
}

type recordingSink struct {
	mu    sync.Mutex
	paths []string
	fail  string
}

func (s *recordingSink) Emit(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Path == s.fail {
		return fmt.Errorf("sink rejected %s", e.Path)
	}
	s.paths = append(s.paths, e.Path)
	return nil
}

func TestWalkSink(t *testing.T) {
	sink := &recordingSink{}
	_, err := New(WithSink(sink)).Walk(context.Background(), []datanode.Node{sampleTree()}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "root/a", "root/b", "root/c"}, sink.paths)

	failing := &recordingSink{fail: "root/b"}
	_, err = New(WithSink(failing)).Walk(context.Background(), []datanode.Node{sampleTree()}, 1)
	assert.ErrorContains(t, err, "sink rejected root/b")
}

func TestRender(t *testing.T) {
	snap, err := New().Walk(context.Background(), []datanode.Node{sampleTree()}, 1)
	require.NoError(t, err)

	var text bytes.Buffer
	require.NoError(t, Render(&text, snap, "text"))
	assert.Equal(t, strings.Join([]string{
		"- root  [branch]",
		"    + a  [branch]",
		"      b  [leaf]",
		"    + c  [branch]",
		"",
	}, "\n"), text.String())

	var js bytes.Buffer
	require.NoError(t, Render(&js, snap, "json"))
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "root/c", decoded.Roots[0].Children[2].Path)

	var ym bytes.Buffer
	require.NoError(t, Render(&ym, snap, "yaml"))
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &generic))
	assert.Equal(t, 4, generic["nodes"])

	assert.Error(t, Render(&text, snap, "xml"))
}

func TestWalkFactoryTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "notes.txt"), []byte("notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cat.xml"), []byte(`<VOTABLE><RESOURCE name="r"/></VOTABLE>`), 0o644))

	root, err := factory.New().MakeNode(context.Background(), nil, dir)
	require.NoError(t, err)

	snap, err := New(WithDetails(true)).Walk(context.Background(), []datanode.Node{root}, 3)
	require.NoError(t, err)

	types := map[string]datanode.NodeType{}
	require.NoError(t, snap.Visit(func(e *Entry) error {
		types[strings.TrimPrefix(e.Path, filepath.Base(dir)+"/")] = e.Type
		return nil
	}))
	assert.Equal(t, datanode.TypeDirectory, types["sub"])
	assert.Equal(t, datanode.TypeFile, types["sub/notes.txt"])
	assert.Equal(t, datanode.TypeVOTable, types["cat.xml"])
	assert.Equal(t, datanode.TypeVOComponent, types["cat.xml/r"])
	assert.NotEmpty(t, snap.Roots[0].Details)
}

// panickyNode panics when described or listed.
type panickyNode struct {
	treeNode
	inDescription bool
}

func (n *panickyNode) Description() string {
	if n.inDescription {
		panic("corrupt header")
	}
	return ""
}

func (n *panickyNode) Children(ctx context.Context) ([]datanode.Node, error) {
	panic("makeslice: cap out of range")
}

func panicky(name string, inDescription bool) *panickyNode {
	return &panickyNode{
		treeNode:      treeNode{BaseNode: datanode.NewBaseNode(name, "branch", datanode.IconFolder, true)},
		inDescription: inDescription,
	}
}

func TestWalkRecoversPanics(t *testing.T) {
	listing := panicky("listing", false)
	describing := panicky("describing", true)
	withMaker := panicky("made", false)
	withMaker.SetChildMaker(factory.New())

	root := branch("root", listing, describing, withMaker, leaf("ok"))
	var snap *Snapshot
	var err error
	require.NotPanics(t, func() {
		snap, err = New().Walk(context.Background(), []datanode.Node{root}, 3)
	})
	require.NoError(t, err)

	kids := snap.Roots[0].Children
	require.Len(t, kids, 4)

	require.Len(t, kids[0].Children, 1)
	assert.Equal(t, datanode.TypeError, kids[0].Children[0].Type)
	assert.Contains(t, kids[0].Children[0].Description, "makeslice")

	assert.Equal(t, datanode.TypeError, kids[1].Type)
	assert.Contains(t, kids[1].Description, "corrupt header")
	assert.Empty(t, kids[1].Children)

	require.Len(t, kids[2].Children, 1)
	assert.Equal(t, datanode.TypeError, kids[2].Children[0].Type)

	assert.Equal(t, "root/ok", kids[3].Path)
	assert.Equal(t, datanode.NodeType("leaf"), kids[3].Type)
}
