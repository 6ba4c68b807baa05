package datanode

import (
	"context"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// UnnamedLabel is the label given to nodes with an empty name.
const UnnamedLabel = "<unnamed>"

// BaseNode provides the identity, provenance and child-caching parts of a Node.
// Embed it in concrete node implementations.
type BaseNode struct {
	name        string
	label       string
	nodeType    NodeType
	icon        Icon
	parentObj   any
	creator     *CreationState
	childMaker  Maker
	allowsChild bool

	mu       sync.Mutex
	children []Node
	cached   bool
}

// NewBaseNode creates a base node. The label defaults to the name.
func NewBaseNode(name string, nodeType NodeType, icon Icon, allowsChildren bool) BaseNode {
	name = norm.NFC.String(name)
	label := name
	if label == "" {
		label = UnnamedLabel
	}
	return BaseNode{
		name:        name,
		label:       label,
		nodeType:    nodeType,
		icon:        icon,
		allowsChild: allowsChildren,
	}
}

// Name returns the node name.
func (n *BaseNode) Name() string {
	return n.name
}

// Label returns the node label.
func (n *BaseNode) Label() string {
	return n.label
}

// SetLabel sets the node label. An empty label is ignored.
func (n *BaseNode) SetLabel(label string) {
	if label == "" {
		return
	}
	n.label = norm.NFC.String(label)
}

// Type returns the node type.
func (n *BaseNode) Type() NodeType {
	return n.nodeType
}

// Icon returns the node icon.
func (n *BaseNode) Icon() Icon {
	return n.icon
}

// Description returns an empty description.
func (n *BaseNode) Description() string {
	return ""
}

// Details returns no details.
func (n *BaseNode) Details() []Detail {
	return nil
}

// AllowsChildren reports whether the node may have children.
func (n *BaseNode) AllowsChildren() bool {
	return n.allowsChild
}

// Children returns no children. Node types with children override it,
// typically by delegating to CachedChildren.
func (n *BaseNode) Children(ctx context.Context) ([]Node, error) {
	return nil, nil
}

// ParentObject returns the parent reconstruction handle.
func (n *BaseNode) ParentObject() any {
	return n.parentObj
}

// SetParentObject sets the parent reconstruction handle.
func (n *BaseNode) SetParentObject(obj any) {
	n.parentObj = obj
}

// Creator returns the provenance record.
func (n *BaseNode) Creator() *CreationState {
	return n.creator
}

// SetCreator sets the provenance record.
func (n *BaseNode) SetCreator(state *CreationState) {
	n.creator = state
}

// ChildMaker returns the maker for children.
func (n *BaseNode) ChildMaker() Maker {
	return n.childMaker
}

// SetChildMaker sets the maker for children.
func (n *BaseNode) SetChildMaker(maker Maker) {
	n.childMaker = maker
}

// CachedChildren returns the cached children, calling list on first use.
// Results are cached once list completes; an enumeration cut short by ctx is
// not cached and its error is returned.
func (n *BaseNode) CachedChildren(ctx context.Context, list func(ctx context.Context) ([]Node, error)) ([]Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cached {
		return n.children, nil
	}
	kids, err := list(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.children = kids
	n.cached = true
	return kids, nil
}
