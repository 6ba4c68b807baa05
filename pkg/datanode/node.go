// Package datanode defines the node model of the treeview: the Node capability
// interface, the Builder and Maker contracts used to construct nodes, the
// provenance record attached to every constructed node, and the static
// registry through which node types declare the inputs they can be built from.
package datanode

import (
	"context"
	"reflect"
)

// NodeType identifies a concrete kind of node. Shunning and preference operate
// on exact NodeType equality.
type NodeType string

// AnyType is the target type of builders whose output type is not fixed.
const AnyType NodeType = ""

// Node type identifiers.
const (
	TypeNDF          NodeType = "ndf"
	TypeARY          NodeType = "ary"
	TypeWCS          NodeType = "wcs"
	TypeHistory      NodeType = "history"
	TypeHDS          NodeType = "hds"
	TypeFITS         NodeType = "fits"
	TypeHDU          NodeType = "hdu"
	TypeNDX          NodeType = "ndx"
	TypeVOTable      NodeType = "votable"
	TypeVOComponent  NodeType = "vocomponent"
	TypeVOTableTable NodeType = "votabletable"
	TypeZip          NodeType = "zip"
	TypeZipBranch    NodeType = "zipbranch"
	TypeTar          NodeType = "tar"
	TypeCompressed   NodeType = "compressed"
	TypeDocument     NodeType = "document"
	TypeXML          NodeType = "xml"
	TypeStream       NodeType = "stream"
	TypeFile         NodeType = "file"
	TypeDirectory    NodeType = "directory"
	TypePlain        NodeType = "plain"
	TypeError        NodeType = "error"
)

// Icon names the presentation icon of a node.
type Icon string

// Icons.
const (
	IconNDF       Icon = "ndf"
	IconArray     Icon = "array"
	IconWCS       Icon = "wcs"
	IconHistory   Icon = "history"
	IconStruct    Icon = "struct"
	IconFITS      Icon = "fits"
	IconHDU       Icon = "hdu"
	IconNDX       Icon = "ndx"
	IconTable     Icon = "table"
	IconXML       Icon = "xml"
	IconArchive   Icon = "archive"
	IconFolder    Icon = "folder"
	IconCompress  Icon = "compressed"
	IconFile      Icon = "file"
	IconData      Icon = "data"
	IconError     Icon = "error"
	IconDefault   Icon = "leaf"
	IconParentDir Icon = "parent"
)

// Detail is one key/value line of a node's detail view.
type Detail struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Node is one position in the data tree.
type Node interface {
	// Name returns the intrinsic name of the node.
	Name() string

	// Label returns the display name. It is never empty.
	Label() string

	// SetLabel overrides the display name.
	SetLabel(label string)

	// Type returns the concrete node type.
	Type() NodeType

	// Description returns a short one-line description.
	Description() string

	// Icon returns the presentation icon.
	Icon() Icon

	// Details returns the lines of the node's detail view.
	Details() []Detail

	// AllowsChildren reports whether Children is meaningful.
	AllowsChildren() bool

	// Children returns the node's children, computing them on first use.
	// Data problems with individual children are represented as error nodes;
	// an error is returned only when ctx ends during enumeration.
	Children(ctx context.Context) ([]Node, error)

	// ParentObject returns an object from which the parent of this node could
	// be constructed, or nil.
	ParentObject() any

	// SetParentObject records the parent reconstruction handle.
	SetParentObject(obj any)

	// Creator returns the provenance record, or nil if the node was not made by a factory.
	Creator() *CreationState

	// SetCreator attaches the provenance record.
	SetCreator(state *CreationState)

	// ChildMaker returns the maker this node uses for its children.
	ChildMaker() Maker

	// SetChildMaker sets the maker this node uses for its children.
	SetChildMaker(maker Maker)
}

// Maker turns arbitrary objects into nodes.
type Maker interface {
	// MakeNode constructs a node from obj. It fails with an error matching
	// errors.ErrDispatchExhausted when nothing can represent obj.
	MakeNode(ctx context.Context, parent Node, obj any) (Node, error)

	// MakeChildNode is MakeNode, but failures are returned as error nodes.
	MakeChildNode(ctx context.Context, parent Node, obj any) Node

	// MakeErrorNode constructs a node representing err. It never fails.
	MakeErrorNode(ctx context.Context, parent Node, err error) Node
}

// Builder attempts to construct nodes of one type from one kind of input.
type Builder interface {
	// NodeType is the type of node this builder claims to produce,
	// or AnyType for builders that choose the type themselves.
	NodeType() NodeType

	// Suitable reports whether objects of runtime type t may be passed to Build.
	// It performs no I/O.
	Suitable(t reflect.Type) bool

	// Build constructs a node from obj. A format mismatch is reported with an
	// error matching errors.ErrNoSuchData; any other error is a fault.
	Build(ctx context.Context, obj any) (Node, error)

	// String describes the builder for diagnostics.
	String() string
}
