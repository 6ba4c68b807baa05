package datanode

import (
	"fmt"

	"github.com/google/uuid"
)

// CreationState records how a node was made: by which maker and builder,
// under which parent, from which object. It is attached once, fully built,
// and never modified afterwards.
type CreationState struct {
	id      string
	factory Maker
	builder Builder
	parent  Node
	object  any
	trace   string
}

// NewCreationState creates a provenance record with a fresh identifier.
func NewCreationState(factory Maker, builder Builder, parent Node, object any, trace string) *CreationState {
	return &CreationState{
		id:      uuid.New().String(),
		factory: factory,
		builder: builder,
		parent:  parent,
		object:  object,
		trace:   trace,
	}
}

// ID returns the unique identifier of this creation.
func (c *CreationState) ID() string {
	return c.id
}

// Factory returns the maker that created the node, or nil.
func (c *CreationState) Factory() Maker {
	return c.factory
}

// Builder returns the builder that succeeded, or nil.
func (c *CreationState) Builder() Builder {
	return c.builder
}

// Parent returns the parent node, or nil for a root.
func (c *CreationState) Parent() Node {
	return c.parent
}

// IsRoot reports whether the node was created without a parent.
func (c *CreationState) IsRoot() bool {
	return c.parent == nil
}

// Object returns the object the node was created from.
func (c *CreationState) Object() any {
	return c.object
}

// Trace returns the dispatch trace recorded in debug mode.
func (c *CreationState) Trace() string {
	return c.trace
}

// String describes the record.
func (c *CreationState) String() string {
	bname := "<none>"
	if c.builder != nil {
		bname = c.builder.String()
	}
	pname := "<root>"
	if c.parent != nil {
		pname = c.parent.Label()
	}
	return fmt.Sprintf("creation %s: builder=%s parent=%s object=%T", c.id, bname, pname, c.object)
}

// WithParent returns a copy of the record naming a different parent. The
// copy keeps the identifier; the receiver is unchanged.
func (c *CreationState) WithParent(parent Node) *CreationState {
	dup := *c
	dup.parent = parent
	return &dup
}
