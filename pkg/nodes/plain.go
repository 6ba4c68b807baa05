package nodes

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// PlainNode represents a bare string.
type PlainNode struct {
	datanode.BaseNode
}

// NewPlainNode creates a node for a string. It never declines.
func NewPlainNode(ctx context.Context, s string) (*PlainNode, error) {
	return newPlain(s), nil
}

func newPlain(s string) *PlainNode {
	return &PlainNode{BaseNode: datanode.NewBaseNode(s, datanode.TypePlain, datanode.IconDefault, false)}
}

// Attempter is implemented by errors that list the builders tried before failing.
type Attempter interface {
	Attempts() []string
}

// ErrorNode represents an error. Its children are the errors it wraps.
type ErrorNode struct {
	datanode.BaseNode
	err error
}

// NewErrorNode creates a node describing err. It accepts a nil error.
func NewErrorNode(err error) *ErrorNode {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	name, _, _ := strings.Cut(err.Error(), "\n")
	return &ErrorNode{
		BaseNode: datanode.NewBaseNode(name, datanode.TypeError, datanode.IconError, len(causes(err)) > 0),
		err:      err,
	}
}

func newErrorNodeCtor(ctx context.Context, err error) (*ErrorNode, error) {
	return NewErrorNode(err), nil
}

// Err returns the represented error.
func (n *ErrorNode) Err() error { return n.err }

// Description returns the error code.
func (n *ErrorNode) Description() string {
	return errors.Code(n.err)
}

// Details lists the error kind, its code and, for dispatch failures, every
// builder tried.
func (n *ErrorNode) Details() []datanode.Detail {
	details := []datanode.Detail{
		{Key: "Error", Value: n.err.Error()},
		{Key: "Kind", Value: fmt.Sprintf("%T", n.err)},
		{Key: "Code", Value: errors.Code(n.err)},
	}
	var a Attempter
	if errors.As(n.err, &a) {
		for i, tried := range a.Attempts() {
			details = append(details, datanode.Detail{Key: fmt.Sprintf("Tried %d", i+1), Value: tried})
		}
	}
	return details
}

// Children returns nodes for the wrapped errors.
func (n *ErrorNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		maker := makerFor(n)
		var out []datanode.Node
		for _, cause := range causes(n.err) {
			out = append(out, maker.MakeErrorNode(ctx, n, cause))
		}
		return out, nil
	})
}

func causes(err error) []error {
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		return u.Unwrap()
	case interface{ Unwrap() error }:
		if cause := u.Unwrap(); cause != nil {
			return []error{cause}
		}
	}
	return nil
}
