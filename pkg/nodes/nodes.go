// Package nodes implements the concrete data node types of the treeview and
// registers their constructors with a datanode.Registry.
//
// Constructors report a format mismatch with errors.NoSuchData and reserve
// other errors for faults. Nodes never build their children directly: each
// raw sub-component is handed to the node's child maker, so a generic
// container can yield specialised children without knowing about them.
package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// Register adds every node type to reg in default priority order.
func Register(reg *datanode.Registry) {
	hdsOnly := []datanode.Subsystem{datanode.SubsystemHDS}

	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeNDF,
		Constructors: []datanode.Constructor{ctor(NewNDFNode)},
		ChildShuns:   []datanode.NodeType{datanode.TypeNDF},
		Requires:     hdsOnly,
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeWCS,
		Constructors: []datanode.Constructor{ctor(NewWCSNode)},
		Requires:     []datanode.Subsystem{datanode.SubsystemHDS, datanode.SubsystemAST},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeARY,
		Constructors: []datanode.Constructor{ctor(NewARYNode)},
		Requires:     hdsOnly,
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeHistory,
		Constructors: []datanode.Constructor{ctor(NewHistoryNode)},
		Requires:     hdsOnly,
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeHDS,
		Constructors: []datanode.Constructor{ctor(NewHDSNode)},
		Requires:     hdsOnly,
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeFITS,
		Constructors: []datanode.Constructor{ctor(NewFITSNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeHDU,
		Constructors: []datanode.Constructor{ctor(NewHDUNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeNDX,
		Constructors: []datanode.Constructor{ctor(NewNDXNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeVOTable,
		Constructors: []datanode.Constructor{ctor(NewVOTableNode)},
		ChildShuns:   []datanode.NodeType{datanode.TypeVOTable},
	})
	reg.Register(datanode.TypeInfo{
		Type: datanode.TypeZip,
		Constructors: []datanode.Constructor{
			ctor(NewZipNode),
			ctor(NewZipArchiveNode),
		},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeZipBranch,
		Constructors: []datanode.Constructor{ctor(NewZipBranchNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeTar,
		Constructors: []datanode.Constructor{ctor(NewTarNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type: datanode.TypeDocument,
		Constructors: []datanode.Constructor{
			ctor(NewDocumentNode),
			ctor(NewParsedDocumentNode),
		},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeXML,
		Constructors: []datanode.Constructor{ctor(NewXMLNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeVOTableTable,
		Constructors: []datanode.Constructor{ctor(NewVOTableTableNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeVOComponent,
		Constructors: []datanode.Constructor{ctor(NewVOComponentNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeCompressed,
		Constructors: []datanode.Constructor{ctor(NewCompressedNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeStream,
		Constructors: []datanode.Constructor{ctor(NewStreamNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeFile,
		Constructors: []datanode.Constructor{ctor(NewFileNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeDirectory,
		Constructors: []datanode.Constructor{ctor(NewDirectoryNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypePlain,
		Constructors: []datanode.Constructor{ctor(NewPlainNode)},
	})
	reg.Register(datanode.TypeInfo{
		Type:         datanode.TypeError,
		Constructors: []datanode.Constructor{ctor(newErrorNodeCtor)},
	})
}

// DefaultRegistry returns a registry holding every node type.
func DefaultRegistry() *datanode.Registry {
	reg := datanode.NewRegistry()
	Register(reg)
	return reg
}

// ctor adapts a constructor returning a concrete node type. A failed
// construction yields a nil interface rather than a typed nil pointer.
func ctor[T any, N datanode.Node](fn func(context.Context, T) (N, error)) datanode.Constructor {
	return datanode.Ctor(func(ctx context.Context, in T) (datanode.Node, error) {
		n, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return n, nil
	})
}

// makerFor returns the node's child maker, or the detached maker for nodes
// built outside a factory.
func makerFor(n datanode.Node) datanode.Maker {
	if m := n.ChildMaker(); m != nil {
		return m
	}
	return Detached
}

// makeChildren feeds objs to the child maker of parent in order.
func makeChildren(ctx context.Context, parent datanode.Node, objs []any) ([]datanode.Node, error) {
	maker := makerFor(parent)
	out := make([]datanode.Node, 0, len(objs))
	for _, obj := range objs {
		if err := ctx.Err(); err != nil {
			return nil, errors.Cancelled(err)
		}
		out = append(out, maker.MakeChildNode(ctx, parent, obj))
	}
	return out, nil
}

// Detached is the maker used by nodes that have no child maker. It can only
// represent strings and errors; anything else becomes an error node.
var Detached datanode.Maker = detachedMaker{}

type detachedMaker struct{}

func (detachedMaker) MakeNode(ctx context.Context, parent datanode.Node, obj any) (datanode.Node, error) {
	switch v := obj.(type) {
	case error:
		return NewErrorNode(v), nil
	case string:
		return newPlain(v), nil
	default:
		return nil, fmt.Errorf("%w: no factory available for %T", errors.ErrDispatchExhausted, obj)
	}
}

func (d detachedMaker) MakeChildNode(ctx context.Context, parent datanode.Node, obj any) datanode.Node {
	n, err := d.MakeNode(ctx, parent, obj)
	if err != nil {
		return NewErrorNode(err)
	}
	return n
}

func (detachedMaker) MakeErrorNode(ctx context.Context, parent datanode.Node, err error) datanode.Node {
	return NewErrorNode(err)
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
