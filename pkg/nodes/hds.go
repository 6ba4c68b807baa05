package nodes

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/errors"
	"github.com/wehubfusion/treeview/pkg/hds"
)

// HDSNode is the generic representation of any HDS object.
type HDSNode struct {
	datanode.BaseNode
	obj hds.Object
}

// NewHDSNode creates a generic node for obj. It never declines.
func NewHDSNode(ctx context.Context, obj hds.Object) (*HDSNode, error) {
	icon := datanode.IconData
	if obj.IsStruct() {
		icon = datanode.IconStruct
	}
	return &HDSNode{
		BaseNode: datanode.NewBaseNode(obj.Name(), datanode.TypeHDS, icon, obj.IsStruct()),
		obj:      obj,
	}, nil
}

// Object returns the HDS object.
func (n *HDSNode) Object() hds.Object { return n.obj }

// Description summarises shape, type and, for primitives, the value.
func (n *HDSNode) Description() string {
	desc := hds.Describe(n.obj)[len(n.obj.Name()):]
	if !n.obj.IsStruct() {
		desc = strings.TrimSpace(desc) + " " + preview(n.obj.Value(), 5)
	}
	return strings.TrimSpace(desc)
}

// Details returns the HDS path, type and shape.
func (n *HDSNode) Details() []datanode.Detail {
	details := []datanode.Detail{
		{Key: "Path", Value: n.obj.Path()},
		{Key: "Type", Value: n.obj.Type()},
	}
	if shape := n.obj.Shape(); len(shape) > 0 {
		details = append(details, datanode.Detail{Key: "Shape", Value: hds.ShapeString(shape)})
	}
	return details
}

// Children returns the components of a structure or the cells of a structure array.
func (n *HDSNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return makeChildren(ctx, n, members(n.obj))
	})
}

func members(obj hds.Object) []any {
	var kids []hds.Object
	if len(obj.Shape()) > 0 {
		kids = obj.Cells()
	} else {
		kids = obj.Components()
	}
	out := make([]any, len(kids))
	for i, k := range kids {
		out[i] = k
	}
	return out
}

// NDFNode represents an NDF: a scalar structure holding a DATA_ARRAY.
type NDFNode struct {
	datanode.BaseNode
	obj  hds.Object
	data hds.Object
}

// NewNDFNode creates an NDF node. It declines objects without a DATA_ARRAY.
func NewNDFNode(ctx context.Context, obj hds.Object) (*NDFNode, error) {
	if !obj.IsStruct() || len(obj.Shape()) > 0 {
		return nil, errors.NoSuchData("%s is not a scalar structure", hds.Describe(obj))
	}
	arr, ok := obj.Component("DATA_ARRAY")
	if !ok {
		return nil, errors.NoSuchData("%s has no DATA_ARRAY component", obj.Path())
	}
	data := arr
	if arr.IsStruct() {
		if data, ok = arr.Component("DATA"); !ok {
			return nil, errors.NoSuchData("%s has no DATA component", arr.Path())
		}
	}
	return &NDFNode{
		BaseNode: datanode.NewBaseNode(obj.Name(), datanode.TypeNDF, datanode.IconNDF, true),
		obj:      obj,
		data:     data,
	}, nil
}

// Object returns the NDF structure.
func (n *NDFNode) Object() hds.Object { return n.obj }

// Description gives the data array shape and type.
func (n *NDFNode) Description() string {
	return fmt.Sprintf("%s <%s>", hds.ShapeString(n.data.Shape()), n.data.Type())
}

// Details lists the character components and the data array.
func (n *NDFNode) Details() []datanode.Detail {
	var details []datanode.Detail
	title := cases.Title(language.English)
	for _, name := range []string{"TITLE", "LABEL", "UNITS"} {
		if c, ok := n.obj.Component(name); ok {
			if s, ok := hds.Strings(c); ok && len(s) > 0 {
				details = append(details, datanode.Detail{Key: title.String(name), Value: s[0]})
			}
		}
	}
	details = append(details,
		datanode.Detail{Key: "Shape", Value: hds.ShapeString(n.data.Shape())},
		datanode.Detail{Key: "Pixel type", Value: n.data.Type()},
	)
	for _, name := range []string{"VARIANCE", "QUALITY", "WCS", "HISTORY", "MORE"} {
		if _, ok := n.obj.Component(name); ok {
			details = append(details, datanode.Detail{Key: "Has " + strings.ToLower(name), Value: "yes"})
		}
	}
	return details
}

// Children returns the NDF components.
func (n *NDFNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return makeChildren(ctx, n, members(n.obj))
	})
}

// ARYNode represents an ARRAY structure.
type ARYNode struct {
	datanode.BaseNode
	obj  hds.Object
	data hds.Object
}

// NewARYNode creates an array node. It declines structures that are not of
// type ARRAY or have no DATA component.
func NewARYNode(ctx context.Context, obj hds.Object) (*ARYNode, error) {
	if !obj.IsStruct() || obj.Type() != "ARRAY" {
		return nil, errors.NoSuchData("%s is not an ARRAY structure", hds.Describe(obj))
	}
	data, ok := obj.Component("DATA")
	if !ok {
		return nil, errors.NoSuchData("%s has no DATA component", obj.Path())
	}
	return &ARYNode{
		BaseNode: datanode.NewBaseNode(obj.Name(), datanode.TypeARY, datanode.IconArray, false),
		obj:      obj,
		data:     data,
	}, nil
}

// Description gives the data shape and type.
func (n *ARYNode) Description() string {
	return fmt.Sprintf("%s <%s>", hds.ShapeString(n.data.Shape()), n.data.Type())
}

// Details lists shape, pixel type and origin.
func (n *ARYNode) Details() []datanode.Detail {
	details := []datanode.Detail{
		{Key: "Shape", Value: hds.ShapeString(n.data.Shape())},
		{Key: "Pixel type", Value: n.data.Type()},
		{Key: "Elements", Value: fmt.Sprint(hds.Size(n.data.Shape()))},
	}
	if origin, ok := n.obj.Component("ORIGIN"); ok {
		details = append(details, datanode.Detail{Key: "Origin", Value: preview(origin.Value(), 7)})
	}
	if bad, ok := n.obj.Component("BAD_PIXEL"); ok {
		details = append(details, datanode.Detail{Key: "Bad pixels", Value: fmt.Sprint(bad.Value())})
	}
	return details
}

// WCSNode represents an AST FrameSet stored as a character array.
type WCSNode struct {
	datanode.BaseNode
	lines []string
}

// NewWCSNode creates a WCS node. It declines structures that are not of type
// WCS or whose DATA is not a character array.
func NewWCSNode(ctx context.Context, obj hds.Object) (*WCSNode, error) {
	if !obj.IsStruct() || obj.Type() != "WCS" {
		return nil, errors.NoSuchData("%s is not a WCS structure", hds.Describe(obj))
	}
	data, ok := obj.Component("DATA")
	if !ok {
		return nil, errors.NoSuchData("%s has no DATA component", obj.Path())
	}
	lines, ok := hds.Strings(data)
	if !ok {
		return nil, errors.NoSuchData("%s is not a character array", hds.Describe(data))
	}
	return &WCSNode{
		BaseNode: datanode.NewBaseNode(obj.Name(), datanode.TypeWCS, datanode.IconWCS, false),
		lines:    lines,
	}, nil
}

// Domains returns the domains of the frames in the FrameSet, in order.
func (n *WCSNode) Domains() []string {
	var out []string
	for _, line := range n.lines {
		key, value, ok := strings.Cut(strings.TrimLeft(line, " +"), "=")
		if ok && strings.TrimSpace(key) == "Domain" {
			out = append(out, strings.Trim(strings.TrimSpace(value), `"`))
		}
	}
	return out
}

// Description lists the frame domains.
func (n *WCSNode) Description() string {
	return strings.Join(n.Domains(), " -> ")
}

// Details lists the frame count and domains.
func (n *WCSNode) Details() []datanode.Detail {
	domains := n.Domains()
	details := []datanode.Detail{{Key: "Frames", Value: fmt.Sprint(len(domains))}}
	for i, d := range domains {
		details = append(details, datanode.Detail{Key: fmt.Sprintf("Frame %d", i+1), Value: d})
	}
	return details
}

// HistoryNode represents an NDF HISTORY structure.
type HistoryNode struct {
	datanode.BaseNode
	obj     hds.Object
	records hds.Object
}

// NewHistoryNode creates a history node. It declines structures that are not
// of type HISTORY or have no RECORDS.
func NewHistoryNode(ctx context.Context, obj hds.Object) (*HistoryNode, error) {
	if !obj.IsStruct() || obj.Type() != "HISTORY" {
		return nil, errors.NoSuchData("%s is not a HISTORY structure", hds.Describe(obj))
	}
	records, ok := obj.Component("RECORDS")
	if !ok {
		return nil, errors.NoSuchData("%s has no RECORDS component", obj.Path())
	}
	return &HistoryNode{
		BaseNode: datanode.NewBaseNode(obj.Name(), datanode.TypeHistory, datanode.IconHistory, true),
		obj:      obj,
		records:  records,
	}, nil
}

// Description gives the number of records.
func (n *HistoryNode) Description() string {
	return fmt.Sprintf("%d records", len(n.records.Cells()))
}

// Details lists the history attributes.
func (n *HistoryNode) Details() []datanode.Detail {
	var details []datanode.Detail
	for _, name := range []string{"CREATED", "CURRENT_RECORD", "UPDATE_MODE"} {
		if c, ok := n.obj.Component(name); ok {
			details = append(details, datanode.Detail{Key: name, Value: fmt.Sprint(c.Value())})
		}
	}
	return details
}

// Children returns one child per history record.
func (n *HistoryNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return makeChildren(ctx, n, members(n.records))
	})
}

// preview renders a primitive value, listing at most max array elements.
func preview(v any, max int) string {
	items, ok := v.([]any)
	if !ok {
		return truncate(fmt.Sprint(v), 60)
	}
	parts := make([]string, 0, max+1)
	for i, item := range items {
		if i == max {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, fmt.Sprint(item))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
