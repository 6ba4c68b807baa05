// Package hds models Hierarchical Data System containers: named, typed
// objects that are either primitives (scalar or array values) or structures
// holding named components. Binary container decoding is out of scope; objects
// are built in memory or decoded from a YAML dump of a container.
package hds

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Object is one HDS object.
type Object interface {
	// Name returns the component name, upper case.
	Name() string
	// Type returns the HDS type: "_REAL", "_CHAR*32" for primitives, or a structure type such as "NDF".
	Type() string
	// IsStruct reports whether the object is a structure.
	IsStruct() bool
	// Shape returns the dimensions, nil for a scalar.
	Shape() []int
	// Components returns the components of a scalar structure, in order.
	Components() []Object
	// Component returns a named component of a scalar structure.
	Component(name string) (Object, bool)
	// Cells returns the elements of a structure array.
	Cells() []Object
	// Value returns a primitive's value: a scalar, or a []any for arrays.
	Value() any
	// Path returns the dotted path from the container root.
	Path() string
}

// Element is the in-memory Object implementation.
type Element struct {
	name   string
	typ    string
	shape  []int
	comps  []*Element
	cells  []*Element
	value  any
	parent *Element
}

var _ Object = (*Element)(nil)

// NewStruct creates a scalar structure.
func NewStruct(name, typ string, comps ...*Element) *Element {
	e := &Element{name: strings.ToUpper(name), typ: strings.ToUpper(typ)}
	for _, c := range comps {
		e.Add(c)
	}
	return e
}

// NewStructArray creates a structure array from its cells.
func NewStructArray(name, typ string, cells ...*Element) *Element {
	e := &Element{name: strings.ToUpper(name), typ: strings.ToUpper(typ), shape: []int{len(cells)}}
	for i, c := range cells {
		c.parent = e
		c.name = fmt.Sprintf("%s(%d)", e.name, i+1)
		e.cells = append(e.cells, c)
	}
	return e
}

// NewPrimitive creates a primitive. value is a scalar, or a []any whose
// length matches the product of shape.
func NewPrimitive(name, typ string, shape []int, value any) *Element {
	return &Element{name: strings.ToUpper(name), typ: strings.ToUpper(typ), shape: shape, value: value}
}

// Add appends a component to a structure.
func (e *Element) Add(c *Element) *Element {
	c.parent = e
	e.comps = append(e.comps, c)
	return e
}

// Name returns the object name.
func (e *Element) Name() string { return e.name }

// Type returns the HDS type.
func (e *Element) Type() string { return e.typ }

// IsStruct reports whether the type is a structure type.
func (e *Element) IsStruct() bool { return !strings.HasPrefix(e.typ, "_") }

// Shape returns the dimensions.
func (e *Element) Shape() []int { return e.shape }

// Components returns the components.
func (e *Element) Components() []Object {
	out := make([]Object, len(e.comps))
	for i, c := range e.comps {
		out[i] = c
	}
	return out
}

// Component looks up a component by name, case-insensitively.
func (e *Element) Component(name string) (Object, bool) {
	name = strings.ToUpper(name)
	for _, c := range e.comps {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// Cells returns the structure array cells.
func (e *Element) Cells() []Object {
	out := make([]Object, len(e.cells))
	for i, c := range e.cells {
		out[i] = c
	}
	return out
}

// Value returns the primitive value.
func (e *Element) Value() any { return e.value }

// Path returns the dotted path from the root.
func (e *Element) Path() string {
	if e.parent == nil {
		return e.name
	}
	if len(e.parent.cells) > 0 {
		return e.parent.Path()[:len(e.parent.Path())-len(e.parent.name)] + e.name
	}
	return e.parent.Path() + "." + e.name
}

// String describes the object as hdstrace does.
func (e *Element) String() string {
	return Describe(e)
}

// Describe renders the name, shape and type of an object, e.g. "DATA(10,20) <_REAL>".
func Describe(o Object) string {
	var b strings.Builder
	b.WriteString(o.Name())
	if shape := o.Shape(); len(shape) > 0 {
		b.WriteString(ShapeString(shape))
	}
	b.WriteString(" <")
	b.WriteString(o.Type())
	b.WriteString(">")
	return b.String()
}

// ShapeString renders dimensions as "(10,20)".
func ShapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Size returns the number of elements described by shape.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Strings returns the values of a character primitive, scalar or array.
func Strings(o Object) ([]string, bool) {
	if o.IsStruct() || !strings.HasPrefix(o.Type(), "_CHAR") {
		return nil, false
	}
	switch v := o.Value().(type) {
	case string:
		return []string{v}, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	case []string:
		return v, true
	default:
		return nil, false
	}
}

// dumpNode is the YAML form of an object.
type dumpNode struct {
	Name       string     `yaml:"name"`
	Type       string     `yaml:"type"`
	Shape      []int      `yaml:"shape,omitempty"`
	Value      any        `yaml:"value,omitempty"`
	Values     []any      `yaml:"values,omitempty"`
	Components []dumpNode `yaml:"components,omitempty"`
	Cells      []dumpNode `yaml:"cells,omitempty"`
}

// DumpSuffix is the file name suffix of YAML container dumps.
const DumpSuffix = ".sdf.yaml"

// Decode reads a YAML container dump.
func Decode(r io.Reader) (*Element, error) {
	var root dumpNode
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode hds dump: %w", err)
	}
	return build(root, "")
}

func build(d dumpNode, path string) (*Element, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("hds dump: object under %q has no name", path)
	}
	if d.Type == "" {
		return nil, fmt.Errorf("hds dump: object %s%s has no type", path, d.Name)
	}
	here := path + d.Name
	if strings.HasPrefix(d.Type, "_") {
		if len(d.Components) > 0 || len(d.Cells) > 0 {
			return nil, fmt.Errorf("hds dump: primitive %s cannot have components", here)
		}
		var value any = d.Value
		if d.Values != nil {
			if len(d.Shape) > 0 && Size(d.Shape) != len(d.Values) {
				return nil, fmt.Errorf("hds dump: %s has %d values for shape %s", here, len(d.Values), ShapeString(d.Shape))
			}
			value = d.Values
		}
		return NewPrimitive(d.Name, d.Type, d.Shape, value), nil
	}
	if len(d.Cells) > 0 {
		cells := make([]*Element, 0, len(d.Cells))
		for _, c := range d.Cells {
			if c.Name == "" {
				c.Name = d.Name
			}
			if c.Type == "" {
				c.Type = d.Type
			}
			cell, err := build(c, here+".")
			if err != nil {
				return nil, err
			}
			cells = append(cells, cell)
		}
		return NewStructArray(d.Name, d.Type, cells...), nil
	}
	e := NewStruct(d.Name, d.Type)
	for _, c := range d.Components {
		comp, err := build(c, here+".")
		if err != nil {
			return nil, err
		}
		e.Add(comp)
	}
	return e, nil
}
