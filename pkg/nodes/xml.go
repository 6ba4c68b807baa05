package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/multierr"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// VOTable element names other than VOTABLE and TABLE.
var voComponents = map[string]bool{
	"RESOURCE":    true,
	"INFO":        true,
	"PARAM":       true,
	"GROUP":       true,
	"FIELD":       true,
	"DESCRIPTION": true,
	"COOSYS":      true,
	"TIMESYS":     true,
	"LINK":        true,
	"VALUES":      true,
	"FIELDref":    true,
	"PARAMref":    true,
	"DEFINITIONS": true,
}

// IsVOComponent reports whether tag names a VOTable element represented by
// vocomponent nodes.
func IsVOComponent(tag string) bool {
	return voComponents[tag]
}

// ParseDocument reads and parses an XML document from src. A source that
// is not well-formed XML is reported as NoSuchData; a read failure is not.
func ParseDocument(ctx context.Context, src datasource.DataSource) (doc *etree.Document, err error) {
	magic, err := src.Magic(ctx, 64)
	if err != nil {
		return nil, fmt.Errorf("read XML prolog of %s: %w", src.Name(), err)
	}
	if !IsXMLMagic(magic) {
		return nil, errors.NoSuchData("%s does not start like XML", src.Name())
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, rc.Close())
	}()
	doc = etree.NewDocument()
	if _, err := doc.ReadFrom(rc); err != nil {
		return nil, errors.NoSuchDataCause(err, "%s is not well-formed XML", src.Name())
	}
	if doc.Root() == nil {
		return nil, errors.NoSuchData("%s has no root element", src.Name())
	}
	return doc, nil
}

// DocumentNode represents a whole XML document.
type DocumentNode struct {
	datanode.BaseNode
	doc      *etree.Document
	location string
}

// NewDocumentNode parses src as XML.
func NewDocumentNode(ctx context.Context, src datasource.DataSource) (*DocumentNode, error) {
	doc, err := ParseDocument(ctx, src)
	if err != nil {
		return nil, err
	}
	return &DocumentNode{
		BaseNode: datanode.NewBaseNode(src.Name(), datanode.TypeDocument, datanode.IconXML, true),
		doc:      doc,
		location: src.Location(),
	}, nil
}

// NewParsedDocumentNode wraps an already parsed document.
func NewParsedDocumentNode(ctx context.Context, doc *etree.Document) (*DocumentNode, error) {
	if doc == nil || doc.Root() == nil {
		return nil, errors.NoSuchData("document has no root element")
	}
	return &DocumentNode{
		BaseNode: datanode.NewBaseNode(doc.Root().FullTag(), datanode.TypeDocument, datanode.IconXML, true),
		doc:      doc,
	}, nil
}

// Document returns the parsed document.
func (n *DocumentNode) Document() *etree.Document { return n.doc }

// Description names the root element.
func (n *DocumentNode) Description() string {
	return "<" + n.doc.Root().FullTag() + ">"
}

// Details lists the root element and location.
func (n *DocumentNode) Details() []datanode.Detail {
	details := []datanode.Detail{{Key: "Root", Value: n.doc.Root().FullTag()}}
	if n.location != "" {
		details = append(details, datanode.Detail{Key: "Location", Value: n.location})
	}
	return details
}

// Children returns the root element.
func (n *DocumentNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return makeChildren(ctx, n, []any{n.doc.Root()})
	})
}

func childElements(el *etree.Element) []any {
	kids := el.ChildElements()
	out := make([]any, len(kids))
	for i, k := range kids {
		out[i] = k
	}
	return out
}

func attrDetails(el *etree.Element) []datanode.Detail {
	details := make([]datanode.Detail, 0, len(el.Attr))
	for _, a := range el.Attr {
		details = append(details, datanode.Detail{Key: a.FullKey(), Value: a.Value})
	}
	return details
}

// XMLNode is the generic representation of an XML element.
type XMLNode struct {
	datanode.BaseNode
	el *etree.Element
}

// NewXMLNode creates a node for any element. It never declines.
func NewXMLNode(ctx context.Context, el *etree.Element) (*XMLNode, error) {
	if el == nil {
		return nil, errors.NoSuchData("nil element")
	}
	return &XMLNode{
		BaseNode: datanode.NewBaseNode(el.FullTag(), datanode.TypeXML, datanode.IconXML, len(el.ChildElements()) > 0),
		el:       el,
	}, nil
}

// Element returns the element.
func (n *XMLNode) Element() *etree.Element { return n.el }

// Description shows the element text, or its attributes.
func (n *XMLNode) Description() string {
	if text := strings.TrimSpace(n.el.Text()); text != "" {
		return truncate(text, 60)
	}
	parts := make([]string, 0, len(n.el.Attr))
	for _, a := range n.el.Attr {
		parts = append(parts, fmt.Sprintf("%s=%q", a.FullKey(), a.Value))
	}
	return truncate(strings.Join(parts, " "), 60)
}

// Details lists the attributes and path.
func (n *XMLNode) Details() []datanode.Detail {
	return append([]datanode.Detail{{Key: "Path", Value: n.el.GetPath()}}, attrDetails(n.el)...)
}

// Children returns the child elements.
func (n *XMLNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return makeChildren(ctx, n, childElements(n.el))
	})
}

// VOTableNode represents a VOTABLE element.
type VOTableNode struct {
	datanode.BaseNode
	el *etree.Element
}

// NewVOTableNode creates a VOTable node. It declines other elements.
func NewVOTableNode(ctx context.Context, el *etree.Element) (*VOTableNode, error) {
	if el == nil || el.Tag != "VOTABLE" {
		return nil, errors.NoSuchData("not a VOTABLE element")
	}
	return &VOTableNode{
		BaseNode: datanode.NewBaseNode("VOTABLE", datanode.TypeVOTable, datanode.IconTable, true),
		el:       el,
	}, nil
}

// Description gives the VOTable version.
func (n *VOTableNode) Description() string {
	if v := n.el.SelectAttrValue("version", ""); v != "" {
		return "VOTable " + v
	}
	return "VOTable"
}

// Details lists the attributes and the description text.
func (n *VOTableNode) Details() []datanode.Detail {
	details := attrDetails(n.el)
	if d := n.el.SelectElement("DESCRIPTION"); d != nil {
		details = append(details, datanode.Detail{Key: "Description", Value: truncate(d.Text(), 200)})
	}
	return details
}

// Children returns the top-level VOTable elements.
func (n *VOTableNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return makeChildren(ctx, n, childElements(n.el))
	})
}

// VOComponentNode represents a structural VOTable element such as RESOURCE or PARAM.
type VOComponentNode struct {
	datanode.BaseNode
	el *etree.Element
}

// NewVOComponentNode creates a VOTable component node. It declines elements
// that are not VOTable components.
func NewVOComponentNode(ctx context.Context, el *etree.Element) (*VOComponentNode, error) {
	if el == nil || !IsVOComponent(el.Tag) {
		return nil, errors.NoSuchData("not a VOTable component element")
	}
	name := el.SelectAttrValue("name", el.SelectAttrValue("ID", el.Tag))
	return &VOComponentNode{
		BaseNode: datanode.NewBaseNode(name, datanode.TypeVOComponent, datanode.IconXML, len(el.ChildElements()) > 0),
		el:       el,
	}, nil
}

// Description gives the element tag and value.
func (n *VOComponentNode) Description() string {
	if v := n.el.SelectAttrValue("value", ""); v != "" {
		return n.el.Tag + " = " + truncate(v, 50)
	}
	if text := strings.TrimSpace(n.el.Text()); text != "" {
		return n.el.Tag + ": " + truncate(text, 50)
	}
	return n.el.Tag
}

// Details lists the attributes.
func (n *VOComponentNode) Details() []datanode.Detail {
	return attrDetails(n.el)
}

// Children returns the sub-elements.
func (n *VOComponentNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return makeChildren(ctx, n, childElements(n.el))
	})
}

// VOTableTableNode represents a VOTable TABLE element.
type VOTableTableNode struct {
	datanode.BaseNode
	el     *etree.Element
	fields []string
	rows   int
}

// NewVOTableTableNode creates a table node. It declines elements other than TABLE.
func NewVOTableTableNode(ctx context.Context, el *etree.Element) (*VOTableTableNode, error) {
	if el == nil || el.Tag != "TABLE" {
		return nil, errors.NoSuchData("not a TABLE element")
	}
	n := &VOTableTableNode{
		BaseNode: datanode.NewBaseNode(el.SelectAttrValue("name", el.SelectAttrValue("ID", "TABLE")), datanode.TypeVOTableTable, datanode.IconTable, false),
		el:       el,
	}
	for _, f := range el.SelectElements("FIELD") {
		n.fields = append(n.fields, f.SelectAttrValue("name", f.SelectAttrValue("ID", "?")))
	}
	if data := el.SelectElement("DATA"); data != nil {
		if td := data.SelectElement("TABLEDATA"); td != nil {
			n.rows = len(td.SelectElements("TR"))
		}
	}
	return n, nil
}

// Columns returns the column names.
func (n *VOTableTableNode) Columns() []string { return n.fields }

// Rows returns the number of TABLEDATA rows.
func (n *VOTableTableNode) Rows() int { return n.rows }

// Description gives the table dimensions.
func (n *VOTableTableNode) Description() string {
	return fmt.Sprintf("%d columns x %d rows", len(n.fields), n.rows)
}

// Details lists the columns.
func (n *VOTableTableNode) Details() []datanode.Detail {
	details := []datanode.Detail{
		{Key: "Columns", Value: fmt.Sprint(len(n.fields))},
		{Key: "Rows", Value: fmt.Sprint(n.rows)},
	}
	for i, f := range n.fields {
		details = append(details, datanode.Detail{Key: fmt.Sprintf("Column %d", i+1), Value: f})
	}
	return details
}

// NDXNode represents an NDX: an XML description of an n-dimensional dataset.
type NDXNode struct {
	datanode.BaseNode
	el *etree.Element
}

// NewNDXNode creates an NDX node. It declines elements other than ndx.
func NewNDXNode(ctx context.Context, el *etree.Element) (*NDXNode, error) {
	if el == nil || el.Tag != "ndx" {
		return nil, errors.NoSuchData("not an ndx element")
	}
	name := "ndx"
	if title := el.SelectElement("title"); title != nil && strings.TrimSpace(title.Text()) != "" {
		name = strings.TrimSpace(title.Text())
	}
	return &NDXNode{
		BaseNode: datanode.NewBaseNode(name, datanode.TypeNDX, datanode.IconNDX, true),
		el:       el,
	}, nil
}

// Description names the image.
func (n *NDXNode) Description() string {
	return n.component("image")
}

func (n *NDXNode) component(tag string) string {
	c := n.el.SelectElement(tag)
	if c == nil {
		return ""
	}
	if url := c.SelectAttrValue("url", ""); url != "" {
		return url
	}
	return strings.TrimSpace(c.Text())
}

// Details lists the array components.
func (n *NDXNode) Details() []datanode.Detail {
	var details []datanode.Detail
	for _, tag := range []string{"image", "variance", "quality"} {
		if v := n.component(tag); v != "" {
			details = append(details, datanode.Detail{Key: tag, Value: v})
		}
	}
	return details
}

// Children returns the NDX component elements.
func (n *NDXNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return makeChildren(ctx, n, childElements(n.el))
	})
}
