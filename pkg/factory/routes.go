package factory

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/multierr"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
	"github.com/wehubfusion/treeview/pkg/hds"
	"github.com/wehubfusion/treeview/pkg/nodes"
	"github.com/wehubfusion/treeview/pkg/storage"
)

// routing holds what the special builders need to resolve their inputs.
type routing struct {
	blobs  storage.BlobReader
	maxZip int64
}

// specialBuilders returns the routing builders in priority order.
func specialBuilders(cfg *settings) []datanode.Builder {
	r := routing{blobs: cfg.blobs, maxZip: cfg.maxZipBuffer}
	reg := cfg.registry
	out := make([]datanode.Builder, 0, len(cfg.scripts)+5)
	for _, s := range cfg.scripts {
		out = append(out, s.withRegistry(reg))
	}
	return append(out,
		NewRouteBuilder("file", reg, func(ctx context.Context, obj any) ([]Route, error) {
			return r.fileRoutes(ctx, obj.(datasource.File))
		}, reflect.TypeFor[datasource.File]()),
		NewRouteBuilder("string", reg, func(ctx context.Context, obj any) ([]Route, error) {
			return r.stringRoutes(ctx, obj.(string))
		}, reflect.TypeFor[string]()),
		NewRouteBuilder("source", reg, func(ctx context.Context, obj any) ([]Route, error) {
			return r.sourceRoutes(ctx, obj.(datasource.DataSource))
		}, reflect.TypeFor[datasource.DataSource]()),
		NewRouteBuilder("document", reg, func(ctx context.Context, obj any) ([]Route, error) {
			doc := obj.(*etree.Document)
			if doc == nil || doc.Root() == nil {
				return nil, errors.NoSuchData("document has no root element")
			}
			return []Route{elementRoute(doc.Root())}, nil
		}, reflect.TypeFor[*etree.Document]()),
		NewRouteBuilder("xml", reg, func(ctx context.Context, obj any) ([]Route, error) {
			el := obj.(*etree.Element)
			if el == nil {
				return nil, errors.NoSuchData("nil element")
			}
			return []Route{elementRoute(el)}, nil
		}, reflect.TypeFor[*etree.Element]()),
	)
}

func types(t ...datanode.NodeType) []datanode.NodeType { return t }

// fileRoutes works out what a filesystem path holds. Files of no known
// format end up as file nodes.
func (r routing) fileRoutes(ctx context.Context, f datasource.File) ([]Route, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.NoSuchDataCause(err, "%s cannot be examined", f.Path)
	}
	if info.IsDir() {
		return []Route{{Target: f, Types: types(datanode.TypeDirectory)}}, nil
	}
	src := f.Source()
	if nodes.IsHDSDump(f.Name()) {
		return hdsRoutes(ctx, src)
	}
	magic, err := src.Magic(ctx, datasource.DefaultMagicSize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	if nodes.IsZipMagic(magic) {
		return []Route{{Target: f, Types: types(datanode.TypeZip)}}, nil
	}
	routes, err := sniff(ctx, src, magic)
	if err != nil {
		return nil, err
	}
	return append(routes, Route{Target: f, Types: types(datanode.TypeFile)}), nil
}

// stringRoutes treats a string as a blob URL or an existing path.
func (r routing) stringRoutes(ctx context.Context, s string) ([]Route, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.NoSuchData("empty string")
	}
	if storage.IsBlobURL(s) {
		if r.blobs == nil {
			return nil, errors.NoSuchData("no blob reader configured for %s", s)
		}
		ref, err := storage.ParseBlobURL(s)
		if err != nil {
			return nil, errors.NoSuchDataCause(err, "%s is not a blob reference", s)
		}
		src := datasource.NewBlobSource(r.blobs, ref)
		routes, err := r.sourceRoutes(ctx, src)
		if err != nil && !errors.IsNoSuchData(err) {
			return nil, err
		}
		return append(routes, Route{Target: src}), nil
	}
	if _, err := os.Stat(s); err != nil {
		return nil, errors.NoSuchData("%q names no file", s)
	}
	return r.fileRoutes(ctx, datasource.NewFile(s))
}

// sourceRoutes sniffs a byte source. Zip streams are buffered so that their
// entries can be listed.
func (r routing) sourceRoutes(ctx context.Context, src datasource.DataSource) ([]Route, error) {
	if nodes.IsHDSDump(src.Name()) {
		return hdsRoutes(ctx, src)
	}
	magic, err := src.Magic(ctx, datasource.DefaultMagicSize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src.Location(), err)
	}
	if nodes.IsZipMagic(magic) {
		return r.zipRoutes(ctx, src)
	}
	routes, err := sniff(ctx, src, magic)
	if err != nil {
		return nil, err
	}
	if len(routes) == 0 {
		return nil, errors.NoSuchData("%s has no recognised signature", src.Name())
	}
	return routes, nil
}

func (r routing) zipRoutes(ctx context.Context, src datasource.DataSource) ([]Route, error) {
	if fs, ok := src.(*datasource.FileSource); ok {
		return []Route{{Target: fs.File(), Types: types(datanode.TypeZip)}}, nil
	}
	if l := src.Length(); l < 0 || l > r.maxZip {
		return nil, errors.NoSuchData("zip stream %s is too large to buffer", src.Name())
	}
	data, err := datasource.ReadAll(ctx, src, r.maxZip)
	if err != nil {
		return nil, fmt.Errorf("buffer zip stream %s: %w", src.Location(), err)
	}
	archive, err := nodes.OpenZipBytes(src.Name(), src.Location(), data)
	if err != nil {
		return nil, err
	}
	return []Route{{Target: archive, Types: types(datanode.TypeZip)}}, nil
}

// sniff routes by leading bytes. It returns no routes for unknown data.
func sniff(ctx context.Context, src datasource.DataSource, magic []byte) ([]Route, error) {
	switch {
	case datasource.DetectCompression(magic) != datasource.CompressionNone:
		return []Route{{Target: src, Types: types(datanode.TypeCompressed)}}, nil
	case nodes.IsTarMagic(magic):
		return []Route{{Target: src, Types: types(datanode.TypeTar)}}, nil
	case nodes.IsFITSMagic(magic):
		return []Route{{Target: src, Types: types(datanode.TypeFITS)}}, nil
	case nodes.IsXMLMagic(magic):
		doc, err := nodes.ParseDocument(ctx, src)
		if errors.IsNoSuchData(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []Route{
			elementRoute(doc.Root()),
			{Target: doc, Types: types(datanode.TypeDocument)},
		}, nil
	}
	return nil, nil
}

// hdsRoutes decodes a YAML container dump. Any HDS node type may take the
// top level object.
func hdsRoutes(ctx context.Context, src datasource.DataSource) (routes []Route, err error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Location(), err)
	}
	defer func() {
		err = multierr.Append(err, rc.Close())
	}()
	top, err := hds.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", src.Location(), err)
	}
	return []Route{{Target: top}}, nil
}

// elementRoute picks the node type for an XML element by its tag.
func elementRoute(el *etree.Element) Route {
	var t datanode.NodeType
	switch {
	case el.Tag == "VOTABLE":
		t = datanode.TypeVOTable
	case el.Tag == "TABLE":
		t = datanode.TypeVOTableTable
	case nodes.IsVOComponent(el.Tag):
		t = datanode.TypeVOComponent
	case el.Tag == "ndx":
		t = datanode.TypeNDX
	default:
		return Route{Target: el, Types: types(datanode.TypeXML)}
	}
	return Route{Target: el, Types: types(t, datanode.TypeXML)}
}
