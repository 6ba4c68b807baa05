package nodes

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"path"

	"go.uber.org/multierr"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// TarNode represents a tar stream. Its entries are read sequentially, so
// each entry source rescans the stream when opened.
type TarNode struct {
	datanode.BaseNode
	src datasource.DataSource
}

// NewTarNode creates a tar node. It declines sources without a ustar header.
func NewTarNode(ctx context.Context, src datasource.DataSource) (*TarNode, error) {
	magic, err := src.Magic(ctx, datasource.DefaultMagicSize)
	if err != nil {
		return nil, fmt.Errorf("read tar header of %s: %w", src.Name(), err)
	}
	if !IsTarMagic(magic) {
		return nil, errors.NoSuchData("%s has no ustar header", src.Name())
	}
	return &TarNode{
		BaseNode: datanode.NewBaseNode(src.Name(), datanode.TypeTar, datanode.IconArchive, true),
		src:      src,
	}, nil
}

// Description names the format.
func (n *TarNode) Description() string { return "tar archive" }

// Details gives the location.
func (n *TarNode) Details() []datanode.Detail {
	return []datanode.Detail{{Key: "Location", Value: n.src.Location()}}
}

// Children returns one child per regular file in the archive. A damaged
// archive yields the entries read so far followed by an error node.
func (n *TarNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) (kids []datanode.Node, err error) {
		maker := makerFor(n)
		rc, err := n.src.Open(ctx)
		if err != nil {
			if errors.IsCancelled(err) {
				return nil, errors.Cancelled(err)
			}
			return []datanode.Node{maker.MakeErrorNode(ctx, n, err)}, nil
		}
		defer func() {
			err = multierr.Append(err, rc.Close())
		}()

		var objs []any
		tr := tar.NewReader(rc)
		var rerr error
		for {
			if err := ctx.Err(); err != nil {
				return nil, errors.Cancelled(err)
			}
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				rerr = fmt.Errorf("read tar entry of %s: %w", n.src.Name(), err)
				break
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			objs = append(objs, n.entry(hdr.Name, hdr.Size))
		}
		kids, err = makeChildren(ctx, n, objs)
		if err != nil {
			return nil, err
		}
		if rerr != nil {
			kids = append(kids, maker.MakeErrorNode(ctx, n, rerr))
		}
		return kids, nil
	})
}

// entry returns a source for the named member.
func (n *TarNode) entry(name string, size int64) datasource.DataSource {
	return datasource.NewStreamSource(path.Base(name), n.src.Location()+"!/"+name, size, func(ctx context.Context) (io.ReadCloser, error) {
		rc, err := n.src.Open(ctx)
		if err != nil {
			return nil, err
		}
		tr := tar.NewReader(rc)
		for {
			hdr, err := tr.Next()
			if err != nil {
				if err == io.EOF {
					err = fmt.Errorf("tar entry %s not found", name)
				}
				return nil, multierr.Append(err, rc.Close())
			}
			if hdr.Name == name && hdr.Typeflag == tar.TypeReg {
				return &stackedReadCloser{ReadCloser: io.NopCloser(tr), outer: rc}, nil
			}
		}
	})
}

// CompressedNode represents a compressed stream. Its only child is the
// decompressed data.
type CompressedNode struct {
	datanode.BaseNode
	src         datasource.DataSource
	compression datasource.Compression
}

// NewCompressedNode creates a node for compressed data. It declines sources
// without a gzip, bzip2 or zstd signature.
func NewCompressedNode(ctx context.Context, src datasource.DataSource) (*CompressedNode, error) {
	magic, err := src.Magic(ctx, 4)
	if err != nil {
		return nil, fmt.Errorf("read compression signature of %s: %w", src.Name(), err)
	}
	c := datasource.DetectCompression(magic)
	if c == datasource.CompressionNone {
		return nil, errors.NoSuchData("%s is not compressed", src.Name())
	}
	return &CompressedNode{
		BaseNode:    datanode.NewBaseNode(src.Name(), datanode.TypeCompressed, datanode.IconCompress, true),
		src:         src,
		compression: c,
	}, nil
}

// Description names the compression format.
func (n *CompressedNode) Description() string {
	return n.compression.String() + " compressed"
}

// Details gives the location and format.
func (n *CompressedNode) Details() []datanode.Detail {
	return []datanode.Detail{
		{Key: "Location", Value: n.src.Location()},
		{Key: "Compression", Value: n.compression.String()},
		{Key: "Compressed length", Value: fmt.Sprint(n.src.Length())},
	}
}

// Children returns the decompressed data.
func (n *CompressedNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		inner, err := datasource.NewDecompressedSource(n.src, n.compression)
		if err != nil {
			return []datanode.Node{makerFor(n).MakeErrorNode(ctx, n, err)}, nil
		}
		return makeChildren(ctx, n, []any{inner})
	})
}
