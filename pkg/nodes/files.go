package nodes

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"time"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// FileNode represents a regular file of no recognised format.
type FileNode struct {
	datanode.BaseNode
	file datasource.File
	info fs.FileInfo
}

// NewFileNode creates a file node. It declines directories and missing files.
func NewFileNode(ctx context.Context, f datasource.File) (*FileNode, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.NoSuchDataCause(err, "%s cannot be examined", f.Path)
	}
	if info.IsDir() {
		return nil, errors.NoSuchData("%s is a directory", f.Path)
	}
	return &FileNode{
		BaseNode: datanode.NewBaseNode(f.Name(), datanode.TypeFile, datanode.IconFile, false),
		file:     f,
		info:     info,
	}, nil
}

// File returns the file handle.
func (n *FileNode) File() datasource.File { return n.file }

// Description gives the file size.
func (n *FileNode) Description() string {
	return fmt.Sprintf("%d bytes", n.info.Size())
}

// Details lists path, size, mode and modification time.
func (n *FileNode) Details() []datanode.Detail {
	return []datanode.Detail{
		{Key: "Path", Value: n.file.Path},
		{Key: "Size", Value: fmt.Sprint(n.info.Size())},
		{Key: "Mode", Value: n.info.Mode().String()},
		{Key: "Modified", Value: n.info.ModTime().UTC().Format(time.RFC3339)},
	}
}

// DirectoryNode represents a directory.
type DirectoryNode struct {
	datanode.BaseNode
	file datasource.File
}

// NewDirectoryNode creates a directory node. It declines anything that is
// not a directory.
func NewDirectoryNode(ctx context.Context, f datasource.File) (*DirectoryNode, error) {
	if !f.IsDir() {
		return nil, errors.NoSuchData("%s is not a directory", f.Path)
	}
	name := f.Name()
	if name == "/" || name == "." {
		name = f.Path
	}
	return &DirectoryNode{
		BaseNode: datanode.NewBaseNode(name, datanode.TypeDirectory, datanode.IconFolder, true),
		file:     f,
	}, nil
}

// File returns the directory handle.
func (n *DirectoryNode) File() datasource.File { return n.file }

// Description gives the path.
func (n *DirectoryNode) Description() string { return n.file.Path }

// Details gives the path.
func (n *DirectoryNode) Details() []datanode.Detail {
	return []datanode.Detail{{Key: "Path", Value: n.file.Path}}
}

// Children returns the directory entries sorted by name.
func (n *DirectoryNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		entries, err := n.file.List()
		if err != nil {
			return []datanode.Node{makerFor(n).MakeErrorNode(ctx, n, err)}, nil
		}
		objs := make([]any, len(entries))
		for i, e := range entries {
			objs[i] = e
		}
		return makeChildren(ctx, n, objs)
	})
}

// StreamNode is the fallback representation of any data source.
type StreamNode struct {
	datanode.BaseNode
	src     datasource.DataSource
	magic   []byte
	readErr error
}

// streamPreview is the number of leading bytes shown by stream nodes.
const streamPreview = 16

// NewStreamNode creates a node for any data source. It never declines; an
// unreadable source shows the read error instead of its leading bytes.
func NewStreamNode(ctx context.Context, src datasource.DataSource) (*StreamNode, error) {
	magic, err := src.Magic(ctx, streamPreview)
	if errors.IsCancelled(err) {
		return nil, err
	}
	return &StreamNode{
		BaseNode: datanode.NewBaseNode(src.Name(), datanode.TypeStream, datanode.IconData, false),
		src:      src,
		magic:    magic,
		readErr:  err,
	}, nil
}

// Source returns the data source.
func (n *StreamNode) Source() datasource.DataSource { return n.src }

// Description gives the length when known.
func (n *StreamNode) Description() string {
	if n.readErr != nil {
		return "unreadable: " + n.readErr.Error()
	}
	if l := n.src.Length(); l >= 0 {
		return fmt.Sprintf("%d bytes", l)
	}
	return "byte stream"
}

// Details lists location, length and the leading bytes in hex.
func (n *StreamNode) Details() []datanode.Detail {
	d := []datanode.Detail{
		{Key: "Location", Value: n.src.Location()},
		{Key: "Length", Value: fmt.Sprint(n.src.Length())},
		{Key: "Leading bytes", Value: hex.EncodeToString(n.magic)},
	}
	if n.readErr != nil {
		d = append(d, datanode.Detail{Key: "Read error", Value: n.readErr.Error()})
	}
	return d
}
