package nodes

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/multierr"
	"golang.org/x/text/encoding/charmap"

	"github.com/wehubfusion/treeview/pkg/datanode"
	"github.com/wehubfusion/treeview/pkg/datasource"
	"github.com/wehubfusion/treeview/pkg/errors"
)

// ZipEntry describes one member of a zip archive. Directories implied by
// member paths are listed even when the archive has no entry for them.
type ZipEntry struct {
	Path     string
	Size     int64
	Dir      bool
	Modified time.Time
	index    int
}

// Name returns the last path element.
func (e ZipEntry) Name() string {
	return path.Base(e.Path)
}

// ZipArchive is an indexed zip archive that can be reopened on demand.
type ZipArchive struct {
	name     string
	location string
	open     func() (*zip.Reader, io.Closer, error)
	listing  map[string][]ZipEntry
	count    int
}

// OpenZipFile indexes the zip archive at f. Files that are not zip archives
// are reported as NoSuchData.
func OpenZipFile(f datasource.File) (*ZipArchive, error) {
	open := func() (*zip.Reader, io.Closer, error) {
		rc, err := zip.OpenReader(f.Path)
		if err != nil {
			return nil, nil, err
		}
		return &rc.Reader, rc, nil
	}
	return newZipArchive(f.Name(), f.Path, open)
}

// OpenZipBytes indexes an in-memory zip archive.
func OpenZipBytes(name, location string, data []byte) (*ZipArchive, error) {
	open := func() (*zip.Reader, io.Closer, error) {
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, nil, err
		}
		return zr, noClose{}, nil
	}
	return newZipArchive(name, location, open)
}

func newZipArchive(name, location string, open func() (*zip.Reader, io.Closer, error)) (a *ZipArchive, err error) {
	zr, closer, err := open()
	if err != nil {
		if stderrors.Is(err, zip.ErrFormat) || stderrors.Is(err, zip.ErrAlgorithm) {
			return nil, errors.NoSuchDataCause(err, "%s is not a zip archive", name)
		}
		return nil, fmt.Errorf("open zip archive %s: %w", location, err)
	}
	defer func() {
		err = multierr.Append(err, closer.Close())
	}()

	a = &ZipArchive{
		name:     name,
		location: location,
		open:     open,
		listing:  make(map[string][]ZipEntry),
	}
	seen := map[string]bool{"": true}
	var addDir func(dir string)
	addDir = func(dir string) {
		if seen[dir] {
			return
		}
		seen[dir] = true
		parent := path.Dir(dir)
		if parent == "." {
			parent = ""
		}
		addDir(parent)
		a.listing[parent] = append(a.listing[parent], ZipEntry{Path: dir, Dir: true, index: -1})
	}
	for i, f := range zr.File {
		name := zipName(f)
		isDir := strings.HasSuffix(name, "/")
		clean := strings.Trim(path.Clean("/"+name), "/")
		if clean == "" {
			continue
		}
		if isDir {
			addDir(clean)
			continue
		}
		parent := path.Dir(clean)
		if parent == "." {
			parent = ""
		}
		addDir(parent)
		a.listing[parent] = append(a.listing[parent], ZipEntry{
			Path:     clean,
			Size:     int64(f.UncompressedSize64),
			Modified: f.Modified,
			index:    i,
		})
		a.count++
	}
	return a, nil
}

// zipName decodes an entry name, using code page 437 for names not flagged as UTF-8.
func zipName(f *zip.File) string {
	if !f.NonUTF8 {
		return f.Name
	}
	decoded, err := charmap.CodePage437.NewDecoder().String(f.Name)
	if err != nil {
		return f.Name
	}
	return decoded
}

// Name returns the archive name.
func (a *ZipArchive) Name() string { return a.name }

// Location returns the archive location.
func (a *ZipArchive) Location() string { return a.location }

// Files returns the number of file entries.
func (a *ZipArchive) Files() int { return a.count }

// List returns the entries directly inside dir, "" being the top level.
func (a *ZipArchive) List(dir string) []ZipEntry {
	return a.listing[strings.Trim(dir, "/")]
}

// Source returns a data source reading a file entry.
func (a *ZipArchive) Source(e ZipEntry) datasource.DataSource {
	return datasource.NewStreamSource(e.Name(), a.location+"!/"+e.Path, e.Size, func(ctx context.Context) (io.ReadCloser, error) {
		zr, closer, err := a.open()
		if err != nil {
			return nil, err
		}
		if e.index < 0 || e.index >= len(zr.File) {
			return nil, multierr.Append(fmt.Errorf("zip entry %s vanished from %s", e.Path, a.location), closer.Close())
		}
		rc, err := zr.File[e.index].Open()
		if err != nil {
			return nil, multierr.Append(err, closer.Close())
		}
		return &stackedReadCloser{ReadCloser: rc, outer: closer}, nil
	})
}

type noClose struct{}

func (noClose) Close() error { return nil }

type stackedReadCloser struct {
	io.ReadCloser
	outer io.Closer
}

func (s *stackedReadCloser) Close() error {
	return multierr.Append(s.ReadCloser.Close(), s.outer.Close())
}

func (a *ZipArchive) children(ctx context.Context, parent datanode.Node, dir string) ([]datanode.Node, error) {
	entries := a.List(dir)
	objs := make([]any, len(entries))
	for i, e := range entries {
		if e.Dir {
			objs[i] = ZipDir{Archive: a, Path: e.Path}
		} else {
			objs[i] = a.Source(e)
		}
	}
	return makeChildren(ctx, parent, objs)
}

// ZipDir is a directory inside a zip archive.
type ZipDir struct {
	Archive *ZipArchive
	Path    string
}

// ZipNode represents a zip archive.
type ZipNode struct {
	datanode.BaseNode
	archive *ZipArchive
}

// NewZipNode indexes the archive at f. It declines directories and files
// that are not zip archives.
func NewZipNode(ctx context.Context, f datasource.File) (*ZipNode, error) {
	if f.IsDir() {
		return nil, errors.NoSuchData("%s is a directory", f.Path)
	}
	archive, err := OpenZipFile(f)
	if err != nil {
		return nil, err
	}
	return NewZipArchiveNode(ctx, archive)
}

// NewZipArchiveNode creates a node for an indexed archive.
func NewZipArchiveNode(ctx context.Context, archive *ZipArchive) (*ZipNode, error) {
	return &ZipNode{
		BaseNode: datanode.NewBaseNode(archive.Name(), datanode.TypeZip, datanode.IconArchive, true),
		archive:  archive,
	}, nil
}

// Archive returns the archive index.
func (n *ZipNode) Archive() *ZipArchive { return n.archive }

// Description gives the number of files.
func (n *ZipNode) Description() string {
	return fmt.Sprintf("zip archive, %d files", n.archive.Files())
}

// Details gives the location and file count.
func (n *ZipNode) Details() []datanode.Detail {
	return []datanode.Detail{
		{Key: "Location", Value: n.archive.Location()},
		{Key: "Files", Value: fmt.Sprint(n.archive.Files())},
	}
}

// Children returns the top-level entries.
func (n *ZipNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return n.archive.children(ctx, n, "")
	})
}

// ZipBranchNode represents a directory inside a zip archive.
type ZipBranchNode struct {
	datanode.BaseNode
	dir ZipDir
}

// NewZipBranchNode creates a node for a zip directory.
func NewZipBranchNode(ctx context.Context, dir ZipDir) (*ZipBranchNode, error) {
	if dir.Archive == nil {
		return nil, errors.NoSuchData("zip directory without archive")
	}
	return &ZipBranchNode{
		BaseNode: datanode.NewBaseNode(path.Base(dir.Path), datanode.TypeZipBranch, datanode.IconFolder, true),
		dir:      dir,
	}, nil
}

// Description gives the number of entries.
func (n *ZipBranchNode) Description() string {
	return fmt.Sprintf("%d entries", len(n.dir.Archive.List(n.dir.Path)))
}

// Details gives the path inside the archive.
func (n *ZipBranchNode) Details() []datanode.Detail {
	return []datanode.Detail{
		{Key: "Archive", Value: n.dir.Archive.Location()},
		{Key: "Path", Value: n.dir.Path},
	}
}

// Children returns the entries in the directory.
func (n *ZipBranchNode) Children(ctx context.Context) ([]datanode.Node, error) {
	return n.CachedChildren(ctx, func(ctx context.Context) ([]datanode.Node, error) {
		return n.dir.Archive.children(ctx, n, n.dir.Path)
	})
}
