package datasource

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// File is a handle on a filesystem path, which may be a directory.
// Unlike a DataSource it supports random access and directory listing.
type File struct {
	Path string
}

// NewFile returns a File for path, made absolute where possible.
func NewFile(path string) File {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return File{Path: filepath.Clean(path)}
}

// Name returns the last element of the path.
func (f File) Name() string {
	return filepath.Base(f.Path)
}

// Stat returns the file information.
func (f File) Stat() (fs.FileInfo, error) {
	return os.Stat(f.Path)
}

// IsDir reports whether the path is a directory.
func (f File) IsDir() bool {
	info, err := os.Stat(f.Path)
	return err == nil && info.IsDir()
}

// Parent returns the containing directory, and false at the filesystem root.
func (f File) Parent() (File, bool) {
	dir := filepath.Dir(f.Path)
	if dir == f.Path {
		return File{}, false
	}
	return File{Path: dir}, true
}

// List returns the directory entries sorted by name.
func (f File) List() ([]File, error) {
	entries, err := os.ReadDir(f.Path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	out := make([]File, len(names))
	for i, name := range names {
		out[i] = File{Path: filepath.Join(f.Path, name)}
	}
	return out, nil
}

// Source returns a DataSource reading the file.
func (f File) Source() *FileSource {
	return NewFileSource(f.Path)
}

// String returns the path.
func (f File) String() string {
	return f.Path
}

// FileSource is a DataSource reading a regular file.
type FileSource struct {
	path  string
	magic magicCache
}

// NewFileSource creates a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// File returns the file handle behind this source.
func (s *FileSource) File() File {
	return File{Path: s.path}
}

// Name returns the file name.
func (s *FileSource) Name() string { return filepath.Base(s.path) }

// Location returns the file path.
func (s *FileSource) Location() string { return s.path }

// Length returns the file size, or -1 if it cannot be determined.
func (s *FileSource) Length() int64 {
	info, err := os.Stat(s.path)
	if err != nil || !info.Mode().IsRegular() {
		return -1
	}
	return info.Size()
}

// Magic returns up to n leading bytes of the file.
func (s *FileSource) Magic(ctx context.Context, n int) ([]byte, error) {
	return s.magic.get(ctx, n, s.Open)
}

// Open opens the file.
func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	return fh, nil
}

// String describes the source.
func (s *FileSource) String() string {
	return "file:" + s.path
}
