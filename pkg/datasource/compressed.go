package datasource

import (
	"bytes"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"
)

// Compression identifies a stream compression format.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBzip2
	CompressionZstd
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	zstdMagic  = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectCompression identifies the compression format from leading bytes.
func DetectCompression(magic []byte) Compression {
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(magic, zstdMagic):
		return CompressionZstd
	case len(magic) >= 4 && bytes.HasPrefix(magic, bzip2Magic) && magic[3] >= '1' && magic[3] <= '9':
		return CompressionBzip2
	default:
		return CompressionNone
	}
}

// String returns the format name.
func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBzip2:
		return "bzip2"
	case CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

// suffix returns the usual file suffix of the format.
func (c Compression) suffix() []string {
	switch c {
	case CompressionGzip:
		return []string{".gz", ".gzip", ".tgz"}
	case CompressionBzip2:
		return []string{".bz2", ".bzip2", ".tbz"}
	case CompressionZstd:
		return []string{".zst", ".zstd"}
	default:
		return nil
	}
}

// DecompressedSource is a DataSource yielding the decompressed bytes of
// another source.
type DecompressedSource struct {
	base        DataSource
	compression Compression
	magic       magicCache
}

// NewDecompressedSource wraps base, which must be compressed with c.
func NewDecompressedSource(base DataSource, c Compression) (*DecompressedSource, error) {
	if c == CompressionNone {
		return nil, fmt.Errorf("source %s is not compressed", base.Name())
	}
	return &DecompressedSource{base: base, compression: c}, nil
}

// Name returns the base name with the compression suffix removed.
func (s *DecompressedSource) Name() string {
	name := s.base.Name()
	lower := strings.ToLower(name)
	for _, suf := range s.compression.suffix() {
		if strings.HasSuffix(lower, suf) {
			trimmed := name[:len(name)-len(suf)]
			if suf == ".tgz" || suf == ".tbz" {
				trimmed += ".tar"
			}
			return trimmed
		}
	}
	return name
}

// Location returns the base location.
func (s *DecompressedSource) Location() string { return s.base.Location() }

// Length is unknown for decompressed data.
func (s *DecompressedSource) Length() int64 { return -1 }

// Magic returns up to n leading decompressed bytes.
func (s *DecompressedSource) Magic(ctx context.Context, n int) ([]byte, error) {
	return s.magic.get(ctx, n, s.Open)
}

// Open returns a decompressing stream.
func (s *DecompressedSource) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := s.base.Open(ctx)
	if err != nil {
		return nil, err
	}
	switch s.compression {
	case CompressionGzip:
		zr, err := gzip.NewReader(rc)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("gzip %s: %w", s.base.Name(), err), rc.Close())
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(rc)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("zstd %s: %w", s.base.Name(), err), rc.Close())
		}
		zrc := zr.IOReadCloser()
		return &stackedCloser{Reader: zrc, closers: []io.Closer{zrc, rc}}, nil
	case CompressionBzip2:
		return &stackedCloser{Reader: bzip2.NewReader(rc), closers: []io.Closer{rc}}, nil
	default:
		return nil, multierr.Append(fmt.Errorf("unsupported compression %s", s.compression), rc.Close())
	}
}

// String describes the source.
func (s *DecompressedSource) String() string {
	return fmt.Sprintf("%s(%s)", s.compression, s.base.Location())
}

// stackedCloser closes every layer of a reader stack, innermost last.
type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (c *stackedCloser) Close() error {
	var err error
	for _, cl := range c.closers {
		err = multierr.Append(err, cl.Close())
	}
	return err
}
