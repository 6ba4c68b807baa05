// Package datasource provides the byte-level inputs from which data nodes are
// built: a DataSource exposes a peekable prefix (its magic number), a length
// when known, and fresh input streams on demand.
package datasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
)

// DefaultMagicSize is the number of leading bytes sniffers normally ask for.
// It covers the ustar signature at offset 257 of a tar header.
const DefaultMagicSize = 512

// DataSource is a re-readable source of bytes.
type DataSource interface {
	// Name returns a short name, usually the last path element.
	Name() string

	// Location returns the full path or URL of the source.
	Location() string

	// Length returns the number of bytes, or -1 if unknown.
	Length() int64

	// Magic returns up to n leading bytes. Fewer are returned for short sources.
	Magic(ctx context.Context, n int) ([]byte, error)

	// Open returns a new stream positioned at the start of the data.
	// The caller must close it.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// magicCache caches the longest prefix read so far.
type magicCache struct {
	mu  sync.Mutex
	buf []byte
	eof bool
}

// get returns up to n leading bytes, reading through open only when the
// cached prefix is too short.
func (m *magicCache) get(ctx context.Context, n int, open func(ctx context.Context) (io.ReadCloser, error)) (out []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buf) >= n || m.eof {
		return clip(m.buf, n), nil
	}
	rc, err := open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, rc.Close())
	}()
	buf := make([]byte, n)
	got, rerr := io.ReadFull(rc, buf)
	switch rerr {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		m.eof = true
	default:
		return nil, fmt.Errorf("reading magic: %w", rerr)
	}
	m.buf = buf[:got]
	return clip(m.buf, n), nil
}

func clip(b []byte, n int) []byte {
	if len(b) > n {
		b = b[:n]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// BytesSource is a DataSource backed by an in-memory byte slice.
type BytesSource struct {
	name     string
	location string
	data     []byte
}

// NewBytesSource creates a source over data.
func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{name: name, location: name, data: data}
}

// Name returns the source name.
func (s *BytesSource) Name() string { return s.name }

// Location returns the source location.
func (s *BytesSource) Location() string { return s.location }

// Length returns the number of bytes.
func (s *BytesSource) Length() int64 { return int64(len(s.data)) }

// Magic returns up to n leading bytes.
func (s *BytesSource) Magic(ctx context.Context, n int) ([]byte, error) {
	return clip(s.data, n), nil
}

// Open returns a reader over the bytes.
func (s *BytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

// String describes the source.
func (s *BytesSource) String() string {
	return fmt.Sprintf("bytes:%s (%d bytes)", s.name, len(s.data))
}

// ReadAll reads an entire source, refusing sources longer than limit bytes
// when limit is positive.
func ReadAll(ctx context.Context, src DataSource, limit int64) (data []byte, err error) {
	if limit > 0 && src.Length() > limit {
		return nil, fmt.Errorf("source %s is %d bytes, over the %d byte limit", src.Name(), src.Length(), limit)
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, rc.Close())
	}()
	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err = io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("source %s exceeds the %d byte limit", src.Name(), limit)
	}
	return data, nil
}

// StreamSource adapts an open function to a DataSource. It suits entries of
// archives and other sources that can only be reread from the start.
type StreamSource struct {
	name     string
	location string
	length   int64
	open     func(ctx context.Context) (io.ReadCloser, error)
	magic    magicCache
}

// NewStreamSource creates a source whose streams come from open.
// length is -1 when unknown.
func NewStreamSource(name, location string, length int64, open func(ctx context.Context) (io.ReadCloser, error)) *StreamSource {
	return &StreamSource{name: name, location: location, length: length, open: open}
}

// Name returns the source name.
func (s *StreamSource) Name() string { return s.name }

// Location returns the source location.
func (s *StreamSource) Location() string { return s.location }

// Length returns the length, or -1.
func (s *StreamSource) Length() int64 { return s.length }

// Magic returns up to n leading bytes.
func (s *StreamSource) Magic(ctx context.Context, n int) ([]byte, error) {
	return s.magic.get(ctx, n, s.Open)
}

// Open returns a new stream.
func (s *StreamSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.open(ctx)
}

// String describes the source.
func (s *StreamSource) String() string {
	return "stream:" + s.location
}
