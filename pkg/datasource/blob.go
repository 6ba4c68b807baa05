package datasource

import (
	"context"
	"io"
	"sync"

	"github.com/wehubfusion/treeview/pkg/storage"
)

// BlobSource is a DataSource reading an object from blob storage.
type BlobSource struct {
	reader storage.BlobReader
	ref    storage.BlobRef

	propsOnce sync.Once
	length    int64
	magic     magicCache
}

// NewBlobSource creates a source for ref read through reader.
func NewBlobSource(reader storage.BlobReader, ref storage.BlobRef) *BlobSource {
	return &BlobSource{reader: reader, ref: ref, length: -1}
}

// Name returns the last element of the blob path.
func (s *BlobSource) Name() string { return s.ref.Name() }

// Location returns the azblob URL.
func (s *BlobSource) Location() string { return s.ref.String() }

// Length returns the blob size, or -1 if the service could not say.
func (s *BlobSource) Length() int64 {
	s.propsOnce.Do(func() {
		props, err := s.reader.Properties(context.Background(), s.ref.Container, s.ref.Path)
		if err == nil {
			s.length = props.Length
		}
	})
	return s.length
}

// Magic fetches only the requested prefix with a ranged download.
func (s *BlobSource) Magic(ctx context.Context, n int) ([]byte, error) {
	return s.magic.get(ctx, n, func(ctx context.Context) (io.ReadCloser, error) {
		return s.reader.Download(ctx, s.ref.Container, s.ref.Path, 0, int64(n))
	})
}

// Open streams the whole blob.
func (s *BlobSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return s.reader.Download(ctx, s.ref.Container, s.ref.Path, 0, 0)
}

// String describes the source.
func (s *BlobSource) String() string {
	return s.ref.String()
}
