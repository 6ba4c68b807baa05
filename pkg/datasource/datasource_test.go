package datasource

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/treeview/pkg/storage"
)

type countingSource struct {
	*BytesSource
	opens  int
	closed int
	magic  magicCache
}

func (s *countingSource) Open(ctx context.Context) (io.ReadCloser, error) {
	s.opens++
	rc, _ := s.BytesSource.Open(ctx)
	return &closeCounter{ReadCloser: rc, n: &s.closed}, nil
}

func (s *countingSource) Magic(ctx context.Context, n int) ([]byte, error) {
	return s.magic.get(ctx, n, s.Open)
}

type closeCounter struct {
	io.ReadCloser
	n *int
}

func (c *closeCounter) Close() error {
	*c.n++
	return c.ReadCloser.Close()
}

func TestMagicIsCachedAndStreamsClosed(t *testing.T) {
	src := &countingSource{BytesSource: NewBytesSource("x", []byte("SIMPLE  =                    T"))}
	ctx := context.Background()

	m, err := src.Magic(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, "SIMPLE", string(m))

	m, err = src.Magic(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "SIM", string(m))
	assert.Equal(t, 1, src.opens, "shorter prefix should come from cache")

	m, err = src.Magic(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, m, 30)
	_, err = src.Magic(ctx, 2000)
	require.NoError(t, err)
	assert.Equal(t, 2, src.opens, "source known to be exhausted is not reread")
	assert.Equal(t, src.opens, src.closed)
}

func TestDetectCompression(t *testing.T) {
	tests := []struct {
		name  string
		magic []byte
		want  Compression
	}{
		{"gzip", []byte{0x1f, 0x8b, 0x08, 0x00}, CompressionGzip},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, CompressionZstd},
		{"bzip2", []byte("BZh91AY"), CompressionBzip2},
		{"bzip2 bad level", []byte("BZhx"), CompressionNone},
		{"zip", []byte{0x50, 0x4b, 0x03, 0x04}, CompressionNone},
		{"short", []byte{0x1f}, CompressionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectCompression(tt.magic))
		})
	}
}

func TestDecompressedSource(t *testing.T) {
	payload := []byte(strings.Repeat("treeview ", 100))
	ctx := context.Background()

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var zs bytes.Buffer
	enc, err := zstd.NewWriter(&zs)
	require.NoError(t, err)
	_, err = enc.Write(payload)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	tests := []struct {
		name     string
		data     []byte
		srcName  string
		wantName string
	}{
		{"gzip", gz.Bytes(), "spectrum.txt.gz", "spectrum.txt"},
		{"zstd", zs.Bytes(), "spectrum.txt.zst", "spectrum.txt"},
		{"tgz", gz.Bytes(), "bundle.tgz", "bundle.tar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := NewBytesSource(tt.srcName, tt.data)
			magic, err := base.Magic(ctx, 4)
			require.NoError(t, err)

			src, err := NewDecompressedSource(base, DetectCompression(magic))
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, src.Name())
			assert.Equal(t, int64(-1), src.Length())

			got, err := ReadAll(ctx, src, 0)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			head, err := src.Magic(ctx, 8)
			require.NoError(t, err)
			assert.Equal(t, "treeview", string(head))
		})
	}

	_, err = NewDecompressedSource(NewBytesSource("plain", payload), CompressionNone)
	assert.Error(t, err)
}

func TestReadAllLimit(t *testing.T) {
	src := NewBytesSource("big", make([]byte, 100))
	_, err := ReadAll(context.Background(), src, 10)
	assert.Error(t, err)

	data, err := ReadAll(context.Background(), src, 100)
	require.NoError(t, err)
	assert.Len(t, data, 100)
}

func TestFileListingAndSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bbb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	f := NewFile(dir)
	assert.True(t, f.IsDir())
	kids, err := f.List()
	require.NoError(t, err)
	require.Len(t, kids, 3)
	assert.Equal(t, "a.txt", kids[0].Name())
	assert.Equal(t, "sub", kids[2].Name())

	parent, ok := kids[0].Parent()
	require.True(t, ok)
	assert.Equal(t, f.Path, parent.Path)

	src := kids[1].Source()
	assert.Equal(t, int64(3), src.Length())
	m, err := src.Magic(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "bb", string(m))
	assert.Equal(t, int64(-1), kids[2].Source().Length())
}

func TestOpenHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBytesSource("x", []byte("x")).Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeBlobReader struct {
	data      []byte
	downloads []int64
}

func (f *fakeBlobReader) Properties(ctx context.Context, container, blobPath string) (storage.BlobProperties, error) {
	return storage.BlobProperties{Length: int64(len(f.data))}, nil
}

func (f *fakeBlobReader) Download(ctx context.Context, container, blobPath string, offset, count int64) (io.ReadCloser, error) {
	f.downloads = append(f.downloads, count)
	end := int64(len(f.data))
	if count > 0 && offset+count < end {
		end = offset + count
	}
	return io.NopCloser(bytes.NewReader(f.data[offset:end])), nil
}

func TestBlobSource(t *testing.T) {
	reader := &fakeBlobReader{data: []byte("PK\x03\x04rest-of-archive")}
	src := NewBlobSource(reader, storage.BlobRef{Container: "data", Path: "obs/a.zip"})

	assert.Equal(t, "a.zip", src.Name())
	assert.Equal(t, "azblob://data/obs/a.zip", src.Location())
	assert.Equal(t, int64(19), src.Length())

	m, err := src.Magic(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x03\x04"), m)
	assert.Equal(t, []int64{4}, reader.downloads, "magic should use a ranged download")

	all, err := ReadAll(context.Background(), src, 0)
	require.NoError(t, err)
	assert.Equal(t, reader.data, all)
}
