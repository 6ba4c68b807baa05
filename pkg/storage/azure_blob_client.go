// Package storage provides read access to remote object stores from which
// data sources can be opened.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.uber.org/zap"
)

// BlobScheme is the URL scheme naming Azure blobs, as in azblob://container/path.
const BlobScheme = "azblob"

// ErrBlobNotFound indicates that a blob or container does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobProperties holds the blob attributes used by data sources.
type BlobProperties struct {
	Length      int64
	ContentType string
}

// BlobReader reads blobs from a blob service.
type BlobReader interface {
	// Properties returns the attributes of a blob.
	Properties(ctx context.Context, container, blobPath string) (BlobProperties, error)

	// Download opens a stream over count bytes of a blob starting at offset.
	// A count of zero reads to the end of the blob.
	Download(ctx context.Context, container, blobPath string, offset, count int64) (io.ReadCloser, error)
}

// AzureBlobClient implements BlobReader for Azure Blob Storage using shared keys.
// Plain-HTTP endpoints are permitted so local Azurite instances can be browsed.
type AzureBlobClient struct {
	client     *azblob.Client
	serviceURL string
	logger     *zap.Logger
}

// NewAzureBlobClient creates a new Azure Blob storage client from a standard connection string.
func NewAzureBlobClient(connectionString string, logger *zap.Logger) (*AzureBlobClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlobClient{
		client:     client,
		serviceURL: strings.TrimRight(serviceURL, "/"),
		logger:     logger,
	}, nil
}

// Properties returns the length and content type of a blob.
func (a *AzureBlobClient) Properties(ctx context.Context, container, blobPath string) (BlobProperties, error) {
	blobClient := a.client.ServiceClient().NewContainerClient(container).NewBlobClient(blobPath)
	resp, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return BlobProperties{}, a.wrap("get properties", container, blobPath, err)
	}
	props := BlobProperties{Length: -1}
	if resp.ContentLength != nil {
		props.Length = *resp.ContentLength
	}
	if resp.ContentType != nil {
		props.ContentType = *resp.ContentType
	}
	return props, nil
}

// Download opens a ranged stream over a blob.
func (a *AzureBlobClient) Download(ctx context.Context, container, blobPath string, offset, count int64) (io.ReadCloser, error) {
	var opts *azblob.DownloadStreamOptions
	if offset > 0 || count > 0 {
		opts = &azblob.DownloadStreamOptions{
			Range: azblob.HTTPRange{Offset: offset, Count: count},
		}
	}
	resp, err := a.client.DownloadStream(ctx, container, blobPath, opts)
	if err != nil {
		return nil, a.wrap("download", container, blobPath, err)
	}
	a.logger.Debug("Opened blob stream",
		zap.String("container", container),
		zap.String("blob_path", blobPath),
		zap.Int64("offset", offset),
		zap.Int64("count", count))
	return resp.Body, nil
}

func (a *AzureBlobClient) wrap(op, container, blobPath string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s/%s: %w", op, container, blobPath, ErrBlobNotFound)
	}
	a.logger.Error("Blob storage request failed",
		zap.String("endpoint", a.serviceURL),
		zap.String("op", op),
		zap.String("container", container),
		zap.String("blob_path", blobPath),
		zap.Error(err))
	return fmt.Errorf("blob %s failed: %w", op, err)
}

// BlobRef names one blob.
type BlobRef struct {
	Container string
	Path      string
}

// String renders the reference as an azblob URL.
func (r BlobRef) String() string {
	return BlobScheme + "://" + r.Container + "/" + r.Path
}

// Name returns the last element of the blob path.
func (r BlobRef) Name() string {
	if idx := strings.LastIndex(r.Path, "/"); idx >= 0 {
		return r.Path[idx+1:]
	}
	return r.Path
}

// Parent returns the reference of the enclosing virtual directory, and false
// when the blob sits at the top of its container.
func (r BlobRef) Parent() (BlobRef, bool) {
	idx := strings.LastIndex(r.Path, "/")
	if idx <= 0 {
		return BlobRef{}, false
	}
	return BlobRef{Container: r.Container, Path: r.Path[:idx]}, true
}

// IsBlobURL reports whether s uses the azblob scheme.
func IsBlobURL(s string) bool {
	return strings.HasPrefix(strings.ToLower(s), BlobScheme+"://")
}

// ParseBlobURL parses azblob://container/path/to/blob. Percent-escapes in the
// path are decoded and any query string is dropped.
func ParseBlobURL(reference string) (BlobRef, error) {
	ref := strings.TrimSpace(reference)
	if !IsBlobURL(ref) {
		return BlobRef{}, fmt.Errorf("not an %s URL: %q", BlobScheme, reference)
	}
	ref = ref[len(BlobScheme)+3:]

	if idx := strings.Index(ref, "?"); idx != -1 {
		ref = ref[:idx]
	}
	if decoded, err := url.PathUnescape(ref); err == nil && decoded != "" {
		ref = decoded
	}

	container, blobPath, ok := strings.Cut(ref, "/")
	blobPath = strings.Trim(blobPath, "/")
	if !ok || container == "" || blobPath == "" {
		return BlobRef{}, fmt.Errorf("blob URL %q needs both a container and a path", reference)
	}
	return BlobRef{Container: container, Path: blobPath}, nil
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}
