package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewAzureBlobClient(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name             string
		connectionString string
		logger           *zap.Logger
		wantErr          bool
		errContains      string
	}{
		{
			name:             "empty connection string",
			connectionString: "",
			logger:           logger,
			wantErr:          true,
			errContains:      "connection string is required",
		},
		{
			name:             "nil logger",
			connectionString: "AccountName=test;AccountKey=dGVzdA==",
			logger:           nil,
			wantErr:          true,
			errContains:      "logger is required",
		},
		{
			name:             "missing account key",
			connectionString: "DefaultEndpointsProtocol=https;AccountName=test",
			logger:           logger,
			wantErr:          true,
			errContains:      "account name and key are required",
		},
		{
			name:             "azurite endpoint over http",
			connectionString: "AccountName=devstoreaccount1;AccountKey=dGVzdA==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1/",
			logger:           logger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tt.connectionString, tt.logger)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, client)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1", client.serviceURL)
		})
	}
}

func TestParseBlobURL(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		want      BlobRef
		wantErr   bool
	}{
		{name: "simple", reference: "azblob://data/obs/m31.fits", want: BlobRef{Container: "data", Path: "obs/m31.fits"}},
		{name: "escaped and query", reference: "azblob://data/obs%20run/a.sdf?sv=1", want: BlobRef{Container: "data", Path: "obs run/a.sdf"}},
		{name: "upper case scheme", reference: "AZBLOB://c/x", want: BlobRef{Container: "c", Path: "x"}},
		{name: "no path", reference: "azblob://data", wantErr: true},
		{name: "wrong scheme", reference: "https://example.com/a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBlobURL(tt.reference)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBlobRefNavigation(t *testing.T) {
	ref := BlobRef{Container: "data", Path: "obs/2024/m31.fits"}
	assert.Equal(t, "m31.fits", ref.Name())
	assert.Equal(t, "azblob://data/obs/2024/m31.fits", ref.String())

	parent, ok := ref.Parent()
	require.True(t, ok)
	assert.Equal(t, "obs/2024", parent.Path)

	_, ok = BlobRef{Container: "data", Path: "top.fits"}.Parent()
	assert.False(t, ok)
}

func TestAzureBlobClient_Download(t *testing.T) {
	client, err := NewAzureBlobClient("UseDevelopmentStorage=true", zap.NewNop())
	if err != nil {
		t.Skip("Azure Blob Storage not available - skipping download test")
	}

	rc, err := client.Download(context.Background(), "treeview-test", "sample.fits", 0, 80)
	if err != nil {
		t.Skipf("Azurite not reachable: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), 80)
}
