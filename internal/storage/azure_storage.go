package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/url"
	"strings"

	"go-omr-marker/internal/document"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureBlobStore uploads marking archives to a container and reads
// templates from azure://container/blob references.
type AzureBlobStore struct {
	client    *azblob.Client
	container string
}

// NewAzureBlobStore creates a store with shared key credentials
func NewAzureBlobStore(accountName, accountKey, container string) (*AzureBlobStore, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net/", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	return &AzureBlobStore{client: client, container: container}, nil
}

// Put uploads data as a block blob and returns its URL.
func (s *AzureBlobStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if _, err := s.client.UploadBuffer(ctx, s.container, name, data, nil); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return s.BlobURL(name), nil
}

// BlobURL returns the URL of a blob in the archive container.
func (s *AzureBlobStore) BlobURL(name string) string {
	base := strings.TrimSuffix(s.client.URL(), "/")
	return base + "/" + url.PathEscape(s.container) + "/" + escapeBlobPath(name)
}

// FetchImage downloads azure://container/path/to/blob and decodes its
// first page.
func (s *AzureBlobStore) FetchImage(ctx context.Context, ref string) (image.Image, error) {
	container, blob, err := ParseAzureRef(ref)
	if err != nil {
		return nil, err
	}

	downloadResponse, err := s.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	retryReader := downloadResponse.Body
	defer retryReader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(retryReader, maxTemplateBytes)); err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return document.FirstPage(buf.Bytes())
}

// ParseAzureRef splits azure://container/blob into its parts.
func ParseAzureRef(ref string) (container, blob string, err error) {
	parsedURL, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob reference: %w", err)
	}
	if parsedURL.Scheme != "azure" {
		return "", "", fmt.Errorf("invalid blob reference %q: scheme must be azure", ref)
	}
	container = parsedURL.Host
	blob = strings.TrimPrefix(parsedURL.Path, "/")
	if container == "" || blob == "" {
		return "", "", fmt.Errorf("invalid blob reference %q: want azure://container/blob", ref)
	}
	return container, blob, nil
}

func escapeBlobPath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
