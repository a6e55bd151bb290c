package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// BlobStore keeps uploads in one Azure Blob Storage container
type BlobStore struct {
	client    *azblob.Client
	container string
}

// NewBlobStore connects to accountURL (https://<account>.blob.core.windows.net/)
// using the default Azure credential chain
func NewBlobStore(accountURL, container string) (*BlobStore, error) {
	if accountURL == "" || container == "" {
		return nil, fmt.Errorf("azure blob store needs an account URL and a container")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credential: %w", err)
	}

	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	log.Printf("[Storage] Using Azure blob container %s", container)
	return &BlobStore{client: client, container: container}, nil
}

func blobName(path string) string {
	return strings.TrimPrefix(path, "/")
}

func (s *BlobStore) Exists(ctx context.Context, path string) (bool, error) {
	blob := s.client.ServiceClient().NewContainerClient(s.container).NewBlobClient(blobName(path))
	_, err := blob.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get blob properties for %s: %w", path, err)
	}
	return true, nil
}

func (s *BlobStore) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, blobName(path), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("%s: %w", path, ErrObjectNotFound)
		}
		return fmt.Errorf("failed to delete blob %s: %w", path, err)
	}
	return nil
}

func (s *BlobStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, blobName(path), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%s: %w", path, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to download blob %s: %w", path, err)
	}
	return resp.Body, nil
}
