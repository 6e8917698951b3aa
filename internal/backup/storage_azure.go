package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureStorageProvider mirrors artifacts to an Azure Blob Storage container.
type AzureStorageProvider struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
}

// NewAzureStorageProvider creates an Azure mirror authenticated with a shared key.
func NewAzureStorageProvider(config AzureConfig, prefix string) (*AzureStorageProvider, error) {
	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureStorageProvider{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        prefix,
	}, nil
}

// Upload streams an artifact into a block blob.
func (azp *AzureStorageProvider) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	blobURL := azp.containerURL.NewBlockBlobURL(objectKey(azp.prefix, name))
	_, err := azblob.UploadStreamToBlockBlob(ctx, r, blobURL, azblob.UploadStreamToBlockBlobOptions{
		BufferSize: 4 * 1024 * 1024,
		MaxBuffers: 4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: contentType(name),
		},
		Metadata: azblob.Metadata{
			"artifactsize": fmt.Sprint(size),
		},
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload %s to Azure", name), err)
	}
	return nil
}

// Delete removes an artifact blob and its snapshots.
func (azp *AzureStorageProvider) Delete(ctx context.Context, name string) error {
	blobURL := azp.containerURL.NewBlockBlobURL(objectKey(azp.prefix, name))
	if _, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
		return NewStorageError(fmt.Sprintf("failed to delete %s from Azure", name), err)
	}
	return nil
}

// List returns the artifact names stored under the prefix.
func (azp *AzureStorageProvider) List(ctx context.Context) ([]string, error) {
	var names []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		listResponse, err := azp.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: azp.prefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list artifacts in Azure", err)
		}

		for _, blob := range listResponse.Segment.BlobItems {
			name := strings.TrimPrefix(blob.Name, azp.prefix)
			if IsArtifactName(name) {
				names = append(names, name)
			}
		}
		marker = listResponse.NextMarker
	}
	return names, nil
}

// Location returns the azure:// URL of an artifact.
func (azp *AzureStorageProvider) Location(name string) string {
	return fmt.Sprintf("azure://%s/%s", azp.containerName, objectKey(azp.prefix, name))
}
