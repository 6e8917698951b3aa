package backup

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorageProvider mirrors artifacts to a Google Cloud Storage bucket.
type GCSStorageProvider struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSStorageProvider creates a GCS mirror.
func NewGCSStorageProvider(ctx context.Context, config GCSConfig, prefix string) (*GCSStorageProvider, error) {
	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSStorageProvider{
		client:     client,
		bucketName: config.Bucket,
		prefix:     prefix,
	}, nil
}

// Upload streams an artifact into an object.
func (gcsp *GCSStorageProvider) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	w := gcsp.client.Bucket(gcsp.bucketName).Object(objectKey(gcsp.prefix, name)).NewWriter(ctx)
	w.ContentType = contentType(name)
	w.Metadata = map[string]string{
		"artifact-size": fmt.Sprint(size),
	}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return NewStorageError(fmt.Sprintf("failed to write %s to GCS", name), err)
	}
	if err := w.Close(); err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload %s to GCS", name), err)
	}
	return nil
}

// Delete removes an artifact object.
func (gcsp *GCSStorageProvider) Delete(ctx context.Context, name string) error {
	if err := gcsp.client.Bucket(gcsp.bucketName).Object(objectKey(gcsp.prefix, name)).Delete(ctx); err != nil {
		return NewStorageError(fmt.Sprintf("failed to delete %s from GCS", name), err)
	}
	return nil
}

// List returns the artifact names stored under the prefix.
func (gcsp *GCSStorageProvider) List(ctx context.Context) ([]string, error) {
	var names []string
	it := gcsp.client.Bucket(gcsp.bucketName).Objects(ctx, &storage.Query{Prefix: gcsp.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list artifacts in GCS", err)
		}
		name := strings.TrimPrefix(attrs.Name, gcsp.prefix)
		if IsArtifactName(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// Location returns the gs:// URL of an artifact.
func (gcsp *GCSStorageProvider) Location(name string) string {
	return fmt.Sprintf("gs://%s/%s", gcsp.bucketName, objectKey(gcsp.prefix, name))
}

// Close releases the underlying client.
func (gcsp *GCSStorageProvider) Close() error {
	return gcsp.client.Close()
}
