package backup

import (
	"context"
	"fmt"
	"io"

	"lims-backup/internal/errors"
)

// RemoteStore mirrors artifacts to off-site storage. Object names are artifact
// file names; the store adds its own prefix.
type RemoteStore interface {
	Upload(ctx context.Context, name string, r io.Reader, size int64) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
	Location(name string) string
}

// StorageProviderFactory creates remote stores from configuration.
type StorageProviderFactory struct{}

// NewStorageProviderFactory creates a new storage provider factory
func NewStorageProviderFactory() *StorageProviderFactory {
	return &StorageProviderFactory{}
}

// CreateRemoteStore returns the store selected by config, or nil when mirroring
// is disabled.
func (spf *StorageProviderFactory) CreateRemoteStore(ctx context.Context, config RemoteConfig) (RemoteStore, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, errors.NewValidationError("invalid remote storage configuration", err)
	}

	switch config.Provider {
	case RemoteProviderNone:
		return nil, nil
	case RemoteProviderLocal:
		return NewLocalStorageProvider(config.Local, config.Prefix)
	case RemoteProviderS3:
		return NewS3StorageProvider(config.S3, config.Prefix)
	case RemoteProviderAzure:
		return NewAzureStorageProvider(config.Azure, config.Prefix)
	case RemoteProviderGCS:
		return NewGCSStorageProvider(ctx, config.GCS, config.Prefix)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported remote provider: %s", config.Provider), nil)
	}
}

// GetSupportedProviders returns the provider names accepted in configuration.
func (spf *StorageProviderFactory) GetSupportedProviders() []RemoteProviderType {
	return []RemoteProviderType{
		RemoteProviderNone,
		RemoteProviderLocal,
		RemoteProviderS3,
		RemoteProviderAzure,
		RemoteProviderGCS,
	}
}

func objectKey(prefix, name string) string {
	return prefix + name
}
