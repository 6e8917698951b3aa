package backup

import (
	stderrors "errors"
	"fmt"
	"time"

	"lims-backup/internal/database"
	"lims-backup/internal/snapshot"
)

const (
	DefaultBackupDir       = "backups"
	DefaultLogFile         = "backup_log.json"
	DefaultRetentionDays   = 30
	DefaultMaxUploadSize   = 50 << 20
	DefaultLockTimeout     = 2 * time.Hour
	DefaultCompressionType = CompressionTypeNone
)

// Config controls where artifacts live and how they are produced.
type Config struct {
	Dir              string          `mapstructure:"dir" yaml:"dir"`
	FileRoot         string          `mapstructure:"file_root" yaml:"file_root"`
	LogFile          string          `mapstructure:"log_file" yaml:"log_file"`
	SettingsTables   []string        `mapstructure:"settings_tables" yaml:"settings_tables"`
	RetentionDays    int             `mapstructure:"retention_days" yaml:"retention_days"`
	Compression      CompressionType `mapstructure:"compression" yaml:"compression"`
	CompressionLevel int             `mapstructure:"compression_level" yaml:"compression_level"`
	MaxUploadSize    int64           `mapstructure:"max_upload_size" yaml:"max_upload_size"`
	LockTimeout      time.Duration   `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	AuditTable       string          `mapstructure:"audit_table" yaml:"audit_table"`
	Remote           RemoteConfig    `mapstructure:"remote" yaml:"remote"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Dir == "" {
		c.Dir = DefaultBackupDir
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
	if len(c.SettingsTables) == 0 {
		c.SettingsTables = append([]string(nil), snapshot.DefaultSettingsTables...)
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.Compression == "" {
		c.Compression = DefaultCompressionType
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = DefaultMaxUploadSize
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.AuditTable == "" {
		c.AuditTable = database.DefaultAuditTable
	}
	c.Remote.SetDefaults()
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, fmt.Errorf("backup dir is required"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention_days must not be negative, got %d", c.RetentionDays))
	}
	if _, err := ParseCompression(string(c.Compression)); err != nil {
		errs = append(errs, err)
	}
	if c.MaxUploadSize < 0 {
		errs = append(errs, fmt.Errorf("max_upload_size must not be negative"))
	}
	if c.LockTimeout < 0 {
		errs = append(errs, fmt.Errorf("lock_timeout must not be negative"))
	}
	if err := c.Remote.Validate(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

// RemoteProviderType selects the off-site mirror for artifacts.
type RemoteProviderType string

const (
	RemoteProviderNone  RemoteProviderType = "none"
	RemoteProviderLocal RemoteProviderType = "local"
	RemoteProviderS3    RemoteProviderType = "s3"
	RemoteProviderAzure RemoteProviderType = "azure"
	RemoteProviderGCS   RemoteProviderType = "gcs"
)

// RemoteConfig configures mirroring of artifacts to object storage.
type RemoteConfig struct {
	Provider RemoteProviderType `mapstructure:"provider" yaml:"provider"`
	Prefix   string             `mapstructure:"prefix" yaml:"prefix"`
	Local    LocalConfig        `mapstructure:"local" yaml:"local"`
	S3       S3Config           `mapstructure:"s3" yaml:"s3"`
	Azure    AzureConfig        `mapstructure:"azure" yaml:"azure"`
	GCS      GCSConfig          `mapstructure:"gcs" yaml:"gcs"`
}

// LocalConfig mirrors artifacts into another directory, typically a mounted
// network share.
type LocalConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// S3Config for Amazon S3 and S3-compatible stores.
type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// AzureConfig for Azure Blob Storage.
type AzureConfig struct {
	AccountName   string `mapstructure:"account_name" yaml:"account_name"`
	AccountKey    string `mapstructure:"account_key" yaml:"account_key"`
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
}

// GCSConfig for Google Cloud Storage. Without a credentials file the
// application default credentials are used.
type GCSConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`
}

// SetDefaults fills unset fields.
func (rc *RemoteConfig) SetDefaults() {
	if rc.Provider == "" {
		rc.Provider = RemoteProviderNone
	}
	if rc.Prefix == "" {
		rc.Prefix = "backups/"
	}
	if rc.S3.Region == "" {
		rc.S3.Region = "us-east-1"
	}
}

// Validate checks the settings of the selected provider only.
func (rc *RemoteConfig) Validate() error {
	var errs []error
	switch rc.Provider {
	case RemoteProviderNone, "":
	case RemoteProviderLocal:
		if rc.Local.Path == "" {
			errs = append(errs, fmt.Errorf("local mirror path is required"))
		}
	case RemoteProviderS3:
		if rc.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("S3 bucket name is required"))
		}
		if rc.S3.Region == "" {
			errs = append(errs, fmt.Errorf("S3 region is required"))
		}
		if (rc.S3.AccessKey == "") != (rc.S3.SecretKey == "") {
			errs = append(errs, fmt.Errorf("S3 access key and secret key must be set together"))
		}
	case RemoteProviderAzure:
		if rc.Azure.AccountName == "" {
			errs = append(errs, fmt.Errorf("Azure account name is required"))
		}
		if rc.Azure.AccountKey == "" {
			errs = append(errs, fmt.Errorf("Azure account key is required"))
		}
		if rc.Azure.ContainerName == "" {
			errs = append(errs, fmt.Errorf("Azure container name is required"))
		}
	case RemoteProviderGCS:
		if rc.GCS.Bucket == "" {
			errs = append(errs, fmt.Errorf("GCS bucket name is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported remote provider: %s", rc.Provider))
	}
	return stderrors.Join(errs...)
}
