package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"lims-backup/internal/backup"
	"lims-backup/internal/database"
	"lims-backup/internal/logging"

	"github.com/spf13/viper"
)

// ConfigName is the file name searched for, without extension.
const ConfigName = "lims-backup"

// EnvPrefix prefixes every environment override, e.g. LIMS_BACKUP_DATABASE_HOST.
const EnvPrefix = "LIMS_BACKUP"

// Config is the complete application configuration.
type Config struct {
	Database database.DatabaseConfig `mapstructure:"database" yaml:"database"`
	Backup   backup.Config           `mapstructure:"backup" yaml:"backup"`
	Schedule backup.ScheduleConfig   `mapstructure:"schedule" yaml:"schedule"`
	API      APIConfig               `mapstructure:"api" yaml:"api"`
	Logging  logging.Config          `mapstructure:"logging" yaml:"logging"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults fills unset fields.
func (ac *APIConfig) SetDefaults() {
	if ac.Listen == "" {
		ac.Listen = ":8080"
	}
	if ac.ReadTimeout == 0 {
		ac.ReadTimeout = 5 * time.Minute
	}
	if ac.WriteTimeout == 0 {
		ac.WriteTimeout = 30 * time.Minute
	}
	if ac.ShutdownTimeout == 0 {
		ac.ShutdownTimeout = 30 * time.Second
	}
}

// SetDefaults fills unset fields in every section.
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Backup.SetDefaults()
	c.Schedule.SetDefaults()
	c.API.SetDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = logging.LogLevelNormal
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate reports every invalid field across sections.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Backup.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backup: %w", err))
	}
	if err := c.Schedule.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging: invalid format %q, must be text or json", c.Logging.Format))
	}
	switch c.Logging.Level {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs = append(errs, fmt.Errorf("logging: invalid level %q", c.Logging.Level))
	}
	return stderrors.Join(errs...)
}

// Loader reads configuration from a file, the environment and bound flags.
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a loader. An empty configPath searches ., $HOME/.config/lims-backup
// and $HOME for lims-backup.yaml.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/" + ConfigName)
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return &Loader{viper: v}
}

// Viper exposes the underlying instance so commands can bind flags.
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// ConfigFileUsed returns the file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

// Load reads and validates the configuration. A missing file is not an error
// when no explicit path was given.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.Read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for commands that report problems
// instead of failing on them.
func (l *Loader) Read() (*Config, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that are
// absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.charset", database.DefaultCharset)
	v.SetDefault("database.timeout", "30s")

	v.SetDefault("backup.dir", backup.DefaultBackupDir)
	v.SetDefault("backup.file_root", "")
	v.SetDefault("backup.log_file", backup.DefaultLogFile)
	v.SetDefault("backup.retention_days", backup.DefaultRetentionDays)
	v.SetDefault("backup.compression", string(backup.CompressionTypeNone))
	v.SetDefault("backup.compression_level", 0)
	v.SetDefault("backup.max_upload_size", backup.DefaultMaxUploadSize)
	v.SetDefault("backup.lock_timeout", backup.DefaultLockTimeout.String())
	v.SetDefault("backup.audit_table", database.DefaultAuditTable)
	v.SetDefault("backup.remote.provider", string(backup.RemoteProviderNone))
	v.SetDefault("backup.remote.prefix", "backups/")
	v.SetDefault("backup.remote.local.path", "")
	v.SetDefault("backup.remote.s3.bucket", "")
	v.SetDefault("backup.remote.s3.region", "us-east-1")
	v.SetDefault("backup.remote.s3.endpoint", "")
	v.SetDefault("backup.remote.s3.access_key", "")
	v.SetDefault("backup.remote.s3.secret_key", "")
	v.SetDefault("backup.remote.azure.account_name", "")
	v.SetDefault("backup.remote.azure.account_key", "")
	v.SetDefault("backup.remote.azure.container_name", "")
	v.SetDefault("backup.remote.gcs.bucket", "")
	v.SetDefault("backup.remote.gcs.credentials_path", "")

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.type", "full")
	v.SetDefault("schedule.daily", backup.DefaultDailySpec)
	v.SetDefault("schedule.weekly", backup.DefaultWeeklySpec)
	v.SetDefault("schedule.monthly", backup.DefaultMonthlySpec)
	v.SetDefault("schedule.retention_days", 0)
	v.SetDefault("schedule.timeout", "1h")

	v.SetDefault("api.listen", ":8080")
	v.SetDefault("api.read_timeout", "5m")
	v.SetDefault("api.write_timeout", "30m")
	v.SetDefault("api.shutdown_timeout", "30s")

	v.SetDefault("logging.level", string(logging.LogLevelNormal))
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}
