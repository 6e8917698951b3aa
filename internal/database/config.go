package database

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DefaultCharset is used for the connection and for the dump header.
const DefaultCharset = "utf8mb4"

// DatabaseConfig holds the configuration parameters for database connection
type DatabaseConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Database string        `mapstructure:"database" yaml:"database"`
	Charset  string        `mapstructure:"charset" yaml:"charset"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults fills in port, charset and timeout when unset
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Port == 0 {
		dc.Port = 3306
	}
	if dc.Charset == "" {
		dc.Charset = DefaultCharset
	}
	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the Data Source Name for the MySQL driver. Temporal columns are
// left as text (no parseTime) so dumps and manifests carry them verbatim.
func (dc *DatabaseConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = dc.Username
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
	cfg.DBName = dc.Database
	cfg.Timeout = dc.Timeout

	charset := dc.Charset
	if charset == "" {
		charset = DefaultCharset
	}
	cfg.Params = map[string]string{"charset": charset}

	return cfg.FormatDSN()
}
