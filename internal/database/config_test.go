package database

import (
	"strings"
	"testing"
	"time"
)

func TestDatabaseConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  DatabaseConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				Username: "root",
				Password: "password",
				Database: "lims",
			},
			wantErr: false,
		},
		{
			name: "missing host",
			config: DatabaseConfig{
				Port:     3306,
				Username: "root",
				Database: "lims",
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     70000,
				Username: "root",
				Database: "lims",
			},
			wantErr: true,
		},
		{
			name: "missing username",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				Database: "lims",
			},
			wantErr: true,
		},
		{
			name: "missing database",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				Username: "root",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_SetDefaults(t *testing.T) {
	config := DatabaseConfig{Host: "localhost"}
	config.SetDefaults()

	if config.Port != 3306 {
		t.Errorf("Expected default port 3306, got %d", config.Port)
	}
	if config.Charset != DefaultCharset {
		t.Errorf("Expected default charset %s, got %s", DefaultCharset, config.Charset)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", config.Timeout)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	config := DatabaseConfig{
		Host:     "db.lab.local",
		Port:     3307,
		Username: "backup",
		Password: "s3cret",
		Database: "lims",
		Timeout:  10 * time.Second,
	}

	dsn := config.DSN()

	for _, want := range []string{"backup:s3cret@tcp(db.lab.local:3307)/lims", "charset=utf8mb4", "timeout=10s"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("Expected DSN %q to contain %q", dsn, want)
		}
	}
	if strings.Contains(dsn, "parseTime") {
		t.Errorf("Expected DSN without parseTime, got %q", dsn)
	}
}
