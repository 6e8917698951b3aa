package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"lims-backup/internal/backup"

	"gopkg.in/yaml.v3"
)

// Initializer prepares and checks the backup directory, file root and remote
// mirror before the first run.
type Initializer struct {
	config  *Config
	factory *backup.StorageProviderFactory
	verbose bool
}

// NewInitializer creates an initializer for config.
func NewInitializer(config *Config, verbose bool) *Initializer {
	return &Initializer{
		config:  config,
		factory: backup.NewStorageProviderFactory(),
		verbose: verbose,
	}
}

// InitializationResult reports what is ready and what needs attention.
type InitializationResult struct {
	Success          bool     `json:"success" yaml:"success"`
	ConfigValid      bool     `json:"config_valid" yaml:"config_valid"`
	StorageReady     bool     `json:"storage_ready" yaml:"storage_ready"`
	FileRootReady    bool     `json:"file_root_ready" yaml:"file_root_ready"`
	RemoteReady      bool     `json:"remote_ready" yaml:"remote_ready"`
	Warnings         []string `json:"warnings" yaml:"warnings"`
	Errors           []string `json:"errors" yaml:"errors"`
	RecommendedFixes []string `json:"recommended_fixes" yaml:"recommended_fixes"`
}

// Initialize creates the backup directory if needed and checks every
// configured location. Problems are collected in the result.
func (in *Initializer) Initialize(ctx context.Context) *InitializationResult {
	result := &InitializationResult{
		Success:          true,
		ConfigValid:      true,
		StorageReady:     true,
		FileRootReady:    true,
		RemoteReady:      true,
		Warnings:         []string{},
		Errors:           []string{},
		RecommendedFixes: []string{},
	}

	in.progress("Validating configuration...")
	if err := in.config.Validate(); err != nil {
		result.Success = false
		result.ConfigValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Configuration validation failed: %v", err))
	}

	in.progress("Checking backup directory...")
	if err := checkWritableDir(in.config.Backup.Dir, true); err != nil {
		result.Success = false
		result.StorageReady = false
		result.Errors = append(result.Errors, fmt.Sprintf("Backup directory not usable: %v", err))
		result.RecommendedFixes = append(result.RecommendedFixes,
			fmt.Sprintf("Create %s and make it writable by the backup user", in.config.Backup.Dir))
	}

	in.progress("Checking file root...")
	in.checkFileRoot(result)

	in.progress("Checking remote mirror...")
	if _, err := in.factory.CreateRemoteStore(ctx, in.config.Backup.Remote); err != nil {
		result.RemoteReady = false
		result.Warnings = append(result.Warnings, fmt.Sprintf("Remote mirror unavailable: %v", err))
		result.RecommendedFixes = append(result.RecommendedFixes,
			"Fix the backup.remote section or set backup.remote.provider to none")
	}

	if in.config.Backup.RetentionDays < 7 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("retention_days is %d; weekly backups will be deleted before the next one runs", in.config.Backup.RetentionDays))
	}
	return result
}

func (in *Initializer) checkFileRoot(result *InitializationResult) {
	root := in.config.Backup.FileRoot
	if root == "" {
		result.FileRootReady = false
		result.Warnings = append(result.Warnings, "backup.file_root is not set; full backups will contain no files")
		return
	}

	info, err := os.Stat(root)
	switch {
	case err != nil:
		result.FileRootReady = false
		result.Warnings = append(result.Warnings, fmt.Sprintf("File root %s is not accessible: %v", root, err))
	case !info.IsDir():
		result.FileRootReady = false
		result.Errors = append(result.Errors, fmt.Sprintf("File root %s is not a directory", root))
		result.Success = false
	}
}

func (in *Initializer) progress(msg string) {
	if in.verbose {
		fmt.Println("  " + msg)
	}
}

// checkWritableDir verifies that dir exists, optionally creating it, and that
// a file can be written into it.
func checkWritableDir(dir string, create bool) error {
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	tmp, err := os.CreateTemp(dir, ".permission_test-*")
	if err != nil {
		return fmt.Errorf("insufficient write permissions for %s: %w", dir, err)
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}

// SampleConfig returns a configuration with every default filled in and
// placeholder connection settings.
func SampleConfig() *Config {
	cfg := &Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Username = "lims"
	cfg.Database.Database = "lims"
	cfg.Backup.FileRoot = "uploads"
	cfg.SetDefaults()
	return cfg
}

// WriteSample writes SampleConfig as YAML to path. An existing file is kept
// unless force is set.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}

	data, err := yaml.Marshal(SampleConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}
