package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// OutputFormat selects how results are printed
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a format name. An empty name means table.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("invalid output format '%s', must be one of: table, json, yaml", s)
	}
}

// Config holds the display options set from command-line flags
type Config struct {
	Format       OutputFormat
	ColorEnabled bool
	Quiet        bool
	MaxWidth     int

	Writer io.Writer
}

// DefaultConfig returns table output with colors when stdout supports them
func DefaultConfig() *Config {
	return &Config{
		Format:       FormatTable,
		ColorEnabled: DetectColorSupport(),
		Writer:       os.Stdout,
	}
}

// SetDefaults fills unset options
func (c *Config) SetDefaults() {
	if c.Format == "" {
		c.Format = FormatTable
	}
	if c.MaxWidth == 0 {
		c.MaxWidth = terminalWidth()
	}
	if c.Writer == nil {
		c.Writer = os.Stdout
	}
}
