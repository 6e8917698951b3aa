package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Printer writes command output in the configured format. Status messages
// are suppressed in quiet mode and in the structured formats, so JSON and
// YAML output stays machine readable.
type Printer struct {
	config *Config
	colors *colorSystem
	theme  ColorTheme
}

// NewPrinter creates a printer. A nil config uses DefaultConfig.
func NewPrinter(config *Config) *Printer {
	if config == nil {
		config = DefaultConfig()
	}
	config.SetDefaults()

	theme := DarkColorTheme()
	if config.ColorEnabled {
		theme = ThemeForBackground()
	}
	return &Printer{
		config: config,
		colors: newColorSystem(theme, config.ColorEnabled),
		theme:  theme,
	}
}

// Format returns the output format in use
func (p *Printer) Format() OutputFormat {
	return p.config.Format
}

// Writer returns the output writer
func (p *Printer) Writer() io.Writer {
	return p.config.Writer
}

func (p *Printer) chatty() bool {
	return !p.config.Quiet && p.config.Format == FormatTable
}

// Success prints a success message
func (p *Printer) Success(format string, args ...interface{}) {
	p.status("✓", p.theme.Success, format, args...)
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...interface{}) {
	p.status("!", p.theme.Warning, format, args...)
}

// Info prints an informational message
func (p *Printer) Info(format string, args ...interface{}) {
	p.status("i", p.theme.Info, format, args...)
}

// Error prints an error message. Errors are printed even in quiet mode.
func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintf(p.config.Writer, "%s %s\n",
		p.colors.Colorize("✗", p.theme.Error), fmt.Sprintf(format, args...))
}

func (p *Printer) status(icon string, clr Color, format string, args ...interface{}) {
	if !p.chatty() {
		return
	}
	fmt.Fprintf(p.config.Writer, "%s %s\n", p.colors.Colorize(icon, clr), fmt.Sprintf(format, args...))
}

// Header prints a section title
func (p *Printer) Header(title string) {
	if p.config.Format != FormatTable {
		return
	}
	fmt.Fprintf(p.config.Writer, "\n%s\n%s\n",
		p.colors.Colorize(title, p.theme.Primary), strings.Repeat("=", len([]rune(title))))
}

// KeyValues prints aligned key: value lines in the order given
func (p *Printer) KeyValues(pairs ...[2]string) {
	width := 0
	for _, kv := range pairs {
		if n := len([]rune(kv[0])); n > width {
			width = n
		}
	}
	for _, kv := range pairs {
		key := fmt.Sprintf("%-*s", width+1, kv[0]+":")
		fmt.Fprintf(p.config.Writer, "  %s %s\n", p.colors.Colorize(key, p.theme.Muted), kv[1])
	}
}

// List prints bullet lines under a label. Empty lists print nothing.
func (p *Printer) List(label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(p.config.Writer, "%s\n", label)
	for _, item := range items {
		fmt.Fprintf(p.config.Writer, "  - %s\n", item)
	}
}

// NewTable creates a table sized to the output
func (p *Printer) NewTable(headers ...string) *Table {
	return newTable(p.colors, p.theme, p.config.MaxWidth).SetHeaders(headers...)
}

// Result prints v as JSON or YAML, or calls table for the table format.
func (p *Printer) Result(v interface{}, table func()) error {
	switch p.config.Format {
	case FormatJSON:
		enc := json.NewEncoder(p.config.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		data, err := ToYAML(v)
		if err != nil {
			return err
		}
		_, err = p.config.Writer.Write(data)
		return err
	default:
		if table != nil {
			table()
		}
		return nil
	}
}

// ToYAML renders v as block-style YAML using its JSON field names, so both
// structured formats share one schema.
func ToYAML(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to convert output to YAML: %w", err)
	}
	resetStyle(&node)

	out, err := yaml.Marshal(&node)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return out, nil
}

// resetStyle drops the flow and quoting style inherited from JSON.
func resetStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		resetStyle(c)
	}
}

// FormatBytes renders a size with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
