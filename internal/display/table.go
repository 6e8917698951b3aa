package display

import (
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// Table renders rows in aligned ASCII columns
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	maxWidth   int
	colors     *colorSystem
	theme      ColorTheme
}

func newTable(colors *colorSystem, theme ColorTheme, maxWidth int) *Table {
	return &Table{
		alignments: make(map[int]Alignment),
		maxWidth:   maxWidth,
		colors:     colors,
		theme:      theme,
	}
}

// SetHeaders sets the table headers
func (t *Table) SetHeaders(headers ...string) *Table {
	t.headers = headers
	return t
}

// AlignRight right-aligns a column
func (t *Table) AlignRight(column int) *Table {
	t.alignments[column] = AlignRight
	return t
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fitWidths(t.columnWidths())

	var b strings.Builder
	border := t.border(widths)
	b.WriteString(border)
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		b.WriteString(border)
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	b.WriteString(border)
	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) error {
	_, err := io.WriteString(w, t.Render())
	return err
}

func (t *Table) columnWidths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	widths := make([]int, cols)
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	return widths
}

// fitWidths shrinks the widest columns until the table fits maxWidth.
func (t *Table) fitWidths(widths []int) []int {
	if t.maxWidth <= 0 {
		return widths
	}
	const minWidth = 6
	for total(widths) > t.maxWidth {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minWidth {
			break
		}
		widths[widest]--
	}
	return widths
}

// total is the rendered line width: each column plus padding and a border.
func total(widths []int) int {
	n := 1
	for _, w := range widths {
		n += w + 3
	}
	return n
}

func (t *Table) border(widths []int) string {
	var b strings.Builder
	b.WriteString("+")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2))
		b.WriteString("+")
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString("|")
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		cell = truncate(cell, w)
		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if header {
			cell = t.colors.Colorize(cell, t.theme.Primary)
		}

		b.WriteString(" ")
		if t.alignments[i] == AlignRight && !header {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
		b.WriteString(" |")
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// terminalWidth returns the stdout width, or 0 when stdout is not a terminal.
func terminalWidth() int {
	width, _, err := term.GetSize(1)
	if err != nil {
		return 0
	}
	return width
}
