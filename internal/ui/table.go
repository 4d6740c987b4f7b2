package ui

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Alignment controls how cell text sits inside its column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
	AlignCenter
)

// Column describes one table column.
type Column struct {
	Name  string
	Width int
	Align Alignment
}

// Table renders rows of styled text in fixed-width columns. Cell values may
// carry ANSI styling; padding and truncation work on the visible text.
type Table struct {
	columns   []Column
	rows      [][]string
	headerSep bool
	indent    string
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)

	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// NewTable creates a table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		headerSep: true,
		indent:    "  ",
	}
}

// SetIndent sets the prefix applied to every rendered line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the rule between header and rows.
func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends a row. Missing trailing cells are padded with empty strings.
func (t *Table) AddRow(values ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, values)
	t.rows = append(t.rows, row)
	return t
}

// Render returns the table as a string, one trailing newline per line.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}
	applyColorProfile()

	var b strings.Builder

	headers := make([]string, len(t.columns))
	for i, col := range t.columns {
		headers[i] = t.pad(headerStyle.Render(col.Name), col.Name, col.Width, col.Align)
	}
	headerLine := strings.Join(headers, "  ")
	b.WriteString(t.indent + headerLine + "\n")

	if t.headerSep {
		rule := strings.Repeat("─", len(stripAnsi(headerLine)))
		b.WriteString(t.indent + mutedStyle.Render(rule) + "\n")
	}

	for _, row := range t.rows {
		cells := make([]string, len(t.columns))
		for i, col := range t.columns {
			cells[i] = t.cell(row[i], col)
		}
		b.WriteString(t.indent + strings.Join(cells, "  ") + "\n")
	}
	return b.String()
}

// cell truncates an overlong value and pads it to the column width. A value
// truncated mid-styling would leak ANSI state into the rest of the line, so
// truncation falls back to the plain text.
func (t *Table) cell(value string, col Column) string {
	plain := stripAnsi(value)
	if len(plain) > col.Width && col.Width > 3 {
		plain = plain[:col.Width-3] + "..."
		value = plain
	}
	return t.pad(value, plain, col.Width, col.Align)
}

// pad pads styled to width using the plain text's visible length. Values at
// or past the width are returned unchanged.
func (t *Table) pad(styled, plain string, width int, align Alignment) string {
	padding := width - len(plain)
	if padding <= 0 {
		return styled
	}
	switch align {
	case AlignRight:
		return strings.Repeat(" ", padding) + styled
	case AlignCenter:
		left := padding / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", padding-left)
	default:
		return styled + strings.Repeat(" ", padding)
	}
}

// stripAnsi removes ANSI escape sequences for width accounting.
func stripAnsi(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
