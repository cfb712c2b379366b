package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Table buffers rows and writes them column-aligned on Flush. Headers and a
// dash divider precede the rows, so empty tables produce no output. When
// stdout is a terminal, the widest columns are narrowed to fit and their
// cells wrapped onto continuation lines.
type Table struct {
	out     io.Writer
	width   int
	headers []string
	prefix  string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	t := &Table{out: os.Stdout, headers: headers}
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil {
			t.width = w
		}
	}
	return t
}

// WithPrefix sets a string prepended to each line (headers, divider, rows).
// Useful for indenting sub-tables within larger output.
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// WithOutput redirects the table. Width 0 disables wrapping.
func (t *Table) WithOutput(w io.Writer, width int) *Table {
	t.out = w
	t.width = width
	return t
}

// Row adds a row. Missing trailing cells are empty.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes the table. If no rows were added, nothing is printed.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visualLen(h)
	}
	for _, row := range t.rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := visualLen(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}
	if t.width > 0 {
		widths = capWidths(widths, t.headers, t.width, visualLen(t.prefix))
	}

	dividers := make([]string, len(t.headers))
	for i, h := range t.headers {
		dividers[i] = strings.Repeat("-", visualLen(h))
	}
	t.writeLine(t.headers, widths)
	t.writeLine(dividers, widths)

	for _, row := range t.rows {
		cells := make([][]string, len(widths))
		lines := 1
		for i := range widths {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			cells[i] = wrapCell(v, widths[i])
			if len(cells[i]) > lines {
				lines = len(cells[i])
			}
		}
		for l := 0; l < lines; l++ {
			line := make([]string, len(widths))
			for i := range cells {
				if l < len(cells[i]) {
					line[i] = cells[i][l]
				}
			}
			t.writeLine(line, widths)
		}
	}
	t.rows = nil
}

func (t *Table) writeLine(cells []string, widths []int) {
	var b strings.Builder
	b.WriteString(t.prefix)
	for i, c := range cells {
		b.WriteString(c)
		if i < len(cells)-1 {
			b.WriteString(strings.Repeat(" ", widths[i]-visualLen(c)+2))
		}
	}
	fmt.Fprintln(t.out, strings.TrimRight(b.String(), " "))
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visualLen is the printed width of s, ignoring ANSI color codes.
func visualLen(s string) int {
	return utf8.RuneCountInString(ansiEscape.ReplaceAllString(s, ""))
}

// capWidths narrows the widest column, one cell at a time, until the table
// fits termWidth. No column goes below its header width.
func capWidths(widths []int, headers []string, termWidth, prefix int) []int {
	out := append([]int(nil), widths...)
	total := func() int {
		n := prefix + 2*(len(out)-1)
		for _, w := range out {
			n += w
		}
		return n
	}
	for total() > termWidth {
		widest := -1
		for i, w := range out {
			if w > visualLen(headers[i]) && (widest < 0 || w > out[widest]) {
				widest = i
			}
		}
		if widest < 0 {
			break
		}
		out[widest]--
	}
	return out
}

// wrapCell splits s into lines of at most width, breaking at spaces and
// hard-breaking longer words. Cells that fit are returned unchanged, color
// codes included.
func wrapCell(s string, width int) []string {
	if width <= 0 || visualLen(s) <= width {
		return []string{s}
	}

	var lines []string
	var cur []rune
	for _, word := range strings.Fields(ansiEscape.ReplaceAllString(s, "")) {
		w := []rune(word)
		if len(cur) > 0 && len(cur)+1+len(w) <= width {
			cur = append(append(cur, ' '), w...)
			continue
		}
		if len(cur) > 0 {
			lines = append(lines, string(cur))
			cur = nil
		}
		for len(w) > width {
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		cur = w
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
