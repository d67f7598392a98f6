// Package output formats command results for the terminal: status lines,
// tables of search hits and clusters, and JSON for scripting.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mythorath/DocAnalysisTool/internal/ui"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out    io.Writer
	styles ui.Styles
	color  bool
}

// New creates a Writer, colored only on a terminal without NO_COLOR.
func New(out io.Writer) *Writer {
	return NewWithColor(out, ui.IsTTY(out) && !ui.DetectNoColor())
}

// NewWithColor creates a Writer with explicit color choice.
func NewWithColor(out io.Writer, color bool) *Writer {
	return &Writer{out: out, styles: ui.GetStyles(!color), color: color}
}

// Out returns the underlying writer.
func (w *Writer) Out() io.Writer { return w.out }

// Status prints a message with a short tag. Write errors are ignored for
// console output.
func (w *Writer) Status(tag, msg string) {
	if tag == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", tag, msg)
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(tag, format string, args ...any) {
	w.Status(tag, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("[ok]"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("[warn]"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("[error]"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// KeyValue prints an aligned "label: value" line.
func (w *Writer) KeyValue(label string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.styles.Label.Render(fmt.Sprintf("%-18s", label+":")), value)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Table renders rows under headers with a rounded border.
func (w *Writer) Table(headers []string, rows [][]string) {
	headerStyle := w.styles.Header.Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(w.styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, _ = fmt.Fprintln(w.out, t.Render())
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
