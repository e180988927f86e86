// Package output formats CLI status lines, key/value tables and story text.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Writer provides formatted output for CLI commands.
type Writer struct {
	out      io.Writer
	useColor bool

	success *color.Color
	warning *color.Color
	failure *color.Color
	heading *color.Color
	dim     *color.Color
}

// New creates a Writer. Color is enabled only for terminals and only when
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	useColor := false
	if f, ok := out.(*os.File); ok && os.Getenv("NO_COLOR") == "" {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return NewWithColor(out, useColor)
}

// NewWithColor creates a Writer with color forced on or off.
func NewWithColor(out io.Writer, useColor bool) *Writer {
	w := &Writer{
		out:      out,
		useColor: useColor,
		success:  color.New(color.FgGreen),
		warning:  color.New(color.FgYellow),
		failure:  color.New(color.FgRed, color.Bold),
		heading:  color.New(color.FgCyan, color.Bold),
		dim:      color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{w.success, w.warning, w.failure, w.heading, w.dim} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return w
}

// Status prints "icon msg", or an indented msg when icon is empty.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) Success(msg string) {
	w.Status("✅", w.success.Sprint(msg))
}

func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.warning.Sprint(msg))
}

func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

func (w *Writer) Error(msg string) {
	w.Status("❌", w.failure.Sprint(msg))
}

func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Heading prints a bold section title followed by a rule.
func (w *Writer) Heading(title string) {
	_, _ = fmt.Fprintln(w.out, w.heading.Sprint(title))
	_, _ = fmt.Fprintln(w.out, w.dim.Sprint(strings.Repeat("─", len([]rune(title)))))
}

// KeyValues prints aligned "key: value" rows in the given order.
func (w *Writer) KeyValues(rows [][2]string) {
	width := 0
	for _, r := range rows {
		if n := len([]rune(r[0])); n > width {
			width = n
		}
	}
	for _, r := range rows {
		pad := strings.Repeat(" ", width-len([]rune(r[0])))
		_, _ = fmt.Fprintf(w.out, "  %s%s  %s\n", w.dim.Sprint(r[0]+":"), pad, r[1])
	}
}

// Code prints content indented by two spaces between blank lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Quote prints content as a "> " block, truncated to max runes when max > 0.
func (w *Writer) Quote(content string, max int) {
	if r := []rune(content); max > 0 && len(r) > max {
		content = string(r[:max]) + "..."
	}
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  > %s\n", line)
	}
}

// Dim prints a de-emphasised line.
func (w *Writer) Dim(msg string) {
	_, _ = fmt.Fprintln(w.out, w.dim.Sprint(msg))
}

func (w *Writer) Println(msg string) {
	_, _ = fmt.Fprintln(w.out, msg)
}

func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
