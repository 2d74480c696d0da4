package output

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// Reports wrap at 100 columns at most; wider terminals only add whitespace.
const (
	reportWidth    = 100
	minReportWidth = 40
)

// reportColumns picks the wrap width for stdout: the terminal size, then
// $COLUMNS, then reportWidth.
func reportColumns() int {
	width := reportWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	} else if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		width = n
	}
	return min(width, reportWidth)
}

// stdoutStyled reports whether ANSI styling should be emitted on stdout.
func stdoutStyled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderMarkdown renders text for stdout.
func RenderMarkdown(text string) (string, error) {
	return renderMarkdown(text, reportColumns(), stdoutStyled())
}

// RenderMarkdownWithWidth renders text unstyled at the given width, for
// pipes and files.
func RenderMarkdownWithWidth(text string, width int) (string, error) {
	return renderMarkdown(text, width, false)
}

func renderMarkdown(text string, width int, styled bool) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	width = max(width, minReportWidth)

	style := glamour.WithStandardStyle("notty")
	if styled {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", err
	}
	out, err := r.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}
