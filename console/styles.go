package console

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	linuxcnc "github.com/sleepybishop/linuxcnc-cli"
)

// Color scheme, matching the ANSI colors the remote shell console has always used.
const (
	colorError = "1" // Red
	colorHint  = "5" // Magenta
	colorMuted = "8" // Dark gray
)

// Styles renders console output for one stream.
type Styles struct {
	// Error highlights diagnostics reported by the remote shell.
	Error lipgloss.Style
	// Hint renders the inline completion hint.
	Hint lipgloss.Style
	// Notice renders local messages such as suggestions.
	Notice lipgloss.Style
}

// NewStyles returns styles bound to w. mode is one of the ui.color values;
// auto detects color support from w.
func NewStyles(w io.Writer, mode string) Styles {
	r := lipgloss.NewRenderer(w)
	switch mode {
	case linuxcnc.ColorAlways:
		r.SetColorProfile(termenv.ANSI)
	case linuxcnc.ColorNever:
		r.SetColorProfile(termenv.Ascii)
	}
	return Styles{
		Error:  r.NewStyle().Bold(true).Foreground(lipgloss.Color(colorError)),
		Hint:   r.NewStyle().Bold(true).Foreground(lipgloss.Color(colorHint)),
		Notice: r.NewStyle().Foreground(lipgloss.Color(colorMuted)),
	}
}
