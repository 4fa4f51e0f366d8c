package output

import (
	"os"
	"strconv"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

const defaultWidth = 80

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// Truncate cuts s to at most width terminal cells, ending in "…" when cut.
// Escape sequences from lipgloss styling are kept intact and do not count
// toward the width. A width of zero or less returns s unchanged.
func Truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	return ansi.Truncate(s, width, "…")
}
