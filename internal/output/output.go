// Package output provides styled terminal output helpers (success, error,
// warning, record and sync status formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/labsafe/labsync/internal/models"
	lsync "github.com/labsafe/labsync/internal/sync"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	kindStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	statusStyles = map[models.Status]lipgloss.Style{
		models.StatusPending:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusUpdating: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.StatusSynced:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

// OutputMode determines output format
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeUnknownTable = "unknown_table"
	ErrCodeStateError   = "state_error"
	ErrCodePendingWork  = "pending_work"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatStatus formats a record status with color
func FormatStatus(s models.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatKind formats a request kind
func FormatKind(k models.RequestKind) string {
	return kindStyle.Render(string(k))
}

// FormatValue renders one field value compactly: strings as-is, lists by
// length, objects as JSON.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		return val
	case []any:
		return fmt.Sprintf("[%d]", len(val))
	case map[string]any:
		data, _ := json.Marshal(val)
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// fieldKeys returns the keys of f sorted, with keys in first listed first.
func fieldKeys(f models.Fields, first ...string) []string {
	seen := make(map[string]bool, len(f))
	var keys []string
	for _, k := range first {
		if _, ok := f[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range f {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// leading fields shown first when present
var leadFields = []string{"testDate", "canteen", "inspector", "sampleId"}

// FormatRecordShort formats a record on one line, cut to width columns
// (0 means no limit).
func FormatRecordShort(r models.Record, width int) string {
	var parts []string
	parts = append(parts, titleStyle.Render(r.ID.String()))
	parts = append(parts, FormatStatus(r.Status))

	var fields []string
	for _, k := range fieldKeys(r.Fields, leadFields...) {
		fields = append(fields, fmt.Sprintf("%s=%s", k, FormatValue(r.Fields[k])))
	}
	line := strings.Join(parts, "  ")
	if len(fields) > 0 {
		avail := 0
		if width > 0 {
			avail = max(width-lipgloss.Width(line)-2, 1)
		}
		line += "  " + subtleStyle.Render(Truncate(strings.Join(fields, " "), avail))
	}
	return line
}

// FormatRecordLong formats a record with one field per line.
func FormatRecordLong(r models.Record) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(r.ID.String()))
	sb.WriteString(" ")
	sb.WriteString(FormatStatus(r.Status))
	sb.WriteString("\n")
	for _, k := range fieldKeys(r.Fields, leadFields...) {
		v := r.Fields[k]
		switch v.(type) {
		case []any, map[string]any:
			data, _ := json.MarshalIndent(v, "  ", "  ")
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, data))
		default:
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, FormatValue(v)))
		}
	}
	return sb.String()
}

// FormatRequest formats a queued request on one line.
func FormatRequest(req models.PendingRequest) string {
	target := req.TargetID
	if target == "" {
		target = req.LocalID
	}
	line := fmt.Sprintf("%s  %s  %s", subtleStyle.Render(req.ID), FormatKind(req.Kind), target)
	if req.RetryCount > 0 {
		line += warningStyle.Render(fmt.Sprintf("  retries=%d", req.RetryCount))
	}
	return line + subtleStyle.Render("  "+FormatTimeAgo(req.EnqueuedAt))
}

// FormatTableStatus formats one table's status block.
func FormatTableStatus(st lsync.Status) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(st.Table))
	sb.WriteString(fmt.Sprintf("  %d cached", st.Total))
	for _, s := range []models.Status{models.StatusSynced, models.StatusUpdating, models.StatusPending} {
		if n := st.Records[s]; n > 0 {
			sb.WriteString(fmt.Sprintf("  %s %d", FormatStatus(s), n))
		}
	}
	sb.WriteString("\n")
	if st.QueueLen == 0 {
		sb.WriteString(subtleStyle.Render("  queue empty"))
	} else {
		sb.WriteString(fmt.Sprintf("  %d queued:", st.QueueLen))
		kinds := make([]string, 0, len(st.Queued))
		for k := range st.Queued {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			sb.WriteString(fmt.Sprintf(" %s=%d", FormatKind(models.RequestKind(k)), st.Queued[models.RequestKind(k)]))
		}
	}
	if st.Orphans > 0 {
		sb.WriteString("\n")
		sb.WriteString(warningStyle.Render(fmt.Sprintf("  %d orphaned (run: labsync sync --requeue-orphans)", st.Orphans)))
	}
	return sb.String()
}

// StatusBadge returns a status indicator with symbol
// e.g., "○ pending", "◎ updating", "✓ synced"
func StatusBadge(status models.Status) string {
	symbols := map[models.Status]string{
		models.StatusPending:  "○",
		models.StatusUpdating: "◎",
		models.StatusSynced:   "✓",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	style, hasStyle := statusStyles[status]
	if hasStyle {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nORPHANS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
