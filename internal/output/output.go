// Package output provides styled terminal output helpers (success, error,
// warning, record formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/classcomm/classcomm/internal/models"
	"github.com/classcomm/classcomm/internal/sync"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[string]lipgloss.Style{
		sync.StatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		sync.StatusSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		sync.StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
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

// FormatOpStatus formats a queue status with color
func FormatOpStatus(s string) string {
	style, ok := statusStyles[s]
	if !ok {
		return fmt.Sprintf("[%s]", s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// StatusBadge returns a queue status indicator with symbol
// e.g., "○ pending", "✓ synced", "✗ error"
func StatusBadge(status string) string {
	symbols := map[string]string{
		sync.StatusPending: "○",
		sync.StatusSynced:  "✓",
		sync.StatusError:   "✗",
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

// FormatOperation formats a pending operation in short format
func FormatOperation(op *sync.Operation) string {
	parts := []string{
		titleStyle.Render(fmt.Sprintf("%s/%s", op.Table, shortID(op.RecordID))),
		op.Op,
		subtleStyle.Render(fmt.Sprintf("v%d", op.Version)),
		FormatOpStatus(op.Status),
	}
	if op.Error != "" {
		parts = append(parts, errorStyle.Render(op.Error))
	}
	return strings.Join(parts, "  ")
}

// FormatStudent formats a student roster line
func FormatStudent(s *models.Student) string {
	parts := []string{
		titleStyle.Render(shortID(s.ID)),
		fmt.Sprintf("%s %s", s.FirstName, s.LastName),
		subtleStyle.Render("grade " + s.Grade),
	}
	if s.Class != "" {
		parts = append(parts, subtleStyle.Render(s.Class))
	}
	return strings.Join(parts, "  ")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPENDING OPERATIONS:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentLines indents each line by the specified number of spaces
func IndentLines(lines []string, spaces int) []string {
	indent := strings.Repeat(" ", spaces)
	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = indent + line
	}
	return result
}

// shortID shortens a UUID to its first segment for display
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 && len(id) == 36 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
