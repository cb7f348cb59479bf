package tui

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func padLeft(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return strings.Repeat(" ", width-w) + s
}

var reSpaces = regexp.MustCompile(`\s+`)

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return s[:maxLen]
	}
	return s[:maxLen-1] + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(time.Local).Format("15:04:05.000") //nolint:gosmopolitan // TUI displays local time
}

func formatTimeFull(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(time.Local).Format("15:04:05") //nolint:gosmopolitan // TUI displays local time
}

// formatBytes renders a byte count with a binary-unit suffix.
func formatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fK", float64(n)/1024)
	}
	return fmt.Sprintf("%.1fM", float64(n)/(1024*1024))
}

// renderInputWithCursor renders a text input with a block cursor at the given rune position.
func renderInputWithCursor(text string, cursorPos int) string {
	runes := []rune(text)
	if cursorPos >= len(runes) {
		return text + "█"
	}
	return string(runes[:cursorPos]) + "█" + string(runes[cursorPos:])
}

func friendlyError(err error, width int) string {
	msg := err.Error()

	var text string
	if strings.Contains(msg, "connection refused") {
		text = "Could not connect to rowcapd.\n" +
			"Is rowcapd running with -http enabled?\n\n" +
			"Error: " + msg
	}
	if text == "" {
		text = "Error: " + msg
	}

	return lipgloss.NewStyle().Width(width).Render(text)
}

func wrapFooterItems(items []string, width int) string {
	var lines []string
	line := " "
	for _, it := range items {
		if len(line)+len(it)+2 > width && line != " " {
			lines = append(lines, line)
			line = " "
		}
		line += " " + it
	}
	if line != " " {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
