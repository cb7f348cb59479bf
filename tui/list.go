package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pentve/rowcap/highlight"
	"github.com/pentve/rowcap/internal/events"
)

// Column widths.
const (
	colMarker   = 2  // "▶ "
	colTime     = 12 // 15:04:05.000
	colDecision = 9
	colRows     = 7
	colBytes    = 8
	colCache    = 6
	colStatus   = 5
)

var (
	discardStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	forwardStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	stormStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	hitStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func decisionLabel(ev events.Event) string {
	if ev.Decision == events.DecisionSyntheticOK {
		return discardStyle.Render("DISCARD")
	}
	return forwardStyle.Render("forward")
}

func cacheLabel(ev events.Event) string {
	switch ev.CacheOutcome {
	case events.CacheOutcomeHit:
		return hitStyle.Render("hit")
	case events.CacheOutcomeSoftStale:
		return "stale"
	case events.CacheOutcomeMiss:
		return "miss"
	case events.CacheOutcomeError:
		return stormStyle.Render("err")
	}
	return "-"
}

func eventStatus(ev events.Event) string {
	if ev.DiscardStorm {
		return stormStyle.Render("STORM")
	}
	return ""
}

func (m Model) renderListView() string {
	var footer string
	switch {
	case m.searchMode:
		footer = "  / " + renderInputWithCursor(m.searchQuery, m.searchCursor)
	case m.filterMode:
		footer = "  filter: " + renderInputWithCursor(m.filterQuery, m.filterCursor)
	default:
		items := []string{
			"q: quit", "j/k: navigate", "enter: inspect", "a: analytics",
			"c/C: copy query/key", "x/X: explain", "w/W: export",
			"/: search", "f: filter", "s: sort",
		}
		footer = wrapFooterItems(items, m.width)
		if m.filterQuery != "" {
			footer += "\n  " + fmt.Sprintf("[filter: %s]", describeFilter(m.filterQuery))
		}
		if m.searchQuery != "" || m.filterQuery != "" {
			footer += "  esc: clear"
		}
		switch m.sortMode {
		case sortRows:
			footer += "  [sorted: rows]"
		case sortBytes:
			footer += "  [sorted: bytes]"
		case sortChronological:
		}
		if m.alert != "" {
			footer += "  " + lipgloss.NewStyle().Bold(true).Render(m.alert)
		}
	}

	footerLines := strings.Count(footer, "\n") + 1
	listHeight := m.listHeight(footerLines)

	return strings.Join([]string{
		m.renderList(listHeight),
		m.renderPreview(),
		footer,
	}, "\n")
}

func (m Model) listHeight(footerLines int) int {
	// 11 = header border (1) + preview box (~8 lines) + footer (1) + padding.
	extra := max(footerLines-1, 0)
	return max(m.height-11-extra, 3)
}

func (m Model) renderList(maxRows int) string {
	innerWidth := max(m.width-4, 20)
	colQuery := max(innerWidth-colMarker-colTime-colDecision-colRows-colBytes-colCache-colStatus-7, 10)

	var title string
	if m.searchQuery != "" || m.filterQuery != "" {
		title = fmt.Sprintf(" rowcap (%d/%d responses) ", len(m.visible), len(m.evs))
	} else {
		title = fmt.Sprintf(" rowcap (%d responses) ", len(m.evs))
	}

	dataRows := max(maxRows-1, 1) // -1 for header row

	start := 0
	if len(m.visible) > dataRows {
		start = max(m.cursor-dataRows/2, 0)
		if start+dataRows > len(m.visible) {
			start = len(m.visible) - dataRows
		}
	}
	end := min(start+dataRows, len(m.visible))

	header := fmt.Sprintf("  %-*s %-*s %*s %*s %-*s %-*s %s",
		colTime, "Time",
		colDecision, "Decision",
		colRows, "Rows",
		colBytes, "Bytes",
		colCache, "Cache",
		colStatus, "",
		"Query",
	)

	rows := []string{lipgloss.NewStyle().Bold(true).Render(header)}
	for i := start; i < end; i++ {
		rows = append(rows, m.renderEventRow(m.evs[m.visible[i]], i == m.cursor, colQuery))
	}

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(lipgloss.Color("240"))

	box := border.Render(strings.Join(rows, "\n"))
	return withTitle(box, title, innerWidth)
}

func (m Model) renderEventRow(ev events.Event, isCursor bool, colQuery int) string {
	marker := "  "
	if isCursor {
		marker = "▶ "
	}

	q := truncate(ev.Query, colQuery)
	if q == "" {
		q = "-"
	}

	row := marker +
		padRight(formatTime(ev.Timestamp), colTime) + " " +
		padRight(decisionLabel(ev), colDecision) + " " +
		padLeft(fmt.Sprintf("%d", ev.Rows), colRows) + " " +
		padLeft(formatBytes(ev.Bytes), colBytes) + " " +
		padRight(cacheLabel(ev), colCache) + " " +
		padRight(eventStatus(ev), colStatus) + " " +
		q
	if isCursor {
		row = lipgloss.NewStyle().Bold(true).Render(row)
	}
	return row
}

func (m Model) renderPreview() string {
	innerWidth := max(m.width-4, 20)

	ev := m.cursorEvent()
	if ev == nil {
		return ""
	}

	var lines []string
	if q := ev.Query; q != "" {
		maxQueryLen := max(innerWidth-10, 20) // 10 = len("Query:    ")
		lines = append(lines, "Query:    "+highlight.SQL(truncate(q, maxQueryLen)))
	}
	lines = append(lines, "Decision: "+decisionLabel(*ev))
	lines = append(lines, fmt.Sprintf("Rows:     %d", ev.Rows))
	lines = append(lines, "Bytes:    "+formatBytes(ev.Bytes))
	if ev.CacheOutcome != "" {
		lines = append(lines, "Cache:    "+cacheLabel(*ev))
	}
	if ev.FingerprintKey != "" {
		lines = append(lines, "Key:      "+truncate(ev.FingerprintKey, max(innerWidth-10, 20)))
	}
	lines = append(lines, "Session:  "+ev.SessionID)

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(lipgloss.Color("240"))

	return border.Render(strings.Join(lines, "\n"))
}

// withTitle replaces a box's top border with a bold title.
func withTitle(box, title string, innerWidth int) string {
	lines := strings.Split(box, "\n")
	if len(lines) == 0 {
		return box
	}
	dashes := max(innerWidth-len([]rune(title)), 0)
	lines[0] = borderStyle.Render("╭") +
		lipgloss.NewStyle().Bold(true).Render(title) +
		borderStyle.Render(strings.Repeat("─", dashes)+"╮")
	return strings.Join(lines, "\n")
}

// withHelp replaces a box's bottom border with a faint help line.
func withHelp(box, help string, innerWidth int) string {
	lines := strings.Split(box, "\n")
	n := len(lines)
	if n == 0 {
		return box
	}
	dashes := max(innerWidth-len([]rune(help)), 0)
	lines[n-1] = borderStyle.Render("╰") +
		lipgloss.NewStyle().Faint(true).Render(help) +
		borderStyle.Render(strings.Repeat("─", dashes)+"╯")
	return strings.Join(lines, "\n")
}
