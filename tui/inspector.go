package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pentve/rowcap/clipboard"
	"github.com/pentve/rowcap/explain"
	"github.com/pentve/rowcap/highlight"
	"github.com/pentve/rowcap/internal/events"
	"github.com/pentve/rowcap/query"
)

func (m Model) updateInspect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m.quit()
	case "q", "esc":
		m.view = viewList
		m = m.rebuild()
		if m.follow {
			m.cursor = max(len(m.visible)-1, 0)
		}
		return m, nil
	case "x":
		return m.startExplain(explain.Explain)
	case "X":
		return m.startExplain(explain.Analyze)
	case "c":
		ev := m.cursorEvent()
		if ev == nil || ev.Query == "" {
			return m, nil
		}
		_ = clipboard.Copy(context.Background(), ev.Query)
		return m, nil
	case "C":
		ev := m.cursorEvent()
		if ev == nil || ev.FingerprintKey == "" {
			return m, nil
		}
		_ = clipboard.Copy(context.Background(), ev.FingerprintKey)
		return m, nil
	case "j", "down":
		maxScroll := max(len(m.inspectLines())-m.inspectVisibleRows(), 0)
		if m.inspectScroll < maxScroll {
			m.inspectScroll++
		}
		return m, nil
	case "k", "up":
		if m.inspectScroll > 0 {
			m.inspectScroll--
		}
		return m, nil
	}
	return m, nil
}

func (m Model) inspectVisibleRows() int {
	return max(m.height-2, 3) // -2 for top/bottom border
}

func (m Model) renderInspector() string {
	innerWidth := max(m.width-4, 20)
	visibleRows := m.inspectVisibleRows()

	lines := m.inspectLines()
	if lines == nil {
		return ""
	}

	maxScroll := max(len(lines)-visibleRows, 0)
	if m.inspectScroll > maxScroll {
		m.inspectScroll = maxScroll
	}

	end := min(m.inspectScroll+visibleRows, len(lines))
	content := strings.Join(lines[m.inspectScroll:end], "\n")

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(lipgloss.Color("240")).
		Render(content)

	box = withTitle(box, " Inspector ", innerWidth)
	return withHelp(box, " q: back  j/k: scroll  c: copy query  C: copy key  x/X: explain/analyze ", innerWidth)
}

func (m Model) inspectLines() []string {
	ev := m.cursorEvent()
	if ev == nil {
		return nil
	}
	return inspectorEventLines(*ev, max(m.width-4, 20))
}

func inspectorEventLines(ev events.Event, innerWidth int) []string {
	var lines []string

	lines = append(lines, "Decision: "+decisionLabel(ev))
	lines = append(lines, fmt.Sprintf("Rows:     %d", ev.Rows))
	lines = append(lines, fmt.Sprintf("Bytes:    %d (%s)", ev.Bytes, formatBytes(ev.Bytes)))
	lines = append(lines, "Time:     "+formatTimeFull(ev.Timestamp))
	lines = append(lines, "Session:  "+ev.SessionID)
	if ev.CacheOutcome != "" {
		lines = append(lines, "Cache:    "+cacheLabel(ev))
	}
	if ev.DiscardStorm {
		lines = append(lines, "Status:   "+eventStatus(ev))
	}

	if q := ev.Query; q != "" {
		lines = append(lines, "", "Query:")
		for l := range strings.SplitSeq(q, "\n") {
			lines = append(lines, "  "+highlight.SQL(strings.TrimSpace(l)))
		}

		tmpl := ev.NormalizedQuery
		if tmpl == "" {
			tmpl = query.Normalize(q)
		}
		lines = append(lines, "", "Template:")
		lines = append(lines, "  "+truncate(tmpl, max(innerWidth-2, 20)))
	}

	if ev.FingerprintKey != "" {
		lines = append(lines, "", "Fingerprint:")
		lines = append(lines, wrapHex(ev.FingerprintKey, max(innerWidth-2, 32))...)
	}

	return lines
}

// wrapHex breaks a long hex string into indented fixed-width lines.
func wrapHex(s string, width int) []string {
	var out []string
	for len(s) > width {
		out = append(out, "  "+s[:width])
		s = s[width:]
	}
	if s != "" {
		out = append(out, "  "+s)
	}
	return out
}
