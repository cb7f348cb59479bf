package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pentve/rowcap/clipboard"
	"github.com/pentve/rowcap/internal/events"
	"github.com/pentve/rowcap/query"
)

type analyticsSortMode int

const (
	analyticsSortCount analyticsSortMode = iota
	analyticsSortDiscards
	analyticsSortRows
	analyticsSortBytes
)

func (s analyticsSortMode) String() string {
	switch s {
	case analyticsSortCount:
		return "count"
	case analyticsSortDiscards:
		return "discards"
	case analyticsSortRows:
		return "rows"
	case analyticsSortBytes:
		return "bytes"
	}
	return "count"
}

func (s analyticsSortMode) next() analyticsSortMode {
	switch s {
	case analyticsSortCount:
		return analyticsSortDiscards
	case analyticsSortDiscards:
		return analyticsSortRows
	case analyticsSortRows:
		return analyticsSortBytes
	case analyticsSortBytes:
		return analyticsSortCount
	}
	return analyticsSortCount
}

// analyticsRow aggregates the responses seen for one query template.
type analyticsRow struct {
	template  string
	count     int
	discards  int
	cacheHits int
	maxRows   int
	maxBytes  int
}

func templateFor(ev events.Event) string {
	if ev.NormalizedQuery != "" {
		return ev.NormalizedQuery
	}
	if ev.Query == "" {
		return ""
	}
	return query.Normalize(ev.Query)
}

func buildAnalyticsRows(evs []events.Event) []analyticsRow {
	groups := make(map[string]*analyticsRow)
	var order []string

	for _, ev := range evs {
		tmpl := templateFor(ev)
		if tmpl == "" {
			continue
		}
		g, ok := groups[tmpl]
		if !ok {
			g = &analyticsRow{template: tmpl}
			groups[tmpl] = g
			order = append(order, tmpl)
		}
		g.count++
		if ev.Decision == events.DecisionSyntheticOK {
			g.discards++
		}
		if ev.CacheOutcome == events.CacheOutcomeHit {
			g.cacheHits++
		}
		g.maxRows = max(g.maxRows, ev.Rows)
		g.maxBytes = max(g.maxBytes, ev.Bytes)
	}

	rows := make([]analyticsRow, 0, len(groups))
	for _, tmpl := range order {
		rows = append(rows, *groups[tmpl])
	}
	return rows
}

func sortAnalyticsRows(rows []analyticsRow, mode analyticsSortMode) {
	sort.SliceStable(rows, func(i, j int) bool {
		switch mode {
		case analyticsSortCount:
			return rows[i].count > rows[j].count
		case analyticsSortDiscards:
			return rows[i].discards > rows[j].discards
		case analyticsSortRows:
			return rows[i].maxRows > rows[j].maxRows
		case analyticsSortBytes:
			return rows[i].maxBytes > rows[j].maxBytes
		}
		return rows[i].count > rows[j].count
	})
}

func (m Model) updateAnalytics(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
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
	case "j", "down":
		if len(m.analyticsRows) > 0 && m.analyticsCursor < len(m.analyticsRows)-1 {
			m.analyticsCursor++
		}
		return m, nil
	case "k", "up":
		if m.analyticsCursor > 0 {
			m.analyticsCursor--
		}
		return m, nil
	case "h", "left":
		if m.analyticsHScroll > 0 {
			m.analyticsHScroll--
		}
		return m, nil
	case "l", "right":
		m.analyticsHScroll++
		return m, nil
	case "s":
		m.analyticsSortMode = m.analyticsSortMode.next()
		sortAnalyticsRows(m.analyticsRows, m.analyticsSortMode)
		m.analyticsCursor = 0
		return m, nil
	case "c":
		if m.analyticsCursor >= 0 && m.analyticsCursor < len(m.analyticsRows) {
			_ = clipboard.Copy(context.Background(), m.analyticsRows[m.analyticsCursor].template)
		}
		return m, nil
	}
	return m, nil
}

const (
	analyticsColCount    = 7
	analyticsColDiscards = 9
	analyticsColHits     = 6
	analyticsColRows     = 8
	analyticsColBytes    = 9
)

func (m Model) analyticsVisibleRows() int {
	return max(m.height-4, 3) // -2 borders, -1 header, -1 padding
}

func (m Model) renderAnalytics() string {
	innerWidth := max(m.width-4, 20)
	visibleRows := m.analyticsVisibleRows()

	title := fmt.Sprintf(" Analytics (%d templates) [sort: %s] ", len(m.analyticsRows), m.analyticsSortMode)

	// 7 = marker (2) + separator spaces between columns
	fixedWidth := 2 + analyticsColCount + analyticsColDiscards + analyticsColHits +
		analyticsColRows + analyticsColBytes + 5
	colQuery := max(innerWidth-fixedWidth, 10)

	header := fmt.Sprintf("  %*s %*s %*s %*s %*s  %s",
		analyticsColCount, "Count",
		analyticsColDiscards, "Discards",
		analyticsColHits, "Hits",
		analyticsColRows, "MaxRows",
		analyticsColBytes, "MaxBytes",
		"Query",
	)

	dataRows := max(visibleRows-1, 1)

	start := 0
	if len(m.analyticsRows) > dataRows {
		start = max(m.analyticsCursor-dataRows/2, 0)
		if start+dataRows > len(m.analyticsRows) {
			start = len(m.analyticsRows) - dataRows
		}
	}
	end := min(start+dataRows, len(m.analyticsRows))

	rows := []string{lipgloss.NewStyle().Bold(true).Render(header)}
	for i := start; i < end; i++ {
		r := m.analyticsRows[i]
		marker := "  "
		if i == m.analyticsCursor {
			marker = "▶ "
		}

		q := strings.TrimSpace(reSpaces.ReplaceAllString(r.template, " "))
		runes := []rune(q)
		if m.analyticsHScroll < len(runes) {
			runes = runes[m.analyticsHScroll:]
		} else {
			runes = nil
		}
		q = string(runes)
		if len([]rune(q)) > colQuery {
			q = string([]rune(q)[:colQuery-1]) + "…"
		}

		discards := fmt.Sprintf("%d", r.discards)
		if r.discards > 0 {
			discards = discardStyle.Render(discards)
		}

		row := marker +
			padLeft(fmt.Sprintf("%d", r.count), analyticsColCount) + " " +
			padLeft(discards, analyticsColDiscards) + " " +
			padLeft(fmt.Sprintf("%d", r.cacheHits), analyticsColHits) + " " +
			padLeft(fmt.Sprintf("%d", r.maxRows), analyticsColRows) + " " +
			padLeft(formatBytes(r.maxBytes), analyticsColBytes) + "  " +
			q
		rows = append(rows, row)
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(lipgloss.Color("240")).
		Render(strings.Join(rows, "\n"))

	box = withTitle(box, title, innerWidth)
	return withHelp(box, " q: back  j/k: scroll  h/l: pan  s: sort  c: copy ", innerWidth)
}
