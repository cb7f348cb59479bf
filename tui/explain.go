package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/pentve/rowcap/clipboard"
	"github.com/pentve/rowcap/explain"
	"github.com/pentve/rowcap/highlight"
)

func (m Model) updateExplain(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
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
		lines := m.explainLines()
		maxScroll := max(len(lines)-m.explainVisibleRows(), 0)
		if m.explainScroll < maxScroll {
			m.explainScroll++
		}
		return m, nil
	case "k", "up":
		if m.explainScroll > 0 {
			m.explainScroll--
		}
		return m, nil
	case "h", "left":
		if m.explainHScroll > 0 {
			m.explainHScroll--
		}
		return m, nil
	case "l", "right":
		innerWidth := max(m.width-4, 20)
		maxHScroll := max(m.explainMaxLineWidth()-innerWidth, 0)
		if m.explainHScroll < maxHScroll {
			m.explainHScroll++
		}
		return m, nil
	case "c":
		if m.explainPlan == "" {
			return m, nil
		}
		_ = clipboard.Copy(context.Background(), m.explainPlan)
		return m, nil
	}
	return m, nil
}

func (m Model) explainLines() []string {
	if m.explainErr != nil {
		return []string{"Error: " + m.explainErr.Error()}
	}
	if m.explainPlan == "" {
		return []string{"Running " + m.explainMode.String() + "..."}
	}
	return strings.Split(m.explainPlan, "\n")
}

func (m Model) explainMaxLineWidth() int {
	maxW := 0
	for _, line := range m.explainLines() {
		if w := len([]rune(line)); w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m Model) explainVisibleRows() int {
	return max(m.height-2, 3) // -2 for top/bottom border
}

func (m Model) renderExplain() string {
	innerWidth := max(m.width-4, 20)
	visibleRows := m.explainVisibleRows()

	lines := m.explainLines()

	maxScroll := max(len(lines)-visibleRows, 0)
	if m.explainScroll > maxScroll {
		m.explainScroll = maxScroll
	}

	end := min(m.explainScroll+visibleRows, len(lines))
	visible := lines[m.explainScroll:end]

	// Highlight full lines first, then ANSI-aware slice for horizontal scroll.
	for i, line := range visible {
		visible[i] = ansi.Cut(highlight.Plan(line), m.explainHScroll, m.explainHScroll+innerWidth)
	}
	content := strings.Join(visible, "\n")

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(lipgloss.Color("240")).
		Render(content)

	box = withTitle(box, " "+m.explainMode.String()+" ", innerWidth)
	return withHelp(box, " q: back  j/k/h/l: scroll  c: copy ", innerWidth)
}

func runExplain(client *explain.Client, mode explain.Mode, q string) tea.Cmd {
	return func() tea.Msg {
		res, err := client.Run(context.Background(), mode, q)
		if err != nil {
			return explainResultMsg{err: err}
		}
		return explainResultMsg{plan: res.Plan}
	}
}
