// Package tui is the terminal dashboard for a running rowcap daemon: a live
// list of filter decisions (forwarded vs. substituted responses), an
// inspector for single events, per-template analytics, and an EXPLAIN view
// for queries that keep tripping the limits.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pentve/rowcap/clipboard"
	"github.com/pentve/rowcap/explain"
	"github.com/pentve/rowcap/internal/events"
)

type viewMode int

const (
	viewList viewMode = iota
	viewInspect
	viewExplain
	viewAnalytics
)

type sortMode int

const (
	sortChronological sortMode = iota
	sortRows
	sortBytes
)

// Source is anything that can hand the TUI a stream of events: an in-process
// *events.Broker, or a web.Watch subscription to a remote daemon.
type Source interface {
	Subscribe() (<-chan events.Event, func())
}

// ChannelSource adapts an already-open event channel (e.g. from web.Watch)
// into a Source. The stop function is invoked on unsubscribe.
func ChannelSource(ch <-chan events.Event, stop func()) Source {
	return channelSource{ch: ch, stop: stop}
}

type channelSource struct {
	ch   <-chan events.Event
	stop func()
}

func (s channelSource) Subscribe() (<-chan events.Event, func()) {
	return s.ch, s.stop
}

// Model is the Bubble Tea model for the rowcap dashboard.
type Model struct {
	source   Source
	explainC *explain.Client

	ch    <-chan events.Event
	unsub func()

	evs     []events.Event
	visible []int // indices into evs passing filter+search
	cursor  int   // index into visible
	follow  bool
	width   int
	height  int
	err     error
	view    viewMode
	alert   string

	searchMode   bool
	searchQuery  string
	searchCursor int
	filterMode   bool
	filterQuery  string
	filterCursor int
	sortMode     sortMode

	inspectScroll int

	explainPlan    string
	explainErr     error
	explainScroll  int
	explainHScroll int
	explainMode    explain.Mode
	explainQuery   string

	analyticsRows     []analyticsRow
	analyticsCursor   int
	analyticsHScroll  int
	analyticsSortMode analyticsSortMode
}

// eventMsg carries one event received from the source.
type eventMsg struct{ Event events.Event }

// errMsg carries a terminal source error.
type errMsg struct{ Err error }

// closedMsg is sent when the source channel closes.
type closedMsg struct{}

// subscribedMsg is sent once the source subscription is established.
type subscribedMsg struct {
	ch    <-chan events.Event
	unsub func()
}

type explainResultMsg struct {
	plan string
	err  error
}

// New creates a Model consuming src. explainC may be nil, in which case the
// explain keys are disabled.
func New(src Source, explainC *explain.Client) Model {
	return Model{
		source:   src,
		explainC: explainC,
		follow:   true,
	}
}

// Init subscribes to the event source.
func (m Model) Init() tea.Cmd {
	return func() tea.Msg {
		ch, unsub := m.source.Subscribe()
		return subscribedMsg{ch: ch, unsub: unsub}
	}
}

func recvEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg{Event: ev}
	}
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case subscribedMsg:
		m.ch = msg.ch
		m.unsub = msg.unsub
		return m, recvEvent(m.ch)

	case eventMsg:
		m.evs = append(m.evs, msg.Event)
		if m.view == viewList {
			m.visible = matchingEvents(m.evs, m.filterQuery, m.searchQuery, m.sortMode)
			if m.follow {
				m.cursor = max(len(m.visible)-1, 0)
			}
		}
		return m, recvEvent(m.ch)

	case closedMsg:
		return m, nil

	case errMsg:
		m.err = msg.Err
		return m, nil

	case explainResultMsg:
		m.explainPlan = msg.plan
		m.explainErr = msg.err
		return m, nil

	case tea.KeyMsg:
		m.alert = ""
		switch m.view {
		case viewInspect:
			return m.updateInspect(msg)
		case viewExplain:
			return m.updateExplain(msg)
		case viewAnalytics:
			return m.updateAnalytics(msg)
		case viewList:
			return m.updateList(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}
	if m.err != nil {
		return friendlyError(m.err, m.width)
	}
	if len(m.evs) == 0 {
		return "Waiting for responses..."
	}

	switch m.view {
	case viewInspect:
		return m.renderInspector()
	case viewExplain:
		return m.renderExplain()
	case viewAnalytics:
		return m.renderAnalytics()
	case viewList:
	}
	return m.renderListView()
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.unsub != nil {
		m.unsub()
	}
	return m, tea.Quit
}

func (m Model) rebuild() Model {
	m.visible = matchingEvents(m.evs, m.filterQuery, m.searchQuery, m.sortMode)
	m.cursor = min(m.cursor, max(len(m.visible)-1, 0))
	return m
}

// cursorEvent returns the event under the cursor, or nil.
func (m Model) cursorEvent() *events.Event {
	if m.cursor < 0 || m.cursor >= len(m.visible) {
		return nil
	}
	return &m.evs[m.visible[m.cursor]]
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searchMode {
		return m.updateSearch(msg)
	}
	if m.filterMode {
		return m.updateFilter(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m.quit()
	case "enter":
		if len(m.visible) > 0 {
			m.view = viewInspect
			m.inspectScroll = 0
		}
		return m, nil
	case "a":
		return m.enterAnalytics(), nil
	case "c":
		return m.copyQuery(), nil
	case "C":
		return m.copyFingerprint(), nil
	case "x":
		return m.startExplain(explain.Explain)
	case "X":
		return m.startExplain(explain.Analyze)
	case "w":
		return m.export(exportJSON), nil
	case "W":
		return m.export(exportMarkdown), nil
	case "/":
		m.searchMode = true
		m.searchQuery = ""
		m.searchCursor = 0
		return m, nil
	case "f":
		m.filterMode = true
		m.filterQuery = ""
		m.filterCursor = 0
		return m, nil
	case "s":
		return m.toggleSort(), nil
	case "esc":
		return m.clearFilter(), nil
	case "j", "down", "k", "up":
		return m.navigateCursor(msg.String()), nil
	case "ctrl+d", "pgdown", "ctrl+u", "pgup":
		return m.pageScroll(msg.String()), nil
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		return m, nil
	case "esc":
		m.searchMode = false
		m.searchQuery = ""
		return m.rebuild(), nil
	case "ctrl+c":
		return m.quit()
	case "backspace":
		if m.searchCursor > 0 {
			runes := []rune(m.searchQuery)
			m.searchQuery = string(runes[:m.searchCursor-1]) + string(runes[m.searchCursor:])
			m.searchCursor--
			return m.rebuild(), nil
		}
		return m, nil
	case "left":
		if m.searchCursor > 0 {
			m.searchCursor--
		}
		return m, nil
	case "right":
		if m.searchCursor < len([]rune(m.searchQuery)) {
			m.searchCursor++
		}
		return m, nil
	case "up", "down":
		return m.navigateCursor(msg.String()), nil
	}

	r := msg.Runes
	if len(r) == 0 {
		return m, nil
	}
	runes := []rune(m.searchQuery)
	m.searchQuery = string(runes[:m.searchCursor]) + string(r) + string(runes[m.searchCursor:])
	m.searchCursor += len(r)
	return m.rebuild(), nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filterMode = false
		return m, nil
	case "esc":
		m.filterMode = false
		m.filterQuery = ""
		return m.rebuild(), nil
	case "ctrl+c":
		return m.quit()
	case "backspace":
		if m.filterCursor > 0 {
			runes := []rune(m.filterQuery)
			m.filterQuery = string(runes[:m.filterCursor-1]) + string(runes[m.filterCursor:])
			m.filterCursor--
			return m.rebuild(), nil
		}
		return m, nil
	case "left":
		if m.filterCursor > 0 {
			m.filterCursor--
		}
		return m, nil
	case "right":
		if m.filterCursor < len([]rune(m.filterQuery)) {
			m.filterCursor++
		}
		return m, nil
	case "up", "down":
		return m.navigateCursor(msg.String()), nil
	}

	r := msg.Runes
	if len(r) == 0 {
		return m, nil
	}
	runes := []rune(m.filterQuery)
	m.filterQuery = string(runes[:m.filterCursor]) + string(r) + string(runes[m.filterCursor:])
	m.filterCursor += len(r)
	return m.rebuild(), nil
}

func (m Model) navigateCursor(key string) Model {
	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.follow = false
		}
	case "down", "j":
		if len(m.visible) > 0 && m.cursor < len(m.visible)-1 {
			m.cursor++
		}
		if len(m.visible) > 0 && m.cursor == len(m.visible)-1 {
			m.follow = true
		}
	}
	return m
}

func (m Model) pageScroll(key string) Model {
	half := max(m.listHeight(1)/2, 1)
	switch key {
	case "ctrl+d", "pgdown":
		m.cursor = min(m.cursor+half, max(len(m.visible)-1, 0))
		if len(m.visible) > 0 && m.cursor == len(m.visible)-1 {
			m.follow = true
		}
	case "ctrl+u", "pgup":
		m.cursor = max(m.cursor-half, 0)
		m.follow = false
	}
	return m
}

func (m Model) toggleSort() Model {
	switch m.sortMode {
	case sortChronological:
		m.sortMode = sortRows
		m.follow = false
	case sortRows:
		m.sortMode = sortBytes
	case sortBytes:
		m.sortMode = sortChronological
	}
	m = m.rebuild()
	m.cursor = 0
	return m
}

func (m Model) clearFilter() Model {
	if m.searchQuery == "" && m.filterQuery == "" {
		return m
	}
	m.searchQuery = ""
	m.filterQuery = ""
	return m.rebuild()
}

func (m Model) enterAnalytics() Model {
	m.analyticsRows = buildAnalyticsRows(m.evs)
	sortAnalyticsRows(m.analyticsRows, m.analyticsSortMode)
	m.analyticsCursor = 0
	m.analyticsHScroll = 0
	m.view = viewAnalytics
	return m
}

func (m Model) copyQuery() Model {
	ev := m.cursorEvent()
	if ev == nil || ev.Query == "" {
		return m
	}
	if err := clipboard.Copy(context.Background(), ev.Query); err == nil {
		m.alert = "query copied"
	}
	return m
}

func (m Model) copyFingerprint() Model {
	ev := m.cursorEvent()
	if ev == nil || ev.FingerprintKey == "" {
		return m
	}
	if err := clipboard.Copy(context.Background(), ev.FingerprintKey); err == nil {
		m.alert = "fingerprint copied"
	}
	return m
}

func (m Model) startExplain(mode explain.Mode) (tea.Model, tea.Cmd) {
	ev := m.cursorEvent()
	if ev == nil || ev.Query == "" || m.explainC == nil {
		return m, nil
	}

	m.view = viewExplain
	m.explainPlan = ""
	m.explainErr = nil
	m.explainScroll = 0
	m.explainHScroll = 0
	m.explainMode = mode
	m.explainQuery = ev.Query
	return m, runExplain(m.explainC, mode, ev.Query)
}
