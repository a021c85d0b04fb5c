// Package inbox is the terminal front end for the newsletter engine: a
// scrolling record list with status/time cycling, tag staging, and a health
// line. All filtering logic lives in the engine; this package only renders
// state and forwards key presses.
package inbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zapidan/newsletter-hub-sub001/internal/engine"
	"github.com/zapidan/newsletter-hub-sub001/internal/filter"
	"github.com/zapidan/newsletter-hub-sub001/internal/model"
	"github.com/zapidan/newsletter-hub-sub001/internal/otel"
)

// refreshed signals that an engine operation finished and the visible list
// may have changed.
type refreshed struct{ err error }

// keyMap defines the inbox key bindings.
type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Status    key.Binding
	Time      key.Binding
	Read      key.Binding
	Like      key.Binding
	Archive   key.Binding
	Tag       key.Binding // 1..9 toggles the Nth tag of the selected record
	ClearTags key.Binding
	More      key.Binding
	Refresh   key.Binding
	Reset     key.Binding
	Local     key.Binding
	Diag      key.Binding
	Quit      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k")),
		Down:      key.NewBinding(key.WithKeys("down", "j")),
		Status:    key.NewBinding(key.WithKeys("tab")),
		Time:      key.NewBinding(key.WithKeys("t")),
		Read:      key.NewBinding(key.WithKeys("m")),
		Like:      key.NewBinding(key.WithKeys("l")),
		Archive:   key.NewBinding(key.WithKeys("a")),
		Tag:       key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9")),
		ClearTags: key.NewBinding(key.WithKeys("x")),
		More:      key.NewBinding(key.WithKeys("n")),
		Refresh:   key.NewBinding(key.WithKeys("r")),
		Reset:     key.NewBinding(key.WithKeys("R")),
		Local:     key.NewBinding(key.WithKeys("f")),
		Diag:      key.NewBinding(key.WithKeys("d")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c")),
	}
}

var statusCycle = []filter.Status{
	filter.StatusUnread, filter.StatusRead, filter.StatusLiked, filter.StatusArchived,
}

var timeCycle = []filter.TimeRange{
	filter.TimeRangeWeek, filter.TimeRangeDay, filter.TimeRange2Days,
	filter.TimeRangeLast7, filter.TimeRangeLast30, filter.TimeRangeMonth,
	filter.TimeRangeAll,
}

// Model is the inbox view.
type Model struct {
	eng    *engine.Engine
	events *otel.RingBuffer // nil disables the diagnostics overlay
	ctx    context.Context
	keys   keyMap
	spin   spinner.Model
	cursor int
	width  int
	height int
	local  bool // local-filtering opt-in toggle
	diag   bool // diagnostics overlay visible
	err    error
}

// New creates the inbox view over a started engine. events feeds the
// diagnostics overlay; showDiag opens it at startup.
func New(ctx context.Context, eng *engine.Engine, events *otel.RingBuffer, showDiag bool) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return Model{
		eng:    eng,
		events: events,
		ctx:    ctx,
		keys:   defaultKeyMap(),
		spin:   s,
		diag:   showDiag && events != nil,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshed:
		m.err = msg.err
		m.clampCursor()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.eng.Items())-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Status):
		next := cycle(statusCycle, m.eng.State().Status)
		return m, m.do(func() { m.eng.SetStatus(next) })

	case key.Matches(msg, m.keys.Time):
		next := cycle(timeCycle, m.eng.State().TimeRange)
		return m, m.do(func() { m.eng.SetTimeRange(next) })

	case key.Matches(msg, m.keys.Read):
		if r, ok := m.selected(); ok {
			return m, m.do(func() { m.eng.MarkRead(r.ID, !r.IsRead) })
		}

	case key.Matches(msg, m.keys.Like):
		if r, ok := m.selected(); ok {
			return m, m.do(func() { m.eng.ToggleLike(r.ID) })
		}

	case key.Matches(msg, m.keys.Archive):
		if r, ok := m.selected(); ok {
			return m, m.do(func() { m.eng.Archive(r.ID, !r.IsArchived) })
		}

	case key.Matches(msg, m.keys.Tag):
		if tag, ok := m.tagAt(msg.String()); ok {
			return m, m.do(func() { m.eng.ToggleTag(tag) })
		}

	case key.Matches(msg, m.keys.ClearTags):
		return m, m.do(func() { m.eng.ClearTags() })

	case key.Matches(msg, m.keys.Diag):
		if m.events != nil {
			m.diag = !m.diag
		}
		return m, nil

	case key.Matches(msg, m.keys.More):
		return m, m.doErr(func() error { return m.eng.FetchNextPage(m.ctx) })

	case key.Matches(msg, m.keys.Refresh):
		return m, m.doErr(func() error { return m.eng.Refetch(m.ctx) })

	case key.Matches(msg, m.keys.Reset):
		m.cursor = 0
		return m, m.do(func() { m.eng.ResetAll() })

	case key.Matches(msg, m.keys.Local):
		m.local = !m.local
		local := m.local
		return m, m.do(func() { m.eng.SetLocalFiltering(local) })
	}
	return m, nil
}

// do runs an engine mutation off the UI goroutine and reports back.
func (m Model) do(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return refreshed{}
	}
}

func (m Model) doErr(fn func() error) tea.Cmd {
	return func() tea.Msg {
		return refreshed{err: fn()}
	}
}

func (m Model) selected() (model.Record, bool) {
	items := m.eng.Items()
	if m.cursor < 0 || m.cursor >= len(items) {
		return model.Record{}, false
	}
	return items[m.cursor], true
}

// tagAt maps a digit key press onto the Nth tag of the selected record.
func (m Model) tagAt(digit string) (string, bool) {
	r, ok := m.selected()
	if !ok {
		return "", false
	}
	n := int(digit[0] - '1')
	if n < 0 || n >= len(r.TagIDs) {
		return "", false
	}
	return r.TagIDs[n], true
}

func (m *Model) clampCursor() {
	if n := len(m.eng.Items()); m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.headerLine())
	b.WriteByte('\n')

	items := m.eng.Items()
	switch {
	case m.eng.IsLoadingInitial():
		b.WriteString(dimStyle.Render(m.spin.View() + " loading..."))
		b.WriteByte('\n')
	case len(items) == 0:
		b.WriteString(dimStyle.Render("  nothing here"))
		b.WriteByte('\n')
	default:
		visible := m.height - 4
		if visible < 1 {
			visible = len(items)
		}
		start := 0
		if m.cursor >= visible {
			start = m.cursor - visible + 1
		}
		for i := start; i < len(items) && i < start+visible; i++ {
			b.WriteString(m.renderRecord(items[i], i == m.cursor))
			b.WriteByte('\n')
		}
	}

	if r, ok := m.selected(); ok && len(r.TagIDs) > 0 {
		b.WriteString(m.tagLine(r))
		b.WriteByte('\n')
	}
	if m.diag {
		b.WriteString(m.diagPanel())
	}

	b.WriteString(m.footerLine())
	return b.String()
}

// tagLine lists the selected record's tags with the digit that toggles each
// one into the staged filter set.
func (m Model) tagLine(r model.Record) string {
	staged := make(map[string]bool)
	for _, id := range m.eng.PendingTags() {
		staged[id] = true
	}
	parts := make([]string, 0, len(r.TagIDs))
	for i, id := range r.TagIDs {
		if i >= 9 {
			break
		}
		label := fmt.Sprintf("[%d]%s", i+1, id)
		if staged[id] {
			parts = append(parts, tagStyle.Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
	}
	return "  " + strings.Join(parts, " ")
}

// diagPanel summarizes recent engine activity from the event ring.
func (m Model) diagPanel() string {
	var b strings.Builder
	counts := m.events.CountByKind()
	b.WriteString(dimStyle.Render(fmt.Sprintf(
		"  events: fetch ok:%d timeout:%d err:%d stale:%d  commits:%d  fallback:%d recover:%d",
		counts[otel.KindFetchComplete], counts[otel.KindFetchTimeout],
		counts[otel.KindFetchError], counts[otel.KindFetchStale],
		counts[otel.KindFilterCommit],
		counts[otel.KindHealthFallback], counts[otel.KindHealthRecover],
	)))
	b.WriteByte('\n')
	for _, e := range m.events.TailOfKind(otel.KindFetchError, 3) {
		b.WriteString(errStyle.Render("  " + e.Time.Format("15:04:05") + " " + e.Err))
		b.WriteByte('\n')
	}
	if e, ok := m.events.LastOfKind(otel.KindHealthFallback); ok {
		b.WriteString(dimStyle.Render("  last fallback: " + e.Time.Format("15:04:05")))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m Model) headerLine() string {
	state := m.eng.State()
	parts := []string{
		titleStyle.Render("newsletters"),
		badgeStyle.Render(string(state.Status)),
		badgeStyle.Render(string(state.TimeRange)),
	}
	if tags := m.eng.PendingTags(); len(tags) > 0 {
		parts = append(parts, tagStyle.Render("#"+strings.Join(tags, " #")))
	}
	if state.SourceID != "" {
		parts = append(parts, badgeStyle.Render("src:"+state.SourceID))
	}
	if total := m.eng.TotalCount(); total > 0 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("%d total", total)))
	}
	return strings.Join(parts, " ")
}

func (m Model) footerLine() string {
	h := m.eng.Health()
	healthTxt := "server"
	if h.ShouldUseFallback || m.local {
		healthTxt = "local"
	}
	status := fmt.Sprintf("filter:%s avg:%.0fms fail:%d", healthTxt, h.AvgResponseTime, h.FailureCount)
	if m.eng.IsLoadingMore() {
		status = m.spin.View() + " " + status
	}
	if m.err != nil {
		status += "  " + errStyle.Render(m.err.Error())
	} else if err := m.eng.LastError(); err != nil {
		status += "  " + errStyle.Render(err.Error())
	}
	if m.eng.HasNextPage() {
		status += dimStyle.Render("  [n] more")
	}
	return footerStyle.Render(status)
}

func (m Model) renderRecord(r model.Record, selected bool) string {
	marker := " "
	if !r.IsRead {
		marker = unreadStyle.Render("●")
	}
	like := " "
	if r.IsLiked {
		like = likeStyle.Render("♥")
	}
	line := fmt.Sprintf("%s%s %s  %s  %s",
		marker, like,
		sourceStyle.Render(pad(r.SourceName, 16)),
		r.Title,
		dimStyle.Render(r.ReceivedAt.Format("Jan 02")),
	)
	if selected {
		return selectedStyle.Render("> " + line)
	}
	return "  " + line
}

func pad(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n-1]) + "…"
	}
	return s + strings.Repeat(" ", n-len(runes))
}

func cycle[T comparable](options []T, current T) T {
	for i, v := range options {
		if v == current {
			return options[(i+1)%len(options)]
		}
	}
	return options[0]
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#58a6ff"))
	badgeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#d2a8ff"))
	tagStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#7ee787"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e"))
	sourceStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#a5d6ff"))
	unreadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#58a6ff"))
	likeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#f778ba"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#f85149"))
	selectedStyle = lipgloss.NewStyle().Bold(true)
	footerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8b949e")).MarginTop(1)
	spinnerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#58a6ff"))
)
