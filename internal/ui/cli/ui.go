package cli

import (
	"fmt"
	"time"

	"graphedit/internal/core/history"
	"graphedit/internal/core/ports"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	redoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

// item is one history entry row; id is the entry it jumps to.
type item struct {
	id, title, desc string
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + " " + i.desc }

type model struct {
	editor      ports.EditorService
	undoList    list.Model
	redoList    list.Model
	mode        panelMode
	view        ports.HistoryView
	entities    int
	connections int
	lastUpdate  time.Time
	status      string
	statusErr   bool
}

type panelMode int

const (
	panelUndo panelMode = iota
	panelRedo
)

// historyMsg carries a fresh copy of the history after a change notification.
type historyMsg struct {
	view        ports.HistoryView
	entities    int
	connections int
}

// actionResultMsg reports the outcome of an undo, redo or jump started from a key.
type actionResultMsg struct {
	action string
	steps  int
	err    error
}

func newHistoryMsg(editor ports.EditorService) historyMsg {
	snap := editor.Snapshot()
	return historyMsg{
		view:        editor.History(),
		entities:    len(snap.Entities),
		connections: len(snap.Connections),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return handleKeyActions(msg, m)
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		width := msg.Width - h
		height := msg.Height - v - 6
		if height < 5 {
			height = 5
		}
		m.undoList.SetSize(width, height)
		m.redoList.SetSize(width, height)
	case historyMsg:
		m.view = msg.view
		m.entities = msg.entities
		m.connections = msg.connections
		m.lastUpdate = time.Now()
		m.undoList.SetItems(historyItems(m.view.Undo))
		m.redoList.SetItems(historyItems(m.view.Redo))
		return m, nil
	case actionResultMsg:
		m.status, m.statusErr = describeResult(msg)
		return m, nil
	}

	var cmd tea.Cmd
	if m.mode == panelUndo {
		m.undoList, cmd = m.undoList.Update(msg)
	} else {
		m.redoList, cmd = m.redoList.Update(msg)
	}
	return m, cmd
}

// historyItems lists a stack top first, so the next entry to act on is the first row.
func historyItems(stack []history.Summary) []list.Item {
	items := make([]list.Item, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		s := stack[i]
		items = append(items, item{
			id:    s.ID,
			title: s.Description,
			desc:  fmt.Sprintf("%s | %s | %s", s.Kind, s.Timestamp.Local().Format(time.TimeOnly), shortID(s.ID)),
		})
	}
	return items
}

func describeResult(msg actionResultMsg) (string, bool) {
	if msg.err != nil {
		return formatError(msg.err), true
	}
	switch msg.action {
	case "undo", "redo":
		if msg.steps == 0 {
			return "nothing to " + msg.action, false
		}
		return msg.action + " done", false
	default:
		return fmt.Sprintf("%s: %d step(s)", msg.action, msg.steps), false
	}
}

func (m model) View() string {
	undo, redo := len(m.view.Undo), len(m.view.Redo)
	status := statusStyle.Render(fmt.Sprintf("Last update: %v | %d entities | %d connections",
		m.lastUpdate.Format(time.TimeOnly), m.entities, m.connections))
	summary := fmt.Sprintf("%s | %s",
		successStyle.Render(fmt.Sprintf("%d undo", undo)),
		redoStyle.Render(fmt.Sprintf("%d redo", redo)))

	header := fmt.Sprintf("%s\n%s | %s\n", titleStyle("Graph Edit History"), status, summary)
	body := m.undoList.View()
	if m.mode == panelRedo {
		body = m.redoList.View()
	}
	if m.status != "" {
		body += "\n\n" + renderStatus(m)
	}
	return docStyle.Render(header + "\n" + renderHelp(m) + "\n\n" + body)
}

func initialModel(editor ports.EditorService) model {
	undoList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	undoList.Title = "Undo (applied edits)"
	undoList.SetShowStatusBar(false)
	undoList.SetFilteringEnabled(true)

	redoList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	redoList.Title = "Redo (reverted edits)"
	redoList.SetShowStatusBar(false)
	redoList.SetFilteringEnabled(true)

	return model{
		editor:     editor,
		undoList:   undoList,
		redoList:   redoList,
		mode:       panelUndo,
		lastUpdate: time.Now(),
	}
}
