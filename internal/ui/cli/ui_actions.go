package cli

import (
	"context"

	"graphedit/internal/core/ports"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

func handleKeyActions(msg tea.KeyMsg, m model) (tea.Model, tea.Cmd) {
	if m.activeList().FilterState() == list.Filtering {
		return m.updateActiveList(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "tab":
		if m.mode == panelUndo {
			m.mode = panelRedo
		} else {
			m.mode = panelUndo
		}
		return m, nil
	case "u":
		return m, undoCmd(m.editor)
	case "r":
		return m, redoCmd(m.editor)
	case "enter":
		id, ok := m.selectedEntry()
		if !ok {
			return m, nil
		}
		if m.mode == panelUndo {
			return m, undoToCmd(m.editor, id)
		}
		return m, redoToCmd(m.editor, id)
	case "esc":
		m.status = ""
		m.statusErr = false
	}

	return m.updateActiveList(msg)
}

func (m model) activeList() list.Model {
	if m.mode == panelRedo {
		return m.redoList
	}
	return m.undoList
}

func (m model) updateActiveList(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.mode == panelRedo {
		m.redoList, cmd = m.redoList.Update(msg)
	} else {
		m.undoList, cmd = m.undoList.Update(msg)
	}
	return m, cmd
}

func (m model) selectedEntry() (string, bool) {
	selected, ok := m.activeList().SelectedItem().(item)
	if !ok {
		return "", false
	}
	return selected.id, true
}

// The commands below run off the UI loop; the panels refresh through the
// editor's change notifications, not through these results.

func undoCmd(editor ports.EditorService) tea.Cmd {
	return func() tea.Msg {
		ok, err := editor.Undo(context.Background())
		return actionResultMsg{action: "undo", steps: boolSteps(ok), err: err}
	}
}

func redoCmd(editor ports.EditorService) tea.Cmd {
	return func() tea.Msg {
		ok, err := editor.Redo(context.Background())
		return actionResultMsg{action: "redo", steps: boolSteps(ok), err: err}
	}
}

func undoToCmd(editor ports.EditorService, id string) tea.Cmd {
	return func() tea.Msg {
		steps, err := editor.UndoTo(context.Background(), id)
		return actionResultMsg{action: "undo to " + shortID(id), steps: steps, err: err}
	}
}

func redoToCmd(editor ports.EditorService, id string) tea.Cmd {
	return func() tea.Msg {
		steps, err := editor.RedoTo(context.Background(), id)
		return actionResultMsg{action: "redo to " + shortID(id), steps: steps, err: err}
	}
}

func boolSteps(ok bool) int {
	if ok {
		return 1
	}
	return 0
}
