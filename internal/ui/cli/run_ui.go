package cli

import (
	"context"

	"graphedit/internal/core/ports"

	tea "github.com/charmbracelet/bubbletea"
)

func runUI(ctx context.Context, editor ports.EditorService) error {
	m := initialModel(editor)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	// Listeners run inside the editor's critical section, so they only
	// queue the latest view; a separate goroutine hands it to the program.
	updates := make(chan historyMsg, 1)
	push := func() {
		msg := newHistoryMsg(editor)
		for {
			select {
			case updates <- msg:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	unsubscribe := editor.Subscribe(push)
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case msg := <-updates:
				p.Send(msg)
			case <-done:
				return
			}
		}
	}()

	push()
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
