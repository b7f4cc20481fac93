package cli

func renderHelp(m model) string {
	keys := "Keys: tab panel | / filter | u undo | r redo | enter undo to here | q quit"
	if m.mode == panelRedo {
		keys = "Keys: tab panel | / filter | u undo | r redo | enter redo to here | q quit"
	}
	return statusStyle.Render(keys)
}

func renderStatus(m model) string {
	if m.statusErr {
		return errorStyle.Render(m.status)
	}
	return statusStyle.Render(m.status)
}
