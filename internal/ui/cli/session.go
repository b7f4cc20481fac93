package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	coreerrors "graphedit/internal/core/errors"
	"graphedit/internal/core/history"
	"graphedit/internal/core/ports"
	"graphedit/internal/engine/graph"
	"graphedit/internal/shared/util"
)

const shortIDLen = 8

var errQuit = errors.New("quit")

// Session runs editing commands, one per line, against an editor.
type Session struct {
	editor    ports.EditorService
	out       io.Writer
	vaultDir  string
	logger    *slog.Logger
	commands  map[string]command
	timestamp string
}

type command struct {
	usage string
	help  string
	run   func(ctx context.Context, s *Session, args []string) error
}

func NewSession(editor ports.EditorService, out io.Writer, vaultDir string) *Session {
	s := &Session{
		editor:    editor,
		out:       out,
		vaultDir:  vaultDir,
		logger:    slog.Default(),
		timestamp: time.TimeOnly,
	}
	s.commands = map[string]command{
		"add":        {"add <name> [type] [key=value ...] [@x,y]", "create an entity", cmdAdd},
		"set":        {"set <entity> key=value ...", "set entity properties", cmdSet},
		"unset":      {"unset <entity> key ...", "remove entity properties", cmdUnset},
		"rename":     {"rename <entity> <new name>", "rename an entity", cmdRename},
		"retype":     {"retype <entity> <type>", "change an entity's type", cmdRetype},
		"delete":     {"delete <entity>", "delete an entity and its connections", cmdDelete},
		"connect":    {"connect <from> <to> [label]", "connect two entities", cmdConnect},
		"relabel":    {"relabel <connection> <label>", "change a connection's label", cmdRelabel},
		"disconnect": {"disconnect <connection>", "delete a connection", cmdDisconnect},
		"move":       {"move <entity> <x,y> [<entity> <x,y> ...]", "move one or more nodes as one edit", cmdMove},
		"undo":       {"undo", "revert the last edit", cmdUndo},
		"redo":       {"redo", "re-apply the last reverted edit", cmdRedo},
		"undo-to":    {"undo-to <entry>", "undo back to and including an entry", cmdUndoTo},
		"redo-to":    {"redo-to <entry>", "redo up to and including an entry", cmdRedoTo},
		"history":    {"history [pattern]", "list the undo and redo stacks", cmdHistory},
		"show":       {"show", "list entities and connections", cmdShow},
		"export":     {"export [dir]", "write the graph as markdown notes", cmdExport},
		"help":       {"help", "show this help", cmdHelp},
		"quit":       {"quit", "end the session", cmdQuit},
	}
	return s
}

// Execute runs one command line. Blank lines and # comments are ignored.
// It returns errQuit when the session should end.
func (s *Session) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	args, err := splitArgs(line)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeValidationError, "parse command")
	}
	name := strings.ToLower(args[0])
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := s.commands[name]
	if !ok {
		return coreerrors.Newf(coreerrors.CodeValidationError, "unknown command %q (try help)", args[0])
	}
	s.logger.Debug("session command", "command", name, "args", len(args)-1)
	return cmd.run(ctx, s, args[1:])
}

// Run reads commands from r until EOF or quit. With stopOnError the first
// failing command ends the run and its error is returned with the line number;
// otherwise errors are printed and reading continues.
func (s *Session) Run(ctx context.Context, r io.Reader, prompt string, stopOnError bool) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for {
		if prompt != "" {
			fmt.Fprint(s.out, prompt)
		}
		if !scanner.Scan() {
			break
		}
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.Execute(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			if stopOnError {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			fmt.Fprintln(s.out, formatError(err))
		}
	}
	return scanner.Err()
}

func (s *Session) usage(name string) error {
	return coreerrors.Newf(coreerrors.CodeValidationError, "usage: %s", s.commands[name].usage)
}

func cmdAdd(ctx context.Context, s *Session, args []string) error {
	if len(args) == 0 {
		return s.usage("add")
	}
	name := args[0]
	var entityType string
	var pos graph.Position
	props := map[string]string{}
	for _, arg := range args[1:] {
		switch {
		case strings.HasPrefix(arg, "@"):
			p, err := parsePosition(arg[1:])
			if err != nil {
				return err
			}
			pos = p
		case strings.Contains(arg, "="):
			k, v, _ := strings.Cut(arg, "=")
			props[k] = v
		case entityType == "":
			entityType = arg
		default:
			return s.usage("add")
		}
	}
	entity, err := s.editor.AddEntity(ctx, name, entityType, props, pos)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "added %s (%s)\n", entity.Label(), shortID(entity.ID))
	return nil
}

func cmdSet(ctx context.Context, s *Session, args []string) error {
	if len(args) < 2 {
		return s.usage("set")
	}
	set := make(map[string]string, len(args)-1)
	for _, arg := range args[1:] {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return s.usage("set")
		}
		set[k] = v
	}
	return s.editEntity(ctx, args[0], ports.EntityEdit{Set: set})
}

func cmdUnset(ctx context.Context, s *Session, args []string) error {
	if len(args) < 2 {
		return s.usage("unset")
	}
	return s.editEntity(ctx, args[0], ports.EntityEdit{Unset: args[1:]})
}

func cmdRename(ctx context.Context, s *Session, args []string) error {
	if len(args) < 2 {
		return s.usage("rename")
	}
	name := strings.Join(args[1:], " ")
	return s.editEntity(ctx, args[0], ports.EntityEdit{Name: &name})
}

func cmdRetype(ctx context.Context, s *Session, args []string) error {
	if len(args) != 2 {
		return s.usage("retype")
	}
	return s.editEntity(ctx, args[0], ports.EntityEdit{Type: &args[1]})
}

func (s *Session) editEntity(ctx context.Context, ref string, edit ports.EntityEdit) error {
	entity, err := s.editor.EditEntity(ctx, s.entityRef(ref), edit)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "updated %s\n", entity.Label())
	return nil
}

func cmdDelete(ctx context.Context, s *Session, args []string) error {
	if len(args) != 1 {
		return s.usage("delete")
	}
	if err := s.editor.DeleteEntity(ctx, s.entityRef(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "deleted %s\n", args[0])
	return nil
}

func cmdConnect(ctx context.Context, s *Session, args []string) error {
	if len(args) < 2 {
		return s.usage("connect")
	}
	label := strings.Join(args[2:], " ")
	conn, err := s.editor.Connect(ctx, s.entityRef(args[0]), s.entityRef(args[1]), label)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "connected %s (%s)\n", s.describeConnection(conn), shortID(conn.ID))
	return nil
}

func cmdRelabel(ctx context.Context, s *Session, args []string) error {
	if len(args) < 2 {
		return s.usage("relabel")
	}
	id, err := s.connectionID(args[0])
	if err != nil {
		return err
	}
	label := strings.Join(args[1:], " ")
	conn, err := s.editor.EditConnection(ctx, id, ports.ConnectionEdit{Label: &label})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "relabeled %s\n", s.describeConnection(conn))
	return nil
}

func cmdDisconnect(ctx context.Context, s *Session, args []string) error {
	if len(args) != 1 {
		return s.usage("disconnect")
	}
	id, err := s.connectionID(args[0])
	if err != nil {
		return err
	}
	if err := s.editor.Disconnect(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "disconnected %s\n", shortID(id))
	return nil
}

func cmdMove(ctx context.Context, s *Session, args []string) error {
	if len(args) == 0 || len(args)%2 != 0 {
		return s.usage("move")
	}
	positions := make(map[string]graph.Position, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		pos, err := parsePosition(args[i+1])
		if err != nil {
			return err
		}
		positions[s.entityRef(args[i])] = pos
	}
	if err := s.editor.MoveNodes(ctx, positions); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "moved %d node(s)\n", len(positions))
	return nil
}

func cmdUndo(ctx context.Context, s *Session, args []string) error {
	desc := topDescription(s.editor.History().Undo)
	ok, err := s.editor.Undo(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(s.out, "nothing to undo")
		return nil
	}
	fmt.Fprintf(s.out, "undid: %s\n", desc)
	return nil
}

func cmdRedo(ctx context.Context, s *Session, args []string) error {
	desc := topDescription(s.editor.History().Redo)
	ok, err := s.editor.Redo(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(s.out, "nothing to redo")
		return nil
	}
	fmt.Fprintf(s.out, "redid: %s\n", desc)
	return nil
}

func cmdUndoTo(ctx context.Context, s *Session, args []string) error {
	if len(args) != 1 {
		return s.usage("undo-to")
	}
	id, err := matchID(args[0], summaryIDs(s.editor.History().Undo))
	if err != nil {
		return err
	}
	steps, err := s.editor.UndoTo(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "undid %d step(s)\n", steps)
	return nil
}

func cmdRedoTo(ctx context.Context, s *Session, args []string) error {
	if len(args) != 1 {
		return s.usage("redo-to")
	}
	id, err := matchID(args[0], summaryIDs(s.editor.History().Redo))
	if err != nil {
		return err
	}
	steps, err := s.editor.RedoTo(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "redid %d step(s)\n", steps)
	return nil
}

func cmdHistory(ctx context.Context, s *Session, args []string) error {
	var matcher util.Matcher
	if len(args) > 0 {
		m, err := util.CompileMatcher(strings.Join(args, " "))
		if err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeValidationError, "invalid history pattern")
		}
		matcher = m
	}
	view := filterHistory(s.editor.History(), matcher)

	fmt.Fprintf(s.out, "undo (%d, newest first):\n", len(view.Undo))
	for i := len(view.Undo) - 1; i >= 0; i-- {
		s.printSummary(view.Undo[i])
	}
	fmt.Fprintf(s.out, "redo (%d, next first):\n", len(view.Redo))
	for i := len(view.Redo) - 1; i >= 0; i-- {
		s.printSummary(view.Redo[i])
	}
	return nil
}

func (s *Session) printSummary(sum history.Summary) {
	fmt.Fprintf(s.out, "  %s  %-20s %s  %s\n", shortID(sum.ID), sum.Kind, sum.Timestamp.Local().Format(s.timestamp), sum.Description)
}

func cmdShow(ctx context.Context, s *Session, args []string) error {
	snap := s.editor.Snapshot()
	fmt.Fprintf(s.out, "entities (%d):\n", len(snap.Entities))
	for _, e := range snap.Entities {
		line := fmt.Sprintf("  %s  %s", shortID(e.ID), e.Label())
		if e.Type != "" {
			line += " [" + e.Type + "]"
		}
		line += fmt.Sprintf(" @%s,%s", formatFloat(e.Position.X), formatFloat(e.Position.Y))
		for _, k := range util.SortedStringKeys(e.Properties) {
			line += fmt.Sprintf(" %s=%s", k, e.Properties[k])
		}
		fmt.Fprintln(s.out, line)
	}
	fmt.Fprintf(s.out, "connections (%d):\n", len(snap.Connections))
	for _, c := range snap.Connections {
		fmt.Fprintf(s.out, "  %s  %s\n", shortID(c.ID), s.describeConnection(c))
	}
	return nil
}

func cmdExport(ctx context.Context, s *Session, args []string) error {
	dir := s.vaultDir
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		return s.usage("export")
	}
	res, err := s.editor.ExportVault(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "exported %d note(s) to %s\n", len(res.Written), res.Dir)
	return nil
}

func cmdHelp(ctx context.Context, s *Session, args []string) error {
	names := util.SortedStringKeys(s.commands)
	for _, name := range names {
		cmd := s.commands[name]
		fmt.Fprintf(s.out, "  %-44s %s\n", cmd.usage, cmd.help)
	}
	return nil
}

func cmdQuit(ctx context.Context, s *Session, args []string) error {
	return errQuit
}

// entityRef expands a unique id prefix to the full id. Anything else is
// passed through for the editor to resolve by id or name.
func (s *Session) entityRef(ref string) string {
	snap := s.editor.Snapshot()
	ids := make([]string, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		if e.ID == ref || strings.EqualFold(e.Name, ref) {
			return ref
		}
		ids = append(ids, e.ID)
	}
	if id, err := matchID(ref, ids); err == nil {
		return id
	}
	return ref
}

func (s *Session) connectionID(ref string) (string, error) {
	conns := s.editor.Snapshot().Connections
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.ID
	}
	return matchID(ref, ids)
}

func (s *Session) describeConnection(c graph.Connection) string {
	names := make(map[string]string)
	for _, e := range s.editor.Snapshot().Entities {
		names[e.ID] = e.Label()
	}
	label := c.Label
	if label == "" {
		label = "related to"
	}
	from, to := names[c.From], names[c.To]
	if from == "" {
		from = c.From
	}
	if to == "" {
		to = c.To
	}
	return fmt.Sprintf("%s -[%s]-> %s", from, label, to)
}

// matchID resolves ref to exactly one of ids, either by equality or as a prefix.
func matchID(ref string, ids []string) (string, error) {
	var found []string
	for _, id := range ids {
		if id == ref {
			return id, nil
		}
		if ref != "" && strings.HasPrefix(id, ref) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", coreerrors.AddContext(coreerrors.New(coreerrors.CodeNotFound, "no match for id"), coreerrors.CtxEntry, ref)
	default:
		return "", coreerrors.Newf(coreerrors.CodeValidationError, "id prefix %q is ambiguous (%d matches)", ref, len(found))
	}
}

func filterHistory(view ports.HistoryView, m util.Matcher) ports.HistoryView {
	if m.String() == "" {
		return view
	}
	keep := func(in []history.Summary) []history.Summary {
		out := make([]history.Summary, 0, len(in))
		for _, s := range in {
			if m.Match(s.Description) || m.Match(string(s.Kind)) {
				out = append(out, s)
			}
		}
		return out
	}
	return ports.HistoryView{Undo: keep(view.Undo), Redo: keep(view.Redo)}
}

func summaryIDs(in []history.Summary) []string {
	ids := make([]string, len(in))
	for i, s := range in {
		ids[i] = s.ID
	}
	return ids
}

func topDescription(stack []history.Summary) string {
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1].Description
}

func parsePosition(raw string) (graph.Position, error) {
	xs, ys, ok := strings.Cut(raw, ",")
	if !ok {
		return graph.Position{}, coreerrors.Newf(coreerrors.CodeValidationError, "position %q must be x,y", raw)
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if errX != nil || errY != nil {
		return graph.Position{}, coreerrors.Newf(coreerrors.CodeValidationError, "position %q must be two numbers", raw)
	}
	return graph.Position{X: x, Y: y}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

// splitArgs splits a command line on whitespace, keeping quoted runs together.
func splitArgs(line string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	inArg := false
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}

func formatError(err error) string {
	var jerr *history.JumpError
	if errors.As(err, &jerr) {
		return fmt.Sprintf("error: %s stopped after %d of %d step(s) at %q: %v",
			jerr.Direction, jerr.Completed, jerr.Requested, jerr.Failed.Description, jerr.Err)
	}
	return "error: " + err.Error()
}
