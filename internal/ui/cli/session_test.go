package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	coreapp "graphedit/internal/core/app"
	coreerrors "graphedit/internal/core/errors"
	"graphedit/internal/data/vault"
	"graphedit/internal/data/workspace"
	"graphedit/internal/engine/graph"
)

func newTestEditor(t *testing.T) *coreapp.Editor {
	t.Helper()
	store, err := workspace.Open(filepath.Join(t.TempDir(), "workspace.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ed, err := coreapp.NewEditor(context.Background(), store, coreapp.EditorOptions{
		Exporter: vault.NewExporter(nil),
	})
	if err != nil {
		t.Fatalf("new editor: %v", err)
	}
	return ed
}

func runLines(t *testing.T, s *Session, lines ...string) {
	t.Helper()
	if err := s.Run(context.Background(), strings.NewReader(strings.Join(lines, "\n")), "", true); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func entityByName(t *testing.T, snap graph.Snapshot, name string) graph.Entity {
	t.Helper()
	for _, e := range snap.Entities {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("entity %q not found", name)
	return graph.Entity{}
}

func TestSession_EditUndoRedo(t *testing.T) {
	ed := newTestEditor(t)
	var out bytes.Buffer
	s := NewSession(ed, &out, "")

	runLines(t, s,
		"# build a small graph",
		"add Alice person email=a@example.com @10,20",
		`add "Acme Corp" organization`,
		`connect Alice "Acme Corp" works at`,
		"set Alice role=engineer",
		`move Alice 5,5 "Acme Corp" 1,2`,
	)

	snap := ed.Snapshot()
	if len(snap.Entities) != 2 || len(snap.Connections) != 1 {
		t.Fatalf("expected 2 entities and 1 connection, got %d/%d", len(snap.Entities), len(snap.Connections))
	}
	alice := entityByName(t, snap, "Alice")
	if alice.Type != "person" || alice.Properties["email"] != "a@example.com" || alice.Properties["role"] != "engineer" {
		t.Fatalf("unexpected Alice: %+v", alice)
	}
	if alice.Position != (graph.Position{X: 5, Y: 5}) {
		t.Fatalf("expected Alice at 5,5, got %+v", alice.Position)
	}
	if got := snap.Connections[0].Label; got != "works at" {
		t.Fatalf("expected label %q, got %q", "works at", got)
	}
	if n := len(ed.History().Undo); n != 5 {
		t.Fatalf("expected 5 history entries, got %d", n)
	}

	runLines(t, s, "undo")
	if pos := entityByName(t, ed.Snapshot(), "Alice").Position; pos != (graph.Position{X: 10, Y: 20}) {
		t.Fatalf("undo should restore 10,20, got %+v", pos)
	}
	if !strings.Contains(out.String(), "undid: Moved 2 nodes") {
		t.Fatalf("expected undo description in output, got:\n%s", out.String())
	}

	runLines(t, s, "redo")
	if pos := entityByName(t, ed.Snapshot(), "Alice").Position; pos != (graph.Position{X: 5, Y: 5}) {
		t.Fatalf("redo should re-apply 5,5, got %+v", pos)
	}
}

func TestSession_JumpByIDPrefix(t *testing.T) {
	ed := newTestEditor(t)
	var out bytes.Buffer
	s := NewSession(ed, &out, "")
	runLines(t, s, "add A", "add B", "add C", "add D")

	undo := ed.History().Undo
	target := undo[1].ID
	runLines(t, s, "undo-to "+target[:shortIDLen])

	view := ed.History()
	if len(view.Undo) != 1 || len(view.Redo) != 3 {
		t.Fatalf("expected 1 undo / 3 redo, got %d/%d", len(view.Undo), len(view.Redo))
	}
	if len(ed.Snapshot().Entities) != 1 {
		t.Fatalf("expected only A to remain, got %+v", ed.Snapshot().Entities)
	}
	if !strings.Contains(out.String(), "undid 3 step(s)") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}

	runLines(t, s, "redo-to "+undo[2].ID)
	if n := len(ed.Snapshot().Entities); n != 3 {
		t.Fatalf("expected 3 entities after redo-to, got %d", n)
	}
}

func TestSession_DeleteIsOneStep(t *testing.T) {
	ed := newTestEditor(t)
	s := NewSession(ed, &bytes.Buffer{}, "")
	runLines(t, s, "add A", "add B", "connect A B", "delete a")

	snap := ed.Snapshot()
	if len(snap.Entities) != 1 || len(snap.Connections) != 0 {
		t.Fatalf("expected B alone, got %+v", snap)
	}

	runLines(t, s, "undo")
	snap = ed.Snapshot()
	if len(snap.Entities) != 2 || len(snap.Connections) != 1 {
		t.Fatalf("one undo should restore entity and connection, got %+v", snap)
	}
}

func TestSession_ConnectionCommands(t *testing.T) {
	ed := newTestEditor(t)
	s := NewSession(ed, &bytes.Buffer{}, "")
	runLines(t, s, "add A", "add B", "connect A B knows")

	id := ed.Snapshot().Connections[0].ID
	runLines(t, s, "relabel "+id[:shortIDLen]+" works with")
	if got := ed.Snapshot().Connections[0].Label; got != "works with" {
		t.Fatalf("expected relabel, got %q", got)
	}

	runLines(t, s, "disconnect "+id)
	if n := len(ed.Snapshot().Connections); n != 0 {
		t.Fatalf("expected no connections, got %d", n)
	}

	runLines(t, s, "undo", "undo")
	if got := ed.Snapshot().Connections[0].Label; got != "knows" {
		t.Fatalf("expected original label after two undos, got %q", got)
	}
}

func TestSession_RenameAndUnset(t *testing.T) {
	ed := newTestEditor(t)
	s := NewSession(ed, &bytes.Buffer{}, "")
	runLines(t, s, "add Bob person city=Oslo team=red", "rename Bob Robert Smith", `unset "Robert Smith" city`, `retype "robert smith" contractor`)

	e := entityByName(t, ed.Snapshot(), "Robert Smith")
	if e.Type != "contractor" {
		t.Fatalf("expected retype, got %q", e.Type)
	}
	if _, ok := e.Properties["city"]; ok || e.Properties["team"] != "red" {
		t.Fatalf("unexpected properties %+v", e.Properties)
	}

	runLines(t, s, "undo", "undo", "undo")
	e = entityByName(t, ed.Snapshot(), "Bob")
	if e.Properties["city"] != "Oslo" || e.Type != "person" {
		t.Fatalf("undo should restore the original entity, got %+v", e)
	}
}

func TestSession_HistoryFilter(t *testing.T) {
	ed := newTestEditor(t)
	var out bytes.Buffer
	s := NewSession(ed, &out, "")
	runLines(t, s, "add Alice", "add Bob", "undo")
	out.Reset()

	runLines(t, s, "history alice")
	got := out.String()
	if !strings.Contains(got, "Created entity Alice") {
		t.Fatalf("expected Alice entry, got:\n%s", got)
	}
	if strings.Contains(got, "Bob") {
		t.Fatalf("filter should hide Bob, got:\n%s", got)
	}

	out.Reset()
	runLines(t, s, "history")
	if !strings.Contains(out.String(), "redo (1, next first):") || !strings.Contains(out.String(), "Created entity Bob") {
		t.Fatalf("expected Bob on the redo stack, got:\n%s", out.String())
	}
}

func TestSession_EmptyUndoRedo(t *testing.T) {
	var out bytes.Buffer
	s := NewSession(newTestEditor(t), &out, "")
	runLines(t, s, "undo", "redo")
	if !strings.Contains(out.String(), "nothing to undo") || !strings.Contains(out.String(), "nothing to redo") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestSession_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewSession(newTestEditor(t), &bytes.Buffer{}, "")

	tests := []struct {
		line string
		code coreerrors.ErrorCode
	}{
		{"frobnicate", coreerrors.CodeValidationError},
		{"add", coreerrors.CodeValidationError},
		{"add X @1", coreerrors.CodeValidationError},
		{`add "unterminated`, coreerrors.CodeValidationError},
		{"move X", coreerrors.CodeValidationError},
		{"undo-to nope", coreerrors.CodeNotFound},
		{"disconnect nope", coreerrors.CodeNotFound},
		{"delete Nobody", coreerrors.CodeNotFound},
		{"export", coreerrors.CodeValidationError},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := s.Execute(ctx, tt.line)
			if !coreerrors.IsCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestSession_RunModes(t *testing.T) {
	ctx := context.Background()
	script := "add A\nbogus\nadd B\nquit\nadd C\n"

	t.Run("strict stops at first error", func(t *testing.T) {
		ed := newTestEditor(t)
		err := NewSession(ed, &bytes.Buffer{}, "").Run(ctx, strings.NewReader(script), "", true)
		if err == nil || !strings.Contains(err.Error(), "line 2") {
			t.Fatalf("expected line 2 error, got %v", err)
		}
		if n := len(ed.Snapshot().Entities); n != 1 {
			t.Fatalf("expected 1 entity, got %d", n)
		}
	})

	t.Run("interactive reports and continues until quit", func(t *testing.T) {
		ed := newTestEditor(t)
		var out bytes.Buffer
		if err := NewSession(ed, &out, "").Run(ctx, strings.NewReader(script), "", false); err != nil {
			t.Fatalf("run: %v", err)
		}
		if !strings.Contains(out.String(), "error: ") {
			t.Fatalf("expected error line, got:\n%s", out.String())
		}
		if n := len(ed.Snapshot().Entities); n != 2 {
			t.Fatalf("expected 2 entities, got %d", n)
		}
	})
}

func TestSession_Export(t *testing.T) {
	ed := newTestEditor(t)
	dir := t.TempDir()
	var out bytes.Buffer
	s := NewSession(ed, &out, dir)
	runLines(t, s, "add Alice", "add Bob", "connect Alice Bob knows", "export")

	data, err := os.ReadFile(filepath.Join(dir, "Alice.md"))
	if err != nil {
		t.Fatalf("read note: %v", err)
	}
	if !strings.Contains(string(data), "[[Bob]]") {
		t.Fatalf("expected link to Bob, got:\n%s", data)
	}
	if !strings.Contains(out.String(), "exported 2 note(s)") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"add A", []string{"add", "A"}},
		{`add "Acme Corp" org`, []string{"add", "Acme Corp", "org"}},
		{"connect  'A B'\tC", []string{"connect", "A B", "C"}},
		{`set A note=""`, []string{"set", "A", "note="}},
		{`add ""`, []string{"add", ""}},
	}
	for _, tt := range tests {
		got, err := splitArgs(tt.in)
		if err != nil {
			t.Fatalf("splitArgs(%q): %v", tt.in, err)
		}
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Fatalf("splitArgs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := splitArgs(`add "x`); err == nil {
		t.Fatal("expected unterminated quote error")
	}
}

func TestMatchID(t *testing.T) {
	ids := []string{"abc123", "abd456", "xyz"}
	if got, err := matchID("abc", ids); err != nil || got != "abc123" {
		t.Fatalf("prefix match: %q %v", got, err)
	}
	if _, err := matchID("ab", ids); !coreerrors.IsCode(err, coreerrors.CodeValidationError) {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
	if _, err := matchID("q", ids); !coreerrors.IsCode(err, coreerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
