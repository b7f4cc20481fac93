package ports

import (
	"context"

	"graphedit/internal/core/history"
	"graphedit/internal/engine/graph"
)

// GraphStore abstracts persistence of the edited graph.
type GraphStore interface {
	SaveEntity(ctx context.Context, entity graph.Entity) error
	DeleteEntity(ctx context.Context, entityID string) error
	SaveConnection(ctx context.Context, connection graph.Connection) error
	DeleteConnection(ctx context.Context, connectionID string) error
	SavePositions(ctx context.Context, positions map[string]graph.Position) error
	Load(ctx context.Context) (graph.Snapshot, error)
}

// EntityEdit describes a change to an entity. Nil fields are left alone.
type EntityEdit struct {
	Name  *string
	Type  *string
	Set   map[string]string
	Unset []string
}

// ConnectionEdit describes a change to a connection. Nil fields are left alone.
type ConnectionEdit struct {
	Label *string
	Set   map[string]string
	Unset []string
}

// HistoryView is a point-in-time copy of both history stacks, oldest first.
type HistoryView struct {
	Undo []history.Summary `json:"undo"`
	Redo []history.Summary `json:"redo"`
}

// VaultExportResult lists the notes written by an export.
type VaultExportResult struct {
	Dir     string
	Written []string
}

// EditorService is the driving port the CLI, TUI and HTTP adapters talk to.
type EditorService interface {
	AddEntity(ctx context.Context, name, entityType string, props map[string]string, pos graph.Position) (graph.Entity, error)
	EditEntity(ctx context.Context, ref string, edit EntityEdit) (graph.Entity, error)
	DeleteEntity(ctx context.Context, ref string) error
	Connect(ctx context.Context, fromRef, toRef, label string) (graph.Connection, error)
	EditConnection(ctx context.Context, connectionID string, edit ConnectionEdit) (graph.Connection, error)
	Disconnect(ctx context.Context, connectionID string) error
	MoveNodes(ctx context.Context, positions map[string]graph.Position) error

	Undo(ctx context.Context) (bool, error)
	Redo(ctx context.Context) (bool, error)
	UndoTo(ctx context.Context, entryID string) (int, error)
	RedoTo(ctx context.Context, entryID string) (int, error)

	History() HistoryView
	Snapshot() graph.Snapshot
	Subscribe(fn func()) (unsubscribe func())
	ExportVault(ctx context.Context, dir string) (VaultExportResult, error)
}

// VaultExporter writes the graph out as a folder of linked markdown notes.
type VaultExporter interface {
	Export(ctx context.Context, dir string, snapshot graph.Snapshot) (VaultExportResult, error)
}
