package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	coreerrors "graphedit/internal/core/errors"
	"graphedit/internal/core/history"
	"graphedit/internal/core/ports"
	"graphedit/internal/engine/graph"
	"graphedit/internal/shared/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EditorOptions configures NewEditor.
type EditorOptions struct {
	MaxDepth int
	Logger   *slog.Logger
	Exporter ports.VaultExporter
	Now      func() time.Time
	NewID    func() string
}

// Editor owns one editing session: it applies edits to the store and the
// live graph and records each one in the history engine.
type Editor struct {
	graph    *graph.Graph
	fx       *effects
	history  *history.Engine
	exporter ports.VaultExporter
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	busy atomic.Bool
}

var _ ports.EditorService = (*Editor)(nil)

// NewEditor loads the current graph from store and starts an empty history.
func NewEditor(ctx context.Context, store ports.GraphStore, opts EditorOptions) (*Editor, error) {
	if store == nil {
		return nil, coreerrors.New(coreerrors.CodeValidationError, "graph store is required")
	}
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	g := graph.NewGraph()
	if err := g.Load(snap); err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	ed := &Editor{
		graph:    g,
		fx:       &effects{store: store, graph: g},
		exporter: opts.Exporter,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if ed.logger == nil {
		ed.logger = slog.Default()
	}
	if ed.now == nil {
		ed.now = func() time.Time { return time.Now().UTC() }
	}
	if ed.newID == nil {
		ed.newID = uuid.NewString
	}
	ed.history = history.New(ed.fx, history.Options{MaxDepth: opts.MaxDepth, Logger: ed.logger})

	ed.logger.Info("workspace loaded", "entities", len(snap.Entities), "connections", len(snap.Connections))
	return ed, nil
}

// Engine exposes the underlying history engine for adapters that need more than HistoryView.
func (ed *Editor) Engine() *history.Engine {
	return ed.history
}

func (ed *Editor) Graph() *graph.Graph {
	return ed.graph
}

// begin guards forward edits; an edit that arrives while another edit or a
// history step is running is rejected rather than interleaved.
func (ed *Editor) begin(ctx context.Context, op string) (context.Context, func(), error) {
	if err := ctx.Err(); err != nil {
		return ctx, nil, err
	}
	if ed.history.Busy() || !ed.busy.CompareAndSwap(false, true) {
		return ctx, nil, coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeConflict, "another edit is in progress"),
			coreerrors.CtxOperation, op,
		)
	}
	ctx, span := observability.Tracer.Start(ctx, "editor."+op)
	return ctx, func() {
		span.End()
		ed.busy.Store(false)
	}, nil
}

func (ed *Editor) record(entry history.Entry, err error) error {
	if err != nil {
		ed.logger.Error("edit applied but not recorded", "error", err)
		return err
	}
	ed.logger.Debug("edit recorded", "entry", entry.ID, "kind", entry.Kind, "description", entry.Description)
	return nil
}

func (ed *Editor) resolveEntity(ref string) (graph.Entity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return graph.Entity{}, coreerrors.New(coreerrors.CodeValidationError, "entity reference must not be empty")
	}
	e, ok := ed.graph.FindEntity(ref)
	if !ok {
		return graph.Entity{}, coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeNotFound, "entity not found"),
			coreerrors.CtxEntity, ref,
		)
	}
	return e, nil
}

func (ed *Editor) resolveConnection(id string) (graph.Connection, error) {
	c, ok := ed.graph.Connection(strings.TrimSpace(id))
	if !ok {
		return graph.Connection{}, coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeNotFound, "connection not found"),
			coreerrors.CtxEntity, id,
		)
	}
	return c, nil
}

func (ed *Editor) AddEntity(ctx context.Context, name, entityType string, props map[string]string, pos graph.Position) (graph.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return graph.Entity{}, coreerrors.New(coreerrors.CodeValidationError, "entity name must not be empty")
	}
	ctx, done, err := ed.begin(ctx, "add_entity")
	if err != nil {
		return graph.Entity{}, err
	}
	defer done()

	now := ed.now()
	e := graph.Entity{
		ID:         ed.newID(),
		Name:       name,
		Type:       strings.TrimSpace(entityType),
		Properties: maps.Clone(props),
		Position:   pos,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := ed.fx.CreateEntity(ctx, e); err != nil {
		return graph.Entity{}, err
	}
	return e, ed.record(ed.history.RecordEntityCreate(e))
}

func (ed *Editor) EditEntity(ctx context.Context, ref string, edit ports.EntityEdit) (graph.Entity, error) {
	ctx, done, err := ed.begin(ctx, "edit_entity")
	if err != nil {
		return graph.Entity{}, err
	}
	defer done()

	before, err := ed.resolveEntity(ref)
	if err != nil {
		return graph.Entity{}, err
	}
	after := before.Clone()
	if edit.Name != nil {
		name := strings.TrimSpace(*edit.Name)
		if name == "" {
			return graph.Entity{}, coreerrors.New(coreerrors.CodeValidationError, "entity name must not be empty")
		}
		after.Name = name
	}
	if edit.Type != nil {
		after.Type = strings.TrimSpace(*edit.Type)
	}
	after.Properties = applyProperties(after.Properties, edit.Set, edit.Unset)

	if sameEntity(before, after) {
		return before, nil
	}
	after.UpdatedAt = ed.now()
	if err := ed.fx.UpdateEntity(ctx, after); err != nil {
		return graph.Entity{}, err
	}
	return after, ed.record(ed.history.RecordEntityEdit(before, after))
}

// DeleteEntity removes an entity together with its connections as one
// undoable step.
func (ed *Editor) DeleteEntity(ctx context.Context, ref string) error {
	ctx, done, err := ed.begin(ctx, "delete_entity")
	if err != nil {
		return err
	}
	defer done()

	entity, err := ed.resolveEntity(ref)
	if err != nil {
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("entity.id", entity.ID))

	conns := ed.graph.ConnectionsOf(entity.ID)
	if len(conns) == 0 {
		if err := ed.fx.DeleteEntity(ctx, entity.ID); err != nil {
			return err
		}
		return ed.record(ed.history.RecordEntityDelete(entity))
	}

	ops := make([]history.Operation, 0, len(conns)+1)
	for _, c := range conns {
		ops = append(ops, history.ConnectionDeleted{Connection: c})
	}
	ops = append(ops, history.EntityDeleted{Entity: entity})

	// Apply through the same batch the history will replay, so a failure
	// part way restores the connections already removed.
	if err := history.ApplyBatch(ctx, ed.fx, ops...); err != nil {
		return err
	}
	description := fmt.Sprintf("Deleted entity %s and %d relationship(s)", entity.Label(), len(conns))
	return ed.record(ed.history.RecordBatch(description, ops...))
}

func (ed *Editor) Connect(ctx context.Context, fromRef, toRef, label string) (graph.Connection, error) {
	ctx, done, err := ed.begin(ctx, "connect")
	if err != nil {
		return graph.Connection{}, err
	}
	defer done()

	from, err := ed.resolveEntity(fromRef)
	if err != nil {
		return graph.Connection{}, err
	}
	to, err := ed.resolveEntity(toRef)
	if err != nil {
		return graph.Connection{}, err
	}

	now := ed.now()
	c := graph.Connection{
		ID:        ed.newID(),
		From:      from.ID,
		To:        to.ID,
		Label:     strings.TrimSpace(label),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ed.fx.CreateConnection(ctx, c); err != nil {
		return graph.Connection{}, err
	}
	return c, ed.record(ed.history.RecordConnectionCreate(c))
}

func (ed *Editor) EditConnection(ctx context.Context, connectionID string, edit ports.ConnectionEdit) (graph.Connection, error) {
	ctx, done, err := ed.begin(ctx, "edit_connection")
	if err != nil {
		return graph.Connection{}, err
	}
	defer done()

	before, err := ed.resolveConnection(connectionID)
	if err != nil {
		return graph.Connection{}, err
	}
	after := before.Clone()
	if edit.Label != nil {
		after.Label = strings.TrimSpace(*edit.Label)
	}
	after.Properties = applyProperties(after.Properties, edit.Set, edit.Unset)
	if before.Label == after.Label && maps.Equal(before.Properties, after.Properties) {
		return before, nil
	}

	after.UpdatedAt = ed.now()
	if err := ed.fx.UpdateConnection(ctx, after); err != nil {
		return graph.Connection{}, err
	}
	return after, ed.record(ed.history.RecordConnectionEdit(before, after))
}

func (ed *Editor) Disconnect(ctx context.Context, connectionID string) error {
	ctx, done, err := ed.begin(ctx, "disconnect")
	if err != nil {
		return err
	}
	defer done()

	c, err := ed.resolveConnection(connectionID)
	if err != nil {
		return err
	}
	if err := ed.fx.DeleteConnection(ctx, c.ID); err != nil {
		return err
	}
	return ed.record(ed.history.RecordConnectionDelete(c))
}

// MoveNodes moves one or more entities and records the whole move as one
// entry. Keys may be ids or names.
func (ed *Editor) MoveNodes(ctx context.Context, positions map[string]graph.Position) error {
	if len(positions) == 0 {
		return coreerrors.New(coreerrors.CodeValidationError, "no positions given")
	}
	ctx, done, err := ed.begin(ctx, "move_nodes")
	if err != nil {
		return err
	}
	defer done()

	after := make(map[string]graph.Position, len(positions))
	for ref, pos := range positions {
		e, err := ed.resolveEntity(ref)
		if err != nil {
			return err
		}
		after[e.ID] = pos
	}
	before := ed.graph.Positions(slices.Collect(maps.Keys(after))...)
	if maps.Equal(before, after) {
		return nil
	}
	if err := ed.fx.MoveNodes(ctx, after); err != nil {
		return err
	}
	return ed.record(ed.history.RecordNodePositions(before, after))
}

func (ed *Editor) Undo(ctx context.Context) (bool, error) {
	ctx, done, err := ed.begin(ctx, "undo")
	if err != nil {
		return false, err
	}
	defer done()
	return ed.history.Undo(ctx)
}

func (ed *Editor) Redo(ctx context.Context) (bool, error) {
	ctx, done, err := ed.begin(ctx, "redo")
	if err != nil {
		return false, err
	}
	defer done()
	return ed.history.Redo(ctx)
}

func (ed *Editor) UndoTo(ctx context.Context, entryID string) (int, error) {
	ctx, done, err := ed.begin(ctx, "undo_to")
	if err != nil {
		return 0, err
	}
	defer done()
	return ed.history.UndoTo(ctx, entryID)
}

func (ed *Editor) RedoTo(ctx context.Context, entryID string) (int, error) {
	ctx, done, err := ed.begin(ctx, "redo_to")
	if err != nil {
		return 0, err
	}
	defer done()
	return ed.history.RedoTo(ctx, entryID)
}

func (ed *Editor) History() ports.HistoryView {
	return ports.HistoryView{
		Undo: ed.history.UndoEntries(),
		Redo: ed.history.RedoEntries(),
	}
}

func (ed *Editor) Snapshot() graph.Snapshot {
	return ed.graph.Snapshot()
}

// Subscribe registers fn for every history change.
func (ed *Editor) Subscribe(fn func()) func() {
	return ed.history.AddListener(fn)
}

func (ed *Editor) ExportVault(ctx context.Context, dir string) (ports.VaultExportResult, error) {
	if ed.exporter == nil {
		return ports.VaultExportResult{}, coreerrors.New(coreerrors.CodeValidationError, "vault export is not configured")
	}
	ctx, span := observability.Tracer.Start(ctx, "editor.export_vault")
	defer span.End()
	return ed.exporter.Export(ctx, dir, ed.graph.Snapshot())
}

func applyProperties(props, set map[string]string, unset []string) map[string]string {
	if len(set) == 0 && len(unset) == 0 {
		return props
	}
	out := maps.Clone(props)
	if out == nil {
		out = make(map[string]string, len(set))
	}
	maps.Copy(out, set)
	for _, key := range unset {
		delete(out, key)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sameEntity(a, b graph.Entity) bool {
	return a.Name == b.Name && a.Type == b.Type && maps.Equal(a.Properties, b.Properties)
}
