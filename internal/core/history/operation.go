package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"graphedit/internal/engine/graph"
)

// Kind identifies the type of a recorded operation.
type Kind string

const (
	KindEntityCreate       Kind = "entity_create"
	KindEntityDelete       Kind = "entity_delete"
	KindEntityEdit         Kind = "entity_edit"
	KindConnectionCreate   Kind = "relationship_create"
	KindConnectionDelete   Kind = "relationship_delete"
	KindConnectionEdit     Kind = "relationship_edit"
	KindNodePositionChange Kind = "node_position_change"
	KindBatch              Kind = "batch_operation"
)

// Effects performs the actual mutations behind undo and redo. It is
// implemented by the layer that owns persistence and the live graph.
type Effects interface {
	CreateEntity(ctx context.Context, entity graph.Entity) error
	DeleteEntity(ctx context.Context, entityID string) error
	RestoreEntity(ctx context.Context, entity graph.Entity) error
	UpdateEntity(ctx context.Context, entity graph.Entity) error

	CreateConnection(ctx context.Context, connection graph.Connection) error
	DeleteConnection(ctx context.Context, connectionID string) error
	RestoreConnection(ctx context.Context, connection graph.Connection) error
	UpdateConnection(ctx context.Context, connection graph.Connection) error

	MoveNodes(ctx context.Context, positions map[string]graph.Position) error
}

// Operation is one reversible edit. The set of implementations is closed:
// every variant must provide both directions.
type Operation interface {
	Kind() Kind
	undo(ctx context.Context, fx Effects) error
	redo(ctx context.Context, fx Effects) error
}

// EntityCreated reverses by deleting the entity and replays by creating it again.
type EntityCreated struct {
	Entity graph.Entity
}

func (EntityCreated) Kind() Kind { return KindEntityCreate }

func (op EntityCreated) undo(ctx context.Context, fx Effects) error {
	return fx.DeleteEntity(ctx, op.Entity.ID)
}

func (op EntityCreated) redo(ctx context.Context, fx Effects) error {
	return fx.CreateEntity(ctx, op.Entity.Clone())
}

// EntityDeleted keeps the full snapshot so undo can restore it.
type EntityDeleted struct {
	Entity graph.Entity
}

func (EntityDeleted) Kind() Kind { return KindEntityDelete }

func (op EntityDeleted) undo(ctx context.Context, fx Effects) error {
	return fx.RestoreEntity(ctx, op.Entity.Clone())
}

func (op EntityDeleted) redo(ctx context.Context, fx Effects) error {
	return fx.DeleteEntity(ctx, op.Entity.ID)
}

type EntityEdited struct {
	Before graph.Entity
	After  graph.Entity
}

func (EntityEdited) Kind() Kind { return KindEntityEdit }

func (op EntityEdited) undo(ctx context.Context, fx Effects) error {
	return fx.UpdateEntity(ctx, op.Before.Clone())
}

func (op EntityEdited) redo(ctx context.Context, fx Effects) error {
	return fx.UpdateEntity(ctx, op.After.Clone())
}

type ConnectionCreated struct {
	Connection graph.Connection
}

func (ConnectionCreated) Kind() Kind { return KindConnectionCreate }

func (op ConnectionCreated) undo(ctx context.Context, fx Effects) error {
	return fx.DeleteConnection(ctx, op.Connection.ID)
}

func (op ConnectionCreated) redo(ctx context.Context, fx Effects) error {
	return fx.CreateConnection(ctx, op.Connection.Clone())
}

type ConnectionDeleted struct {
	Connection graph.Connection
}

func (ConnectionDeleted) Kind() Kind { return KindConnectionDelete }

func (op ConnectionDeleted) undo(ctx context.Context, fx Effects) error {
	return fx.RestoreConnection(ctx, op.Connection.Clone())
}

func (op ConnectionDeleted) redo(ctx context.Context, fx Effects) error {
	return fx.DeleteConnection(ctx, op.Connection.ID)
}

type ConnectionEdited struct {
	Before graph.Connection
	After  graph.Connection
}

func (ConnectionEdited) Kind() Kind { return KindConnectionEdit }

func (op ConnectionEdited) undo(ctx context.Context, fx Effects) error {
	return fx.UpdateConnection(ctx, op.Before.Clone())
}

func (op ConnectionEdited) redo(ctx context.Context, fx Effects) error {
	return fx.UpdateConnection(ctx, op.After.Clone())
}

// NodesMoved holds positions only for the nodes moved by one drag, which may
// cover several selected nodes.
type NodesMoved struct {
	Before map[string]graph.Position
	After  map[string]graph.Position
}

func (NodesMoved) Kind() Kind { return KindNodePositionChange }

func (op NodesMoved) undo(ctx context.Context, fx Effects) error {
	return fx.MoveNodes(ctx, graph.ClonePositions(op.Before))
}

func (op NodesMoved) redo(ctx context.Context, fx Effects) error {
	return fx.MoveNodes(ctx, graph.ClonePositions(op.After))
}

// Batch applies its operations as a single history step: forward in order on
// redo, in reverse on undo. A failing sub-operation rolls back the ones the
// batch already applied in that direction.
type Batch struct {
	Ops []Operation
}

func (Batch) Kind() Kind { return KindBatch }

func (op Batch) undo(ctx context.Context, fx Effects) error {
	for i := len(op.Ops) - 1; i >= 0; i-- {
		err := op.Ops[i].undo(ctx, fx)
		if err == nil {
			continue
		}
		errs := []error{op.stepError(i, err)}
		// Ops[i+1:] were undone; replay them forward.
		for j := i + 1; j < len(op.Ops); j++ {
			if cerr := op.Ops[j].redo(ctx, fx); cerr != nil {
				errs = append(errs, op.compensationError(j, cerr))
			}
		}
		return errors.Join(errs...)
	}
	return nil
}

func (op Batch) redo(ctx context.Context, fx Effects) error {
	for i, sub := range op.Ops {
		err := sub.redo(ctx, fx)
		if err == nil {
			continue
		}
		errs := []error{op.stepError(i, err)}
		// Ops[:i] were redone; undo them newest first.
		for j := i - 1; j >= 0; j-- {
			if cerr := op.Ops[j].undo(ctx, fx); cerr != nil {
				errs = append(errs, op.compensationError(j, cerr))
			}
		}
		return errors.Join(errs...)
	}
	return nil
}

func (op Batch) stepError(i int, err error) error {
	return fmt.Errorf("batch step %d (%s): %w", i, op.Ops[i].Kind(), err)
}

func (op Batch) compensationError(i int, err error) error {
	slog.Error("batch compensation failed", "step", i, "kind", op.Ops[i].Kind(), "error", err)
	return fmt.Errorf("compensate batch step %d: %w", i, err)
}

// ApplyBatch performs ops forward with the same rollback rules a recorded
// Batch uses on redo.
func ApplyBatch(ctx context.Context, fx Effects, ops ...Operation) error {
	return Batch{Ops: ops}.redo(ctx, fx)
}
