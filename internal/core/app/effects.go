package app

import (
	"context"

	"graphedit/internal/core/history"
	"graphedit/internal/core/ports"
	"graphedit/internal/engine/graph"
)

// effects applies every change to the store first and then to the live
// graph, so a failed write leaves the graph untouched. Forward edits and
// history replays share it.
type effects struct {
	store ports.GraphStore
	graph *graph.Graph
}

var _ history.Effects = (*effects)(nil)

func (fx *effects) CreateEntity(ctx context.Context, e graph.Entity) error {
	if err := fx.store.SaveEntity(ctx, e); err != nil {
		return err
	}
	return fx.graph.PutEntity(e)
}

func (fx *effects) DeleteEntity(ctx context.Context, id string) error {
	if err := fx.store.DeleteEntity(ctx, id); err != nil {
		return err
	}
	return fx.graph.RemoveEntity(id)
}

func (fx *effects) RestoreEntity(ctx context.Context, e graph.Entity) error {
	return fx.CreateEntity(ctx, e)
}

func (fx *effects) UpdateEntity(ctx context.Context, e graph.Entity) error {
	return fx.CreateEntity(ctx, e)
}

func (fx *effects) CreateConnection(ctx context.Context, c graph.Connection) error {
	if err := fx.store.SaveConnection(ctx, c); err != nil {
		return err
	}
	return fx.graph.PutConnection(c)
}

func (fx *effects) DeleteConnection(ctx context.Context, id string) error {
	if err := fx.store.DeleteConnection(ctx, id); err != nil {
		return err
	}
	return fx.graph.RemoveConnection(id)
}

func (fx *effects) RestoreConnection(ctx context.Context, c graph.Connection) error {
	return fx.CreateConnection(ctx, c)
}

func (fx *effects) UpdateConnection(ctx context.Context, c graph.Connection) error {
	return fx.CreateConnection(ctx, c)
}

func (fx *effects) MoveNodes(ctx context.Context, positions map[string]graph.Position) error {
	if err := fx.store.SavePositions(ctx, positions); err != nil {
		return err
	}
	return fx.graph.SetPositions(positions)
}
