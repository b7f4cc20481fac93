package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"graphedit/internal/core/config"
	"graphedit/internal/engine/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Paths.ProjectRoot = root
	cfg.History.MaxDepth = 5

	paths, err := config.ResolvePaths(cfg, root)
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, paths, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestApp_NewWiresEditorAndStore(t *testing.T) {
	a := newTestApp(t)
	assert.Equal(t, filepath.Join(a.Paths.DatabaseDir, "workspace.db"), a.Store.Path())

	ctx := context.Background()
	_, err := a.Editor.AddEntity(ctx, "Alice", "person", nil, graph.Position{})
	require.NoError(t, err)

	res, err := a.Editor.ExportVault(ctx, a.Paths.VaultDir)
	require.NoError(t, err)
	assert.Len(t, res.Written, 1)
}

func TestApp_ApplyConfigChangesMaxDepth(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C", "D"} {
		_, err := a.Editor.AddEntity(ctx, name, "", nil, graph.Position{})
		require.NoError(t, err)
	}

	next := config.DefaultConfig()
	next.History.MaxDepth = 2
	a.ApplyConfig(next)

	undo, _ := a.Editor.Engine().Depth()
	assert.Equal(t, 2, undo)
	assert.Equal(t, 2, a.Config.History.MaxDepth)
	assert.Equal(t, a.Paths.ProjectRoot, a.Config.Paths.ProjectRoot, "only hot-reloadable settings change")
}

func TestApp_ApplyConfigDuringJumpIsDeferred(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C", "D"} {
		_, err := a.Editor.AddEntity(ctx, name, "", nil, graph.Position{})
		require.NoError(t, err)
	}
	first := a.Editor.History().Undo[0].ID

	next := config.DefaultConfig()
	next.History.MaxDepth = 1
	var once sync.Once
	remove := a.Editor.Subscribe(func() {
		once.Do(func() { a.ApplyConfig(next) })
	})
	defer remove()

	n, err := a.Editor.UndoTo(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Empty(t, a.Editor.Snapshot().Entities)

	undo, redo := a.Editor.Engine().Depth()
	assert.Equal(t, 0, undo)
	assert.Equal(t, 4, redo)
	assert.Equal(t, 1, a.Editor.Engine().MaxDepth())
	assert.Equal(t, 1, a.Config.History.MaxDepth)
}

func TestHealthService_Check(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	_, err := a.Editor.AddEntity(ctx, "Alice", "", nil, graph.Position{})
	require.NoError(t, err)

	status := a.Health.Check(ctx)
	assert.Equal(t, "up", status.Status)
	assert.Equal(t, "ok", status.Components["store"])
	assert.Equal(t, "ok (1 entities, 0 connections)", status.Components["graph"])
	assert.Equal(t, "ok (1 undo, 0 redo)", status.Components["history"])

	require.NoError(t, a.Close(ctx))
	status = a.Health.Check(ctx)
	assert.Equal(t, "degraded", status.Status)
	assert.True(t, strings.HasPrefix(status.Components["store"], "error"))
}
