package workspace

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	coreerrors "graphedit/internal/core/errors"
	"graphedit/internal/engine/graph"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "workspace.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	ts := time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)

	alice := graph.Entity{
		ID:         "a",
		Name:       "Alice",
		Type:       "person",
		Properties: map[string]string{"email": "alice@example.com"},
		Position:   graph.Position{X: 10, Y: -4.5},
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
	acme := graph.Entity{ID: "b", Name: "Acme", Type: "organization", CreatedAt: ts, UpdatedAt: ts}
	works := graph.Connection{ID: "c", From: "a", To: "b", Label: "works at", CreatedAt: ts, UpdatedAt: ts}

	for _, e := range []graph.Entity{alice, acme} {
		if err := store.SaveEntity(ctx, e); err != nil {
			t.Fatalf("save entity %s: %v", e.ID, err)
		}
	}
	if err := store.SaveConnection(ctx, works); err != nil {
		t.Fatalf("save connection: %v", err)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Entities) != 2 || len(snap.Connections) != 1 {
		t.Fatalf("unexpected snapshot sizes: %+v", snap)
	}
	// Sorted by name.
	if snap.Entities[0].Name != "Acme" {
		t.Fatalf("expected Acme first, got %q", snap.Entities[0].Name)
	}
	got := snap.Entities[1]
	if got.Properties["email"] != "alice@example.com" || got.Position.Y != -4.5 || !got.CreatedAt.Equal(ts) {
		t.Fatalf("entity did not roundtrip: %+v", got)
	}
	if snap.Connections[0].Label != "works at" {
		t.Fatalf("connection did not roundtrip: %+v", snap.Connections[0])
	}

	alice.Name = "Alice Smith"
	if err := store.SaveEntity(ctx, alice); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}
	snap, _ = store.Load(ctx)
	if len(snap.Entities) != 2 || snap.Entities[1].Name != "Alice Smith" {
		t.Fatalf("expected upsert in place, got %+v", snap.Entities)
	}
}

func TestStore_DeleteEntityWithConnectionsFails(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	store.SaveEntity(ctx, graph.Entity{ID: "a", Name: "A"})
	store.SaveEntity(ctx, graph.Entity{ID: "b", Name: "B"})
	store.SaveConnection(ctx, graph.Connection{ID: "c", From: "a", To: "b"})

	if err := store.DeleteEntity(ctx, "a"); err == nil {
		t.Fatal("expected foreign key violation")
	}
	if err := store.DeleteConnection(ctx, "c"); err != nil {
		t.Fatalf("delete connection: %v", err)
	}
	if err := store.DeleteEntity(ctx, "a"); err != nil {
		t.Fatalf("delete entity: %v", err)
	}
}

func TestStore_DeleteMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	err := store.DeleteEntity(ctx, "ghost")
	if !coreerrors.IsCode(err, coreerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	err = store.DeleteConnection(ctx, "ghost")
	if !coreerrors.IsCode(err, coreerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for connection, got %v", err)
	}
}

func TestStore_SavePositionsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	store.SaveEntity(ctx, graph.Entity{ID: "a", Name: "A"})
	store.SaveEntity(ctx, graph.Entity{ID: "b", Name: "B"})

	err := store.SavePositions(ctx, map[string]graph.Position{
		"a":       {X: 1, Y: 1},
		"missing": {X: 2, Y: 2},
	})
	if !coreerrors.IsCode(err, coreerrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	snap, _ := store.Load(ctx)
	for _, e := range snap.Entities {
		if e.Position != (graph.Position{}) {
			t.Fatalf("expected rollback, %s moved to %+v", e.ID, e.Position)
		}
	}

	if err := store.SavePositions(ctx, map[string]graph.Position{"a": {X: 3}, "b": {Y: 7}}); err != nil {
		t.Fatalf("save positions: %v", err)
	}
	snap, _ = store.Load(ctx)
	if snap.Entities[0].Position.X != 3 || snap.Entities[1].Position.Y != 7 {
		t.Fatalf("positions not saved: %+v", snap.Entities)
	}
}

func TestStore_OpenRejectsDirectoryPath(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Fatal("expected open error for directory path")
	}
	if !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStore_OpenCorruptDBPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.db")
	if err := os.WriteFile(path, []byte("this is not sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if err == nil {
		t.Fatal("expected sqlite open error")
	}
	lower := strings.ToLower(err.Error())
	if !strings.Contains(lower, "not a database") && !strings.Contains(lower, "schema") {
		t.Fatalf("expected schema/open error, got: %v", err)
	}
}

func TestEnsureSchema_DetectsNewerVersionDrift(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.db.Exec(`INSERT OR REPLACE INTO schema_migrations(version) VALUES (?)`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open(driverName, "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	err = EnsureSchema(db)
	if err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("expected drift error, got %v", err)
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "workspace.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveEntity(ctx, graph.Entity{ID: "a", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	snap, err := store.Load(ctx)
	if err != nil || len(snap.Entities) != 1 {
		t.Fatalf("expected persisted entity, got %+v err=%v", snap, err)
	}
}

func TestIsCorruptError(t *testing.T) {
	if !IsCorruptError(errors.New("database disk image is malformed")) {
		t.Fatal("expected malformed sqlite message to be treated as corrupt")
	}
	if IsCorruptError(nil) {
		t.Fatal("nil is not corrupt")
	}
}

func TestStore_InMemory(t *testing.T) {
	ctx := context.Background()
	store, err := OpenWithOptions(MemoryPath, Options{BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer store.Close()

	if err := store.SaveEntity(ctx, graph.Entity{ID: "a", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	snap, err := store.Load(ctx)
	if err != nil || len(snap.Entities) != 1 {
		t.Fatalf("expected entity in memory store, got %+v err=%v", snap, err)
	}
}
