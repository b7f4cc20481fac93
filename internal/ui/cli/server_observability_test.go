package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	coreapp "graphedit/internal/core/app"
	"graphedit/internal/core/config"
	"graphedit/internal/core/ports"
	"graphedit/internal/engine/graph"
	"graphedit/internal/shared/util"
)

func newTestServer(t *testing.T, limiters *util.LimiterRegistry, metrics bool) (*ObservabilityServer, *coreapp.App) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DB.Path = config.MemoryDBPath
	paths, err := config.ResolvePaths(cfg, t.TempDir())
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}
	a, err := coreapp.New(context.Background(), cfg, paths, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	if limiters != nil {
		t.Cleanup(limiters.Close)
	}
	return NewObservabilityServer("", a.Health, a.Editor, limiters, metrics), a
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestObservabilityServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, nil, false)
	rec := get(srv.Handler(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var status coreapp.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "up" || status.Components["store"] != "ok" {
		t.Fatalf("unexpected health %+v", status)
	}
}

func TestObservabilityServer_History(t *testing.T) {
	srv, a := newTestServer(t, nil, false)
	ctx := context.Background()
	for _, name := range []string{"Alice", "Bob"} {
		if _, err := a.Editor.AddEntity(ctx, name, "", nil, graph.Position{}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if _, err := a.Editor.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}

	rec := get(srv.Handler(), "/history")
	var view ports.HistoryView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Undo) != 1 || len(view.Redo) != 1 {
		t.Fatalf("expected 1/1, got %+v", view)
	}
	if view.Redo[0].Description != "Created entity Bob" || view.Redo[0].Kind != "entity_create" {
		t.Fatalf("unexpected redo entry %+v", view.Redo[0])
	}

	rec = get(srv.Handler(), "/history?match=ALICE")
	view = ports.HistoryView{}
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Undo) != 1 || len(view.Redo) != 0 {
		t.Fatalf("filter should keep only Alice, got %+v", view)
	}

	if rec := get(srv.Handler(), "/history?match=%5B"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad pattern, got %d", rec.Code)
	}

	post := httptest.NewRecorder()
	srv.Handler().ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/history", nil))
	if post.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", post.Code)
	}
}

func TestObservabilityServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t, nil, true)
	rec := get(srv.Handler(), "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "graphedit_history_undo_depth") {
		t.Fatalf("expected history metrics, got %d", rec.Code)
	}

	off, _ := newTestServer(t, nil, false)
	if rec := get(off.Handler(), "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics should be off, got %d", rec.Code)
	}
}

func TestObservabilityServer_RateLimit(t *testing.T) {
	srv, _ := newTestServer(t, util.NewLimiterRegistry(0.01, 1, time.Minute), false)
	h := srv.Handler()

	if rec := get(h, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	rec := get(h, "/health")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	other := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	h.ServeHTTP(other, req)
	if other.Code != http.StatusOK {
		t.Fatalf("other clients have their own budget, got %d", other.Code)
	}
}
